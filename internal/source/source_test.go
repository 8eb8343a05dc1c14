package source

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDesign = `export default () => (
  <board width="20mm" height="20mm">
    {/* regulator */}
    <chip name="U1" footprint="soic8" pinLabels={{ pin1: "VCC", pin2: ["OUT", "DOUT"], "pin 3": "GND" }}
          connections={{ VCC: "net.V3_3", OUT: "net.SIG" }} pcbX={0} pcbY={-2.5} />
    <resistor name="R1" resistance="10k" footprint="0402" connections={{ pin1: "net.SIG" }} />
    <led name="D1" />
    // <trace from=".X > .Y" to=".Z > .W" />
    <trace from=".U1 > .OUT" to=".R1 > .pin1" />
    <trace path={[".D1 > .anode", "net.GND"]} />
  </board>
)
`

// ---------------------------------------------------------------------------
// Parse
// ---------------------------------------------------------------------------

func TestParse_Elements(t *testing.T) {
	doc := Parse(sampleDesign)
	require.Empty(t, doc.Problems)

	var tags []string
	for _, el := range doc.Elements {
		tags = append(tags, el.Tag)
	}
	assert.Equal(t, []string{"board", "chip", "resistor", "led", "trace", "trace"}, tags)

	chip := doc.Elements[1]
	assert.Equal(t, 4, chip.Line)
	assert.True(t, chip.SelfClosing)

	fp, ok := chip.Attr("footprint")
	require.True(t, ok)
	assert.Equal(t, AttrString, fp.Kind)
	assert.Equal(t, "soic8", fp.Text())
	assert.Equal(t, `"soic8"`, sampleDesign[fp.ValueStart:fp.ValueEnd])

	y, ok := chip.Attr("pcbY")
	require.True(t, ok)
	assert.Equal(t, AttrExpr, y.Kind)
	assert.Equal(t, "-2.5", y.Text())

	closing, ok := doc.Closing("board")
	require.True(t, ok)
	assert.Equal(t, 11, closing.Line)
}

func TestParse_RecordsProblems(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"unterminated element", `<chip name="U1"`, "unterminated element <chip"},
		{"unterminated string", `<chip name="U1 />`, "unterminated string"},
		{"unbalanced braces", `<chip connections={{ a: "b" } />`, "unbalanced braces"},
		{"unterminated comment", "/* open\n<chip />", "unterminated block comment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Parse(tt.text)
			require.NotEmpty(t, doc.Problems)
			assert.Contains(t, doc.Problems[0].Message, tt.want)
			assert.Equal(t, 1, doc.Problems[0].Line)
		})
	}
}

const tsPreamble = `import { useMemo } from "react"

type NetMap = Record<string, string>
const nets: Record<string, string> = { vcc: "net.V3_3" }
const label = "a<b and x < y"
const tmpl = ` + "`<chip name=\"X9\" />`" + `
function count(xs: Array<number>): number {
  let n = 0
  for (let i = 0; i<xs.length; i++) { if (xs[i] < 10) n++ }
  return n
}
const f = (x: number) => x<count([1]) ? <led name="D7" /> : null
`

func TestParse_TypeScriptPreamble(t *testing.T) {
	doc := Parse(tsPreamble + sampleDesign)
	require.Empty(t, doc.Problems)

	var tags []string
	for _, el := range doc.Elements {
		tags = append(tags, el.Tag)
	}
	assert.Equal(t, []string{"led", "board", "chip", "resistor", "led", "trace", "trace"}, tags)
	assert.NotContains(t, doc.ComponentIndex(), "X9")
}

func TestParse_ElementPositions(t *testing.T) {
	tests := []struct {
		name string
		text string
		tags []string
	}{
		{"return", "function B() {\n  return <board><chip name=\"U1\" /></board>\n}", []string{"board", "chip"}},
		{"conditional", "const x = ok && <led name=\"D1\" />", []string{"led"}},
		{"comment between tags", "<chip name=\"U1\" />\n// spare\n<chip name=\"U2\" />", []string{"chip", "chip"}},
		{"expression child", "<board>{parts.map(p => <chip name={p} />)}</board>", []string{"board", "chip"}},
		{"comparison", "if (a<b) { x = a }", nil},
		{"member keyword", "const r = obj.return<b", nil},
		{"resync after broken tag", "<chip name=\"U1\"\n<chip name=\"U2\" />", []string{"chip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Parse(tt.text)
			var tags []string
			for _, el := range doc.Elements {
				tags = append(tags, el.Tag)
			}
			assert.Equal(t, tt.tags, tags)
		})
	}
}

func TestParse_BareAttribute(t *testing.T) {
	doc := Parse(`<chip name=U1 doNotPlace />`)
	require.Len(t, doc.Elements, 1)
	name, _ := doc.Elements[0].Attr("name")
	assert.Equal(t, "U1", name.Text())
	flag, ok := doc.Elements[0].Attr("doNotPlace")
	require.True(t, ok)
	assert.Equal(t, AttrBare, flag.Kind)
	assert.Equal(t, "true", flag.Value)
}

// ---------------------------------------------------------------------------
// Object literals
// ---------------------------------------------------------------------------

func TestParseObject(t *testing.T) {
	pairs, err := ParseObject(`{ pin1: "VCC", "pin 2": ['OUT', "DOUT"], GND: net.GND, nested: { a: 1 }, }`)
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{Key: "pin1", Values: []string{"VCC"}},
		{Key: "pin 2", Values: []string{"OUT", "DOUT"}},
		{Key: "GND", Values: []string{"net.GND"}},
		{Key: "nested"},
	}, pairs)
}

func TestParseObject_Errors(t *testing.T) {
	for _, expr := range []string{`pin1: "a"`, `{ pin1 "a" }`, `{ pin1: "a"`, `{ [k]: "a" }`} {
		_, err := ParseObject(expr)
		assert.Error(t, err, expr)
	}
}

// ---------------------------------------------------------------------------
// Selectors
// ---------------------------------------------------------------------------

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		ref     string
		want    Endpoint
		wantErr string
	}{
		{ref: ".U1 > .OUT", want: Endpoint{Raw: ".U1 > .OUT", Component: "U1", Pin: "OUT"}},
		{ref: ".U1>.OUT", want: Endpoint{Raw: ".U1>.OUT", Component: "U1", Pin: "OUT"}},
		{ref: "net.GND", want: Endpoint{Raw: "net.GND", IsNet: true, Net: "GND"}},
		{ref: ".U1 .OUT", wantErr: "missing '>'"},
		{ref: "", wantErr: "empty reference"},
		{ref: ".U1 > ", wantErr: "pin selector"},
		{ref: "U1 > .OUT", wantErr: "must start with '.'"},
		{ref: ".U1 > .A > .B", wantErr: "more than one"},
		{ref: "net.", wantErr: "malformed net"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseEndpoint(tt.ref)
			if tt.wantErr != "" {
				var se *SelectorError
				require.True(t, errors.As(err, &se))
				assert.Contains(t, se.Reason, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpoint_String(t *testing.T) {
	ep, err := ParseEndpoint(" .U1>.OUT ")
	require.NoError(t, err)
	assert.Equal(t, ".U1 > .OUT", ep.String())
	assert.Equal(t, ".R1 > .pin1", PinSelector("R1", "pin1"))
}

// ---------------------------------------------------------------------------
// Components and traces
// ---------------------------------------------------------------------------

func TestDocument_Components(t *testing.T) {
	comps := Parse(sampleDesign).Components()
	require.Len(t, comps, 3)

	u1 := comps[0]
	assert.Equal(t, "U1", u1.Name)
	assert.Equal(t, "chip", u1.Kind)
	assert.Equal(t, 0, u1.Index)
	assert.Equal(t, "soic8", u1.Footprint())
	assert.Equal(t, []NetIntent{{Pin: "VCC", Net: "V3_3"}, {Pin: "OUT", Net: "SIG"}}, u1.NetIntents())
	assert.Equal(t, []string{"pin1", "VCC", "pin2", "OUT", "DOUT", "pin 3", "GND"}, u1.PinOrder())

	x, y, ok := u1.Position()
	require.True(t, ok)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, -2.5, y)

	assert.Equal(t, "10k", comps[1].Value())
	_, _, ok = comps[2].Position()
	assert.False(t, ok)
}

func TestComponent_KnownPins(t *testing.T) {
	idx := Parse(strings.Replace(sampleDesign, "  </board>", `    <chip name="U9" />
  </board>`, 1)).ComponentIndex()
	require.Contains(t, idx, "U9")

	tests := []struct {
		comp   string
		pin    string
		has    bool
		knowOK bool
	}{
		{"U1", "OUT", true, true},
		{"U1", "dout", true, true},
		{"U1", "pin2", true, true},
		{"U1", "EN", false, true},
		{"D1", "anode", true, true},
		{"D1", "cathode", true, true},
		{"D1", "gate", false, true},
		{"R1", "left", true, true},
		{"U9", "anything", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.comp+"."+tt.pin, func(t *testing.T) {
			has, ok := idx[tt.comp].HasPin(tt.pin)
			assert.Equal(t, tt.knowOK, ok)
			assert.Equal(t, tt.has, has)
		})
	}
}

func TestDocument_Traces(t *testing.T) {
	traces := Parse(sampleDesign).Traces()
	require.Len(t, traces, 2)

	assert.True(t, traces[0].Complete())
	assert.Equal(t, []string{".U1 > .OUT", ".R1 > .pin1"}, traces[0].Endpoints())
	assert.Equal(t, `from=".U1 > .OUT" to=".R1 > .pin1"`, traces[0].Describe())

	assert.True(t, traces[1].HasPath)
	assert.Equal(t, []string{".D1 > .anode", "net.GND"}, traces[1].Endpoints())
	assert.Equal(t, 10, traces[1].Line)

	partial := Parse(`<trace from=".U1 > .OUT" />`).Traces()
	require.Len(t, partial, 1)
	assert.False(t, partial[0].Complete())
	assert.False(t, partial[0].HasTo)
}

func TestParseLength(t *testing.T) {
	v, err := ParseLength(" 2.5mm ")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	_, err = ParseLength("wide")
	assert.Error(t, err)
	assert.Equal(t, "3.75", FormatLength(3.75))
	assert.Equal(t, "-3", FormatLength(-3))
}

// ---------------------------------------------------------------------------
// Rewrite
// ---------------------------------------------------------------------------

func TestRewrite(t *testing.T) {
	out, err := Rewrite("abcdef", []Edit{
		{Start: 4, End: 6, Text: "XY"},
		{Start: 0, End: 1, Text: ""},
		{Start: 2, End: 2, Text: "+"},
	})
	require.NoError(t, err)
	assert.Equal(t, "b+cdXY", out)

	_, err = Rewrite("abcdef", []Edit{{Start: 1, End: 4}, {Start: 3, End: 5}})
	assert.ErrorContains(t, err, "overlap")

	_, err = Rewrite("abc", []Edit{{Start: 2, End: 9}})
	assert.ErrorContains(t, err, "out of range")
}

func TestDocument_RemoveAndInsert(t *testing.T) {
	doc := Parse(sampleDesign)
	var edits []Edit
	for _, tr := range doc.Traces() {
		edits = append(edits, doc.RemoveElement(tr.Element))
	}
	edits = append(edits, doc.InsertLines([]string{`<trace from=".U1 > .OUT" to=".R1 > .pin1" />`}))

	out, err := Rewrite(doc.Text, edits)
	require.NoError(t, err)
	assert.NotContains(t, out, "path=")
	assert.Contains(t, out, "    <trace from=\".U1 > .OUT\" to=\".R1 > .pin1\" />\n  </board>")

	again := Parse(out)
	assert.Empty(t, again.Problems)
	assert.Len(t, again.Traces(), 1)
}

func TestDocument_SetAttr(t *testing.T) {
	doc := Parse(`<led name="D1" pcbX={1} />`)
	el := doc.Elements[0]

	out, err := Rewrite(doc.Text, []Edit{
		doc.SetAttr(el, "pcbX", "{1.5}"),
		doc.SetAttr(el, "pcbY", "{3}"),
	})
	require.NoError(t, err)
	assert.Equal(t, `<led name="D1" pcbX={1.5} pcbY={3} />`, out)
}
