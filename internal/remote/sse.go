package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// StreamEvent is an orchestrator event as seen by a remote observer. The
// payload is left undecoded; use the typed accessors.
type StreamEvent struct {
	ID        string                 `json:"id"`
	Seq       int                    `json:"seq"`
	SessionID string                 `json:"sessionId,omitempty"`
	Type      orchestrator.EventType `json:"type"`
	Attempt   int                    `json:"attempt"`
	State     orchestrator.State     `json:"state"`
	Time      time.Time              `json:"time"`
	Data      json.RawMessage        `json:"data,omitempty"`

	// Err is set when the frame could not be decoded.
	Err error `json:"-"`
}

// Terminal decodes the payload of a terminal event.
func (e StreamEvent) Terminal() (orchestrator.Terminal, bool) {
	var t orchestrator.Terminal
	if e.Type != orchestrator.EventTerminal || json.Unmarshal(e.Data, &t) != nil {
		return t, false
	}
	return t, true
}

// Summary decodes the payload of a summary event.
func (e StreamEvent) Summary() (orchestrator.FinalSummary, bool) {
	var s orchestrator.FinalSummary
	if e.Type != orchestrator.EventSummary || json.Unmarshal(e.Data, &s) != nil {
		return s, false
	}
	return s, true
}

// Decode unmarshals the payload into v.
func (e StreamEvent) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("remote: %s event has no payload", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Event converts e back into an orchestrator.Event with a typed payload,
// so it can be rendered with orchestrator.FormatEvent. Unknown types and
// undecodable payloads keep Data nil.
func (e StreamEvent) Event() orchestrator.Event {
	ev := orchestrator.Event{
		ID:        e.ID,
		Seq:       e.Seq,
		SessionID: e.SessionID,
		Type:      e.Type,
		Attempt:   e.Attempt,
		State:     e.State,
		Time:      e.Time,
	}
	if len(e.Data) == 0 {
		return ev
	}
	switch e.Type {
	case orchestrator.EventAttemptStarted:
		ev.Data = decodeAs[orchestrator.AttemptStarted](e.Data)
	case orchestrator.EventStateChanged:
		ev.Data = decodeAs[orchestrator.StateChange](e.Data)
	case orchestrator.EventPreflightDiagnostics, orchestrator.EventCompileDiagnostics:
		ev.Data = decodeAs[orchestrator.Diagnostics](e.Data)
	case orchestrator.EventRepairPlan:
		ev.Data = decodeAs[strategy.RepairPlan](e.Data)
	case orchestrator.EventRepairResult:
		ev.Data = decodeAs[orchestrator.RepairResult](e.Data)
	case orchestrator.EventIterationDiff:
		ev.Data = decodeAs[orchestrator.IterationDiff](e.Data)
	case orchestrator.EventSummary:
		ev.Data = decodeAs[orchestrator.FinalSummary](e.Data)
	case orchestrator.EventTerminal:
		ev.Data = decodeAs[orchestrator.Terminal](e.Data)
	}
	return ev
}

func decodeAs[T any](raw json.RawMessage) any {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// SSEWriter writes Server-Sent Events to an http.ResponseWriter.
// Call Init once before writing any events to set the required headers.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSEWriter wrapping the given ResponseWriter.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{
		w:       w,
		flusher: f,
	}
}

// Init sets the SSE response headers and flushes them to the client.
func (sw *SSEWriter) Init() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	sw.w.WriteHeader(http.StatusOK)
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// WriteEvent writes ev as one SSE frame:
//
//	id: <seq>
//	event: <type>
//	data: {json}
//
// and flushes so the observer receives it immediately.
func (sw *SSEWriter) WriteEvent(ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
		return fmt.Errorf("sse: write event: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// WriteComment writes an SSE comment line, used as a keep-alive.
func (sw *SSEWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("sse: write comment: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// ReadEvents reads SSE events from body and delivers them on the returned
// channel. The channel is closed when the body is exhausted, an
// unrecoverable read error occurs, or ctx is cancelled. The body is closed
// when reading finishes.
//
// Only "data" fields are interpreted; "id" and "event" are redundant with
// the JSON payload. Comment lines are ignored and multiple data lines are
// joined with newlines. Malformed JSON produces a StreamEvent with Err set
// and reading continues.
func ReadEvents(ctx context.Context, body io.ReadCloser) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		var dataBuf strings.Builder

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if !scanner.Scan() {
				if dataBuf.Len() > 0 {
					emit(ctx, ch, dataBuf.String())
				}
				return
			}

			line := scanner.Text()
			switch {
			case line == "":
				if dataBuf.Len() > 0 {
					emit(ctx, ch, dataBuf.String())
					dataBuf.Reset()
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "data:"):
				payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
				if dataBuf.Len() > 0 {
					dataBuf.WriteByte('\n')
				}
				dataBuf.WriteString(payload)
			}
		}
	}()
	return ch
}

// emit unmarshals raw into a StreamEvent and sends it on ch.
func emit(ctx context.Context, ch chan<- StreamEvent, raw string) {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		ev = StreamEvent{Err: fmt.Errorf("sse: unmarshal event: %w", err)}
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
