package diagnostic

// TaxonomyVersion identifies the category → family → handling table below.
// Bump it whenever a category is added or a default policy changes.
const TaxonomyVersion = "2"

// Category is a stable machine-readable diagnostic kind.
type Category string

const (
	CategoryTraceMissingEndpoint  Category = "source_trace_missing_endpoint"
	CategoryTraceInvalidSelector  Category = "source_trace_invalid_selector"
	CategoryTraceUnknownComponent Category = "source_trace_unknown_component"
	CategoryTraceUnknownPin       Category = "source_trace_unknown_pin"
	CategorySourceSyntax          Category = "source_syntax_error"
	CategoryCompileFailure        Category = "compile_failure"
	CategoryCompileTimeout        Category = "compile_timeout"
	CategoryPinFloating           Category = "pin_floating"
	CategoryNetShort              Category = "net_short"
	CategoryMissingDecoupling     Category = "missing_decoupling_capacitor"
	CategoryComponentOverlap      Category = "component_overlap"
	CategoryRoutingCongestion     Category = "routing_congestion"
	CategorySilkscreenOverlap     Category = "silkscreen_overlap"
	CategoryMissingFootprint      Category = "missing_footprint"
	CategoryUnrecognized          Category = "unrecognized"
)

// Family is a coarse defect grouping used for classification and repair
// strategy selection.
type Family string

const (
	FamilyTraceEndpoint      Family = "trace-endpoint"
	FamilyUnresolvedSelector Family = "unresolved-selector"
	FamilySourceSyntax       Family = "source-syntax"
	FamilyCompileFailure     Family = "compile-failure"
	FamilyFloatingPin        Family = "floating-pin"
	FamilyShort              Family = "short"
	FamilyMissingDecoupling  Family = "missing-decoupling"
	FamilyPlacementOverlap   Family = "placement-overlap"
	FamilyRoutingCongestion  Family = "routing-congestion"
	FamilySilkscreen         Family = "silkscreen"
	FamilyMissingFootprint   Family = "missing-footprint"
	FamilyUnclassified       Family = "unclassified"
)

// Handling is the classifier's verdict for one diagnostic occurrence.
// The zero value means "not yet classified".
type Handling string

const (
	HandlingUnset        Handling = ""
	HandlingAutoFixable  Handling = "auto_fixable"
	HandlingShouldDemote Handling = "should_demote"
	HandlingMustRepair   Handling = "must_repair"
)

// rank orders handlings from least to most severe. Downgrades move to a
// lower rank, never a higher one.
func (h Handling) rank() int {
	switch h {
	case HandlingShouldDemote:
		return 1
	case HandlingAutoFixable:
		return 2
	case HandlingMustRepair:
		return 3
	default:
		return 0
	}
}

// Worse reports whether h is a more severe handling than other.
func (h Handling) Worse(other Handling) bool {
	return h.rank() > other.rank()
}

// Concern groups families by the kind of repair they call for.
type Concern string

const (
	ConcernConnectivity Concern = "connectivity"
	ConcernLayout       Concern = "layout"
	ConcernCongestion   Concern = "congestion"
	ConcernCosmetic     Concern = "cosmetic"
	ConcernHygiene      Concern = "hygiene"
)

// Rule is one row of the taxonomy table.
type Rule struct {
	Family          Family
	DefaultHandling Handling
	DefaultSeverity Severity
}

// familyRules holds the default handling and concern of every family.
var familyRules = map[Family]struct {
	handling Handling
	concern  Concern
}{
	FamilyTraceEndpoint:      {HandlingMustRepair, ConcernConnectivity},
	FamilyUnresolvedSelector: {HandlingMustRepair, ConcernConnectivity},
	FamilySourceSyntax:       {HandlingMustRepair, ConcernConnectivity},
	FamilyCompileFailure:     {HandlingMustRepair, ConcernHygiene},
	FamilyFloatingPin:        {HandlingMustRepair, ConcernConnectivity},
	FamilyShort:              {HandlingMustRepair, ConcernConnectivity},
	FamilyMissingDecoupling:  {HandlingAutoFixable, ConcernHygiene},
	FamilyPlacementOverlap:   {HandlingMustRepair, ConcernLayout},
	FamilyRoutingCongestion:  {HandlingMustRepair, ConcernCongestion},
	FamilySilkscreen:         {HandlingShouldDemote, ConcernCosmetic},
	FamilyMissingFootprint:   {HandlingAutoFixable, ConcernHygiene},
	FamilyUnclassified:       {HandlingMustRepair, ConcernHygiene},
}

// categoryRules maps every category to its family and default severity.
var categoryRules = map[Category]struct {
	family   Family
	severity Severity
}{
	CategoryTraceMissingEndpoint:  {FamilyTraceEndpoint, SeverityError},
	CategoryTraceInvalidSelector:  {FamilyUnresolvedSelector, SeverityError},
	CategoryTraceUnknownComponent: {FamilyUnresolvedSelector, SeverityError},
	CategoryTraceUnknownPin:       {FamilyUnresolvedSelector, SeverityError},
	CategorySourceSyntax:          {FamilySourceSyntax, SeverityCritical},
	CategoryCompileFailure:        {FamilyCompileFailure, SeverityCritical},
	CategoryCompileTimeout:        {FamilyCompileFailure, SeverityCritical},
	CategoryPinFloating:           {FamilyFloatingPin, SeverityWarning},
	CategoryNetShort:              {FamilyShort, SeverityCritical},
	CategoryMissingDecoupling:     {FamilyMissingDecoupling, SeverityWarning},
	CategoryComponentOverlap:      {FamilyPlacementOverlap, SeverityError},
	CategoryRoutingCongestion:     {FamilyRoutingCongestion, SeverityError},
	CategorySilkscreenOverlap:     {FamilySilkscreen, SeverityInfo},
	CategoryMissingFootprint:      {FamilyMissingFootprint, SeverityWarning},
	CategoryUnrecognized:          {FamilyUnclassified, SeverityError},
}

// Categories returns every known category in declaration-independent,
// sorted order.
func Categories() []Category {
	out := make([]Category, 0, len(categoryRules))
	for c := range categoryRules {
		out = append(out, c)
	}
	sortStrings(out)
	return out
}

// Families returns every known family, sorted.
func Families() []Family {
	out := make([]Family, 0, len(familyRules))
	for f := range familyRules {
		out = append(out, f)
	}
	sortStrings(out)
	return out
}

// Lookup returns the taxonomy rule for c. Unknown categories resolve to the
// rule for CategoryUnrecognized.
func Lookup(c Category) Rule {
	cr, ok := categoryRules[c]
	if !ok {
		cr = categoryRules[CategoryUnrecognized]
	}
	fr := familyRules[cr.family]
	return Rule{
		Family:          cr.family,
		DefaultHandling: fr.handling,
		DefaultSeverity: cr.severity,
	}
}

// ParseCategory converts a free-form category string reported by a
// collaborator into the closed enumeration.
func ParseCategory(s string) Category {
	c := Category(s)
	if _, ok := categoryRules[c]; ok {
		return c
	}
	return CategoryUnrecognized
}

// Known reports whether c is part of the taxonomy.
func (c Category) Known() bool {
	_, ok := categoryRules[c]
	return ok
}

// Concern returns the repair concern of the family.
func (f Family) Concern() Concern {
	if r, ok := familyRules[f]; ok {
		return r.concern
	}
	return ConcernHygiene
}

// DefaultHandling returns the family's handling before any downgrade.
func (f Family) DefaultHandling() Handling {
	if r, ok := familyRules[f]; ok {
		return r.handling
	}
	return HandlingMustRepair
}
