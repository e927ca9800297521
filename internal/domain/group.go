package domain

import "time"

// GroupKind describes how the markets inside a correlation group relate.
type GroupKind string

const (
	// GroupKindBinary groups binary markets on the same event across venues.
	GroupKindBinary GroupKind = "binary"
	// GroupKindMultiOutcome groups mutually exclusive, jointly exhaustive
	// outcome markets of one multi-outcome event.
	GroupKindMultiOutcome GroupKind = "multi_outcome"
)

// CorrelationGroup is a set of markets believed to reference the same
// real-world event. Groups bound the scanner's combinatorial search and are
// its unit of parallelism.
type CorrelationGroup struct {
	ID        string
	GroupKey  string
	Title     string
	Kind      GroupKind
	MarketIDs []string
	UpdatedAt time.Time
}
