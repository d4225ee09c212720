package crdt

// OpType identifies the kind of operation. String tags keep the wire
// format self-describing so unknown kinds can be skipped by older peers.
type OpType string

const (
	OpInsert     OpType = "insert"
	OpDelete     OpType = "delete"
	OpReplaceAll OpType = "replaceAll"
)

// ID uniquely identifies an element across all replicas. Site is the
// issuing replica's id, Clock its Lamport clock at issue time.
type ID struct {
	Site  string `json:"site"`
	Clock uint64 `json:"clock"`
}

// IsZero reports whether the ID is the zero value, which addresses the
// document head.
func (id ID) IsZero() bool {
	return id.Site == "" && id.Clock == 0
}

// before reports whether a sorts before b among siblings sharing the same
// origin. Higher clock wins; equal clocks fall back to site id comparison.
// The rule is total and identical on every replica.
func before(a, b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}

	return a.Site > b.Site
}

// Char is a single inserted element: its identity, the element it was
// typed after (zero for the document head), and its value.
type Char struct {
	ID     ID     `json:"id"`
	Origin ID     `json:"origin"`
	Value  string `json:"value"`
}

// Operation is the tagged union exchanged between replicas.
//
//   - insert: Char is set
//   - delete: Target is set
//   - replaceAll: Deletes lists every element tombstoned by the revert and
//     Chain carries the replacement text as a linked run of inserts
type Operation struct {
	Type    OpType `json:"type"`
	Char    Char   `json:"char,omitempty"`
	Target  ID     `json:"target,omitempty"`
	Deletes []ID   `json:"deletes,omitempty"`
	Chain   []Char `json:"chain,omitempty"`
}

// NewInsert creates an insert operation for a single element.
func NewInsert(c Char) Operation {
	return Operation{Type: OpInsert, Char: c}
}

// NewDelete creates a delete operation for the element with the given id.
func NewDelete(target ID) Operation {
	return Operation{Type: OpDelete, Target: target}
}
