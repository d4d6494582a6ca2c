package aggregates

import "slices"

// Contract records what an aggregate owns: the tables its transactions write
// and whether those writes change device desired state. Services announce
// desired-state changes only for aggregates that declare them.
type Contract struct {
	Name         string
	Tables       []string
	DesiredState bool
	Notes        string
}

// Aggregate is implemented by every write-side aggregate.
type Aggregate interface {
	Contract() Contract
}

// Writes reports whether table is owned by the aggregate.
func (c Contract) Writes(table string) bool {
	return slices.Contains(c.Tables, table)
}
