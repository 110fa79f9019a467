package datalake

import (
	"fmt"
	"strings"
)

// Column is a projected leaf. Name is the key under which the value is
// returned in a Row; Path addresses the leaf inside nested groups.
type Column struct {
	Name string
	Path []string
}

func (c Column) String() string { return strings.Join(c.Path, ".") }

// Predicate is an equality match of a leaf against a string or int64.
type Predicate struct {
	Path  []string
	Value any
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s == %v", strings.Join(p.Path, "."), p.Value)
}

// Filter is a conjunction of predicates. An empty filter matches every row.
type Filter []Predicate

// Row maps Column.Name to the cell value: []byte, string, int64, float64,
// bool or nil for nulls.
type Row map[string]any
