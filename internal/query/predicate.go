// Package query composes storage-neutral task filters.
package query

import (
	"fmt"
	"strings"
)

// Field is a filterable task attribute.
type Field string

const (
	FieldAssignedTo  Field = "assignedTo"
	FieldCreatedBy   Field = "createdBy"
	FieldPriority    Field = "priority"
	FieldStatus      Field = "status"
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
)

// Predicate is a node of a filter tree.
type Predicate interface {
	fmt.Stringer
	predicate()
}

// All matches every task.
type All struct{}

// And matches when every child matches. An empty And matches everything.
type And []Predicate

// Or matches when any child matches. An empty Or matches nothing.
type Or []Predicate

// Eq matches an exact field value.
type Eq struct {
	Field Field
	Value string
}

// Contains matches a case-insensitive substring.
type Contains struct {
	Field Field
	Text  string
}

func (All) predicate()      {}
func (And) predicate()      {}
func (Or) predicate()       {}
func (Eq) predicate()       {}
func (Contains) predicate() {}

func (All) String() string { return "true" }

func (a And) String() string { return join(" AND ", a) }

func (o Or) String() string { return join(" OR ", o) }

func (e Eq) String() string { return fmt.Sprintf("%s = %q", e.Field, e.Value) }

func (c Contains) String() string { return fmt.Sprintf("%s ~ %q", c.Field, c.Text) }

func join(sep string, children []Predicate) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.String()
		switch child.(type) {
		case And, Or:
			parts[i] = "(" + parts[i] + ")"
		}
	}
	return strings.Join(parts, sep)
}

// Conjoin adds p to base with AND semantics, never flattening an Or into the
// surrounding conjunction.
func Conjoin(base, p Predicate) Predicate {
	if _, ok := p.(All); ok {
		return base
	}
	switch b := base.(type) {
	case All:
		return p
	case And:
		out := make(And, 0, len(b)+1)
		out = append(out, b...)
		return append(out, p)
	default:
		return And{base, p}
	}
}
