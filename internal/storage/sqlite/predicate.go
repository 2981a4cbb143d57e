package sqlite

import (
	"fmt"
	"strings"

	"tasktracker/internal/query"
)

var taskColumnsByField = map[query.Field]string{
	query.FieldAssignedTo:  "t.assigned_to",
	query.FieldCreatedBy:   "t.created_by",
	query.FieldPriority:    "t.priority",
	query.FieldStatus:      "t.status",
	query.FieldTitle:       "t.title",
	query.FieldDescription: "t.description",
}

// compilePredicate renders p as a parameterised WHERE fragment over the
// tasks table aliased as t.
func compilePredicate(p query.Predicate) (string, []any, error) {
	switch n := p.(type) {
	case nil, query.All:
		return "1 = 1", nil, nil
	case query.And:
		return compileGroup(n, " AND ", "1 = 1")
	case query.Or:
		return compileGroup(n, " OR ", "1 = 0")
	case query.Eq:
		col, err := taskColumn(n.Field)
		if err != nil {
			return "", nil, err
		}
		return col + " = ?", []any{n.Value}, nil
	case query.Contains:
		col, err := taskColumn(n.Field)
		if err != nil {
			return "", nil, err
		}
		// instr avoids LIKE wildcard escaping; lower() folds ASCII only.
		return "instr(lower(" + col + "), ?) > 0", []any{strings.ToLower(n.Text)}, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate %T", p)
	}
}

func compileGroup(children []query.Predicate, sep, empty string) (string, []any, error) {
	if len(children) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(children))
	var args []any
	for _, child := range children {
		clause, childArgs, err := compilePredicate(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+clause+")")
		args = append(args, childArgs...)
	}
	return strings.Join(parts, sep), args, nil
}

func taskColumn(f query.Field) (string, error) {
	col, ok := taskColumnsByField[f]
	if !ok {
		return "", fmt.Errorf("unknown task field %q", f)
	}
	return col, nil
}
