package query

import (
	"math"
	"strings"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
	"tasktracker/internal/policy"
)

// AllValues disables a priority or status filter.
const AllValues = "all"

// TaskFilter carries the optional list filters as received from clients.
type TaskFilter struct {
	Priority string
	Status   string
	Search   string
}

// TaskQuery is a fully composed listing request. Results are always ordered
// by creation time, newest first.
type TaskQuery struct {
	Where    Predicate
	Page     int
	PageSize int
	Skip     int
	Limit    int
}

// Visibility returns the predicate restricting s to the tasks it may see.
func Visibility(s policy.Subject) Predicate {
	if s.IsAdmin() {
		return All{}
	}
	return Or{
		Eq{Field: FieldAssignedTo, Value: s.ID},
		Eq{Field: FieldCreatedBy, Value: s.ID},
	}
}

// BuildTaskQuery composes visibility, filters, search and paging for s.
// The search clause is conjoined with the visibility clause so that a
// non-admin search can only ever narrow the caller's own tasks.
func BuildTaskQuery(s policy.Subject, f TaskFilter, page, pageSize int) (TaskQuery, error) {
	if page < 1 {
		return TaskQuery{}, apperr.Validation("page must be at least 1")
	}
	if pageSize < 1 {
		return TaskQuery{}, apperr.Validation("limit must be at least 1")
	}

	var where Predicate = All{}
	where = Conjoin(where, Visibility(s))

	if p := strings.TrimSpace(f.Priority); p != "" && p != AllValues {
		if !models.Priority(p).Valid() {
			return TaskQuery{}, apperr.Validation("invalid priority %q", p)
		}
		where = Conjoin(where, Eq{Field: FieldPriority, Value: p})
	}

	if st := strings.TrimSpace(f.Status); st != "" && st != AllValues {
		if !models.Status(st).Valid() {
			return TaskQuery{}, apperr.Validation("invalid status %q", st)
		}
		where = Conjoin(where, Eq{Field: FieldStatus, Value: st})
	}

	if q := strings.TrimSpace(f.Search); q != "" {
		where = Conjoin(where, Or{
			Contains{Field: FieldTitle, Text: q},
			Contains{Field: FieldDescription, Text: q},
		})
	}

	return TaskQuery{
		Where:    where,
		Page:     page,
		PageSize: pageSize,
		Skip:     skip(page, pageSize),
		Limit:    pageSize,
	}, nil
}

// skip is the number of rows before page. It saturates at math.MaxInt so an
// absurd page number still lands past the last row.
func skip(page, pageSize int) int {
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}

// TotalPages is ceil(total/pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return pages
}
