package core

import "strings"

// DBOrdering is one `ORDER BY` term requested by a client, e.g. "-created_at".
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// ParseOrderings parses a comma separated ordering param ("status,-updated_at").
func ParseOrderings(param string) []DBOrdering {
	var orderings []DBOrdering
	for _, field := range strings.Split(param, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		orderings = append(orderings, DBOrdering{Field: field, Ascending: !descending})
	}
	return orderings
}

// AllowedOrderings drops orderings on fields that are not in `fields`.
// Ordering fields end up in raw SQL so they must never come unfiltered from clients.
func AllowedOrderings(orderings []DBOrdering, fields ...string) []DBOrdering {
	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}
	kept := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if allowed[ord.Field] {
			kept = append(kept, ord)
		}
	}
	return kept
}
