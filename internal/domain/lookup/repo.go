package lookup

import "context"

type Repository interface {
	// LoadTable reads every (id, concept_id) pair of the named table.
	LoadTable(ctx context.Context, name string) (map[string]int64, error)
}
