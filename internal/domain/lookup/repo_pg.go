package lookup

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name can be used as a lookup table name.
func ValidTableName(name string) bool {
	return tableName.MatchString(name)
}

// LoadTable reads ids as text so integer and character keyed tables load alike.
func (r *repoPG) LoadTable(ctx context.Context, name string) (map[string]int64, error) {
	if !ValidTableName(name) {
		return nil, fmt.Errorf("invalid lookup table name %q", name)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id::text, concept_id FROM `+pgx.Identifier{name}.Sanitize()+` WHERE concept_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id        string
			conceptID int64
		)
		if err := rows.Scan(&id, &conceptID); err != nil {
			return nil, err
		}
		out[id] = conceptID
	}
	return out, rows.Err()
}
