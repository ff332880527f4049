package observation

import (
	"context"

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

func (r *repoPG) CreateObservation(ctx context.Context, o *Observation) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO obs (
			uuid, person_id, concept_id, encounter_id, obs_datetime, location_id,
			value_coded, value_text, value_datetime, value_numeric,
			creator, date_created, voided
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING obs_id`,
		o.UUID.String(), o.PersonID, o.ConceptID, o.EncounterID, o.ObsDatetime, o.LocationID,
		o.ValueCoded, o.ValueText, o.ValueDatetime, o.ValueNumeric,
		o.Creator, o.DateCreated, o.Voided,
	).Scan(&o.ID)
}

func (r *repoPG) CreateLogEntry(ctx context.Context, e *MigrationLogEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO obs_migration_log (obs_id, person_id, encounter_id, concept_id, field_name, value)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ObsID, e.PersonID, e.EncounterID, e.ConceptID, e.FieldName, e.Value,
	)
	return err
}
