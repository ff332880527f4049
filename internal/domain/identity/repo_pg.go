package identity

import (
	"context"
	"errors"

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

func (r *repoPG) SubjectForClient(ctx context.Context, clientID int64) (int64, error) {
	var patientID int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT patient_id FROM dreams_client_patient_mapping WHERE client_id = $1 LIMIT 1`,
		clientID).Scan(&patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrSubjectNotFound
	}
	return patientID, err
}

// EncounterForSubject picks the lowest encounter id when a patient has several.
func (r *repoPG) EncounterForSubject(ctx context.Context, subjectID int64) (int64, error) {
	var encounterID int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT encounter_id FROM patient_encounter_mapping WHERE patient_id = $1 ORDER BY encounter_id LIMIT 1`,
		subjectID).Scan(&encounterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrEncounterNotFound
	}
	return encounterID, err
}
