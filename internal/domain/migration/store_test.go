package migration

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/identity"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/observation"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/db"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/source"
)

// memStore is an in-memory destination with transactions. Observations
// written inside a transaction become visible only on commit.
type memStore struct {
	mu         sync.Mutex
	lookups    map[string]map[string]int64
	subjects   map[int64]int64
	encounters map[int64]int64

	obs    []*observation.Observation
	logs   []*observation.MigrationLogEntry
	nextID int64

	// failConcept makes inserts for that concept fail with a server error.
	failConcept int64
	// brokenConcept makes inserts for that concept fail like a lost connection.
	brokenConcept int64

	commits, rollbacks int

	// subjectReadsInTx counts subject lookups made inside a transaction.
	subjectReadsInTx int
}

func newMemStore() *memStore {
	return &memStore{
		lookups:    map[string]map[string]int64{},
		subjects:   map[int64]int64{},
		encounters: map[int64]int64{},
	}
}

type txKey struct{}

type memTx struct {
	s    *memStore
	obs  []*observation.Observation
	logs []*observation.MigrationLogEntry
	done bool
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return errors.New("tx closed")
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.obs = append(t.s.obs, t.obs...)
	t.s.logs = append(t.s.logs, t.logs...)
	t.s.commits++
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Lock()
	t.s.rollbacks++
	t.s.mu.Unlock()
	return nil
}

func (s *memStore) BeginTx(ctx context.Context) (context.Context, db.Tx, error) {
	tx := &memTx{s: s}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

func (s *memStore) LoadTable(ctx context.Context, name string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := s.lookups[name]
	if !ok {
		return nil, &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	}
	return t, nil
}

func (s *memStore) SubjectForClient(ctx context.Context, clientID int64) (int64, error) {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		s.subjectReadsInTx++
	}
	id, ok := s.subjects[clientID]
	if !ok {
		return 0, identity.ErrSubjectNotFound
	}
	return id, nil
}

func (s *memStore) EncounterForSubject(_ context.Context, subjectID int64) (int64, error) {
	id, ok := s.encounters[subjectID]
	if !ok {
		return 0, identity.ErrEncounterNotFound
	}
	return id, nil
}

func (s *memStore) CreateObservation(ctx context.Context, o *observation.Observation) error {
	switch o.ConceptID {
	case s.failConcept:
		return &pgconn.PgError{Code: "23502", Message: "null value in column violates not-null constraint"}
	case s.brokenConcept:
		return errors.New("conn closed")
	}
	s.mu.Lock()
	s.nextID++
	o.ID = s.nextID
	s.mu.Unlock()

	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		tx.obs = append(tx.obs, o)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, o)
	return nil
}

func (s *memStore) CreateLogEntry(ctx context.Context, e *observation.MigrationLogEntry) error {
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		tx.logs = append(tx.logs, e)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
	return nil
}

func (s *memStore) stores() Stores {
	return Stores{Tx: s, Lookups: s, Identity: s, Observations: s}
}

type sliceReader struct {
	rows   []source.Row
	pos    int
	onNext func(i int)
	closed bool
}

func newSliceReader(fields []string, records ...[]interface{}) *sliceReader {
	r := &sliceReader{}
	for i, rec := range records {
		r.rows = append(r.rows, source.NewRow(i+2, fields, rec))
	}
	return r
}

func (r *sliceReader) Next(ctx context.Context) (source.Row, error) {
	if r.onNext != nil {
		r.onNext(r.pos)
	}
	if err := ctx.Err(); err != nil {
		return source.Row{}, err
	}
	if r.pos >= len(r.rows) {
		return source.Row{}, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}
