package identity

import "context"

// Repository reads the two mapping tables. Both methods return
// ErrSubjectNotFound / ErrEncounterNotFound when no mapping exists.
type Repository interface {
	SubjectForClient(ctx context.Context, clientID int64) (int64, error)
	EncounterForSubject(ctx context.Context, subjectID int64) (int64, error)
}
