package ledger

import (
	"context"
	"time"
)

// Student is the slice of the student directory the ledger reads.
type Student struct {
	ID            string
	Code          string // roll or admission number
	Name          string
	GuardianPhone string
	ClassID       string
	Branch        Branch
	AdmissionDate time.Time
	Active        bool
	CreatedAt     time.Time
}

// Session is an academic session (school year).
type Session struct {
	ID        string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Active    bool
	CreatedAt time.Time
}

// StudentDirectory is read-only reference data owned by another service.
// GetStudent returns a *NotFoundError when the student does not exist.
type StudentDirectory interface {
	GetStudent(ctx context.Context, id string) (*Student, error)
}

// SessionCatalog returns a *NotFoundError when the session does not exist.
type SessionCatalog interface {
	GetSession(ctx context.Context, id string) (*Session, error)
}
