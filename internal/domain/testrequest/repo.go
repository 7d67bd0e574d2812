package testrequest

import (
	"context"
	"time"
)

// Repository persists TestRequests together with their LabResult and Consultation.
type Repository interface {
	Create(ctx context.Context, tr *TestRequest) error
	// Get returns ErrNotFound when id does not exist.
	Get(ctx context.Context, id int64) (*TestRequest, error)
	// Save writes tr only if its stored VersionID still equals tr.VersionID,
	// and increments VersionID on success. A mismatch returns ErrConflict.
	Save(ctx context.Context, tr *TestRequest) error
	FindByStatus(ctx context.Context, status RequestStatus) ([]*TestRequest, error)
	FindByTester(ctx context.Context, testerID string) ([]*TestRequest, error)
	FindByDoctor(ctx context.Context, doctorID string) ([]*TestRequest, error)
	FindByCreator(ctx context.Context, userID string) ([]*TestRequest, error)
	// FindActiveByEmailOrPhone returns requests not yet COMPLETED that share
	// the email or phone number.
	FindActiveByEmailOrPhone(ctx context.Context, email, phone string) ([]*TestRequest, error)
}

type FlowRepository interface {
	Create(ctx context.Context, f *RequestFlow) error
	ListByRequest(ctx context.Context, requestID int64) ([]*RequestFlow, error)
}

// Transactor runs fn with a transaction bound to ctx. Repositories pick the
// transaction up from the context.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cache stores JSON encoded values by key.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	// SetJSONIfAbsent stores v only when key holds no value and reports
	// whether it did.
	SetJSONIfAbsent(ctx context.Context, key string, v any, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
