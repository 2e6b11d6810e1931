package store

import (
	"context"
	"time"

	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
)

// Store is the persistent state behind the collaboration services.
// Lookups of missing rows return apperr.InvalidReference; infrastructure
// failures are returned unwrapped and classified by Call.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// CreateOperation stores the operation with revision 1 holding r and
	// makes creatorID its creator.
	CreateOperation(ctx context.Context, op Operation, creatorID string, r route.Route) (Operation, error)
	GetOperation(ctx context.Context, id int64) (Operation, error)
	ListOperationsForUser(ctx context.Context, userID string) ([]OperationAccess, error)
	LatestRevision(ctx context.Context, opID int64) (Revision, error)
	// AppendRevision stores r as latest+1, whatever latest is at commit time.
	AppendRevision(ctx context.Context, opID int64, authorID string, r route.Route) (Revision, error)

	GetPermission(ctx context.Context, userID string, opID int64) (rbac.Level, error)
	PutPermission(ctx context.Context, p Permission) error
	DeletePermission(ctx context.Context, userID string, opID int64) error
	ListPermissions(ctx context.Context, opID int64) ([]Permission, error)

	// AppendMessage assigns the next id and a created_at strictly after the
	// previous message of the operation.
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, opID, id int64) (Message, error)
	UpdateMessageText(ctx context.Context, opID, id int64, text string, editedAt time.Time) (Message, error)
	DeleteMessage(ctx context.Context, opID, id int64) error
	// ListMessages returns messages created strictly after since, by id.
	ListMessages(ctx context.Context, opID int64, since time.Time) ([]Message, error)
	SearchMessages(ctx context.Context, opID int64, query string, limit int) ([]MessageHit, error)
}

// nextCreatedAt keeps created_at strictly increasing within an operation.
func nextCreatedAt(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}
