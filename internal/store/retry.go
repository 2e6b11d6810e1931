package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
)

// RetryPolicy bounds every store call: each attempt gets Timeout, and
// transient failures are retried Retries times with exponential backoff.
type RetryPolicy struct {
	Timeout         time.Duration
	Retries         int
	InitialInterval time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Timeout:         5 * time.Second,
	Retries:         3,
	InitialInterval: 50 * time.Millisecond,
}

// Call runs fn under policy. Domain errors are returned as they are;
// anything else that survives the retries becomes StoreUnavailable.
func Call[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	b.MaxElapsedTime = 0
	retries := policy.Retries
	if retries < 0 {
		retries = 0
	}

	op := func() error {
		attemptCtx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}
		value, err := fn(attemptCtx)
		if err == nil {
			result = value
			return nil
		}
		if apperr.KindOf(err) != "" || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if err == nil {
		return result, nil
	}
	if apperr.KindOf(err) != "" {
		return result, err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return result, err
	}
	return result, apperr.Wrap(apperr.KindStoreUnavailable, err, "store unavailable")
}

func call0(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Resilient decorates a Store so every method goes through Call.
type Resilient struct {
	inner  Store
	policy RetryPolicy
}

func WithRetry(inner Store, policy RetryPolicy) *Resilient {
	return &Resilient{inner: inner, policy: policy}
}

func (r *Resilient) Ping(ctx context.Context) error {
	return call0(ctx, r.policy, r.inner.Ping)
}

func (r *Resilient) CreateUser(ctx context.Context, user User) (User, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (User, error) { return r.inner.CreateUser(ctx, user) })
}

func (r *Resilient) GetUserByID(ctx context.Context, id string) (User, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (User, error) { return r.inner.GetUserByID(ctx, id) })
}

func (r *Resilient) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (User, error) { return r.inner.GetUserByEmail(ctx, email) })
}

func (r *Resilient) CreateOperation(ctx context.Context, op Operation, creatorID string, rt route.Route) (Operation, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (Operation, error) {
		return r.inner.CreateOperation(ctx, op, creatorID, rt)
	})
}

func (r *Resilient) GetOperation(ctx context.Context, id int64) (Operation, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (Operation, error) { return r.inner.GetOperation(ctx, id) })
}

func (r *Resilient) ListOperationsForUser(ctx context.Context, userID string) ([]OperationAccess, error) {
	return Call(ctx, r.policy, func(ctx context.Context) ([]OperationAccess, error) {
		return r.inner.ListOperationsForUser(ctx, userID)
	})
}

func (r *Resilient) LatestRevision(ctx context.Context, opID int64) (Revision, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (Revision, error) { return r.inner.LatestRevision(ctx, opID) })
}

func (r *Resilient) AppendRevision(ctx context.Context, opID int64, authorID string, rt route.Route) (Revision, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (Revision, error) {
		return r.inner.AppendRevision(ctx, opID, authorID, rt)
	})
}

func (r *Resilient) GetPermission(ctx context.Context, userID string, opID int64) (rbac.Level, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (rbac.Level, error) {
		return r.inner.GetPermission(ctx, userID, opID)
	})
}

func (r *Resilient) PutPermission(ctx context.Context, p Permission) error {
	return call0(ctx, r.policy, func(ctx context.Context) error { return r.inner.PutPermission(ctx, p) })
}

func (r *Resilient) DeletePermission(ctx context.Context, userID string, opID int64) error {
	return call0(ctx, r.policy, func(ctx context.Context) error { return r.inner.DeletePermission(ctx, userID, opID) })
}

func (r *Resilient) ListPermissions(ctx context.Context, opID int64) ([]Permission, error) {
	return Call(ctx, r.policy, func(ctx context.Context) ([]Permission, error) { return r.inner.ListPermissions(ctx, opID) })
}

func (r *Resilient) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (Message, error) { return r.inner.AppendMessage(ctx, msg) })
}

func (r *Resilient) GetMessage(ctx context.Context, opID, id int64) (Message, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (Message, error) { return r.inner.GetMessage(ctx, opID, id) })
}

func (r *Resilient) UpdateMessageText(ctx context.Context, opID, id int64, text string, editedAt time.Time) (Message, error) {
	return Call(ctx, r.policy, func(ctx context.Context) (Message, error) {
		return r.inner.UpdateMessageText(ctx, opID, id, text, editedAt)
	})
}

func (r *Resilient) DeleteMessage(ctx context.Context, opID, id int64) error {
	return call0(ctx, r.policy, func(ctx context.Context) error { return r.inner.DeleteMessage(ctx, opID, id) })
}

func (r *Resilient) ListMessages(ctx context.Context, opID int64, since time.Time) ([]Message, error) {
	return Call(ctx, r.policy, func(ctx context.Context) ([]Message, error) { return r.inner.ListMessages(ctx, opID, since) })
}

func (r *Resilient) SearchMessages(ctx context.Context, opID int64, query string, limit int) ([]MessageHit, error) {
	return Call(ctx, r.policy, func(ctx context.Context) ([]MessageHit, error) {
		return r.inner.SearchMessages(ctx, opID, query, limit)
	})
}
