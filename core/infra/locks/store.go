package locks

import (
	"context"
	"errors"
	"time"
)

// ErrBusy is returned when another owner holds the lock.
var ErrBusy = errors.New("lock busy")

// Lock captures the current lock ownership state.
type Lock struct {
	Resource   string    `json:"resource"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store manages exclusive, expiring resource locks.
type Store interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error)
	Release(ctx context.Context, resource, owner string) (bool, error)
	Renew(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error)
	Get(ctx context.Context, resource string) (*Lock, error)
}
