package locks

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
)

// Held is an acquired lock renewed in the background until Release.
type Held struct {
	store    Store
	resource string
	owner    string
	ttl      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	lost   atomic.Bool
}

// Hold acquires resource under a fresh owner id and keeps renewing it every
// ttl/3. A lock held by someone else yields an error wrapping ErrBusy.
func Hold(ctx context.Context, store Store, resource string, ttl time.Duration) (*Held, error) {
	ttl = normalizeTTL(ttl)
	owner := uuid.NewString()
	_, ok, err := store.Acquire(ctx, resource, owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", resource, err)
	}
	if !ok {
		holder := "unknown"
		if cur, err := store.Get(ctx, resource); err == nil && cur != nil {
			holder = cur.Owner
		}
		return nil, fmt.Errorf("%s held by %s: %w", resource, holder, ErrBusy)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	h := &Held{
		store:    store,
		resource: resource,
		owner:    owner,
		ttl:      ttl,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.renew(renewCtx)
	logging.Debug("locks", "lock acquired", "resource", resource, "owner", owner, "ttl", ttl)
	return h, nil
}

func (h *Held) renew(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, ok, err := h.store.Renew(ctx, h.resource, h.owner, h.ttl)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logging.Warn("locks", "lock renew failed", "resource", h.resource, "error", err)
				continue
			}
			if !ok {
				h.lost.Store(true)
				logging.Error("locks", "lock lost", "resource", h.resource, "owner", h.owner)
				return
			}
		}
	}
}

// Owner is the owner id the lock was acquired under.
func (h *Held) Owner() string { return h.owner }

// Lost reports whether a renewal found the lock taken over or expired.
func (h *Held) Lost() bool { return h.lost.Load() }

// Release stops renewing and drops the lock.
func (h *Held) Release(ctx context.Context) error {
	h.cancel()
	<-h.done
	ok, err := h.store.Release(ctx, h.resource, h.owner)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", h.resource, err)
	}
	if !ok {
		logging.Warn("locks", "lock already gone at release", "resource", h.resource)
	}
	return nil
}
