// Package prompt runs interactive, timeout-bound choices: department
// selection and yes/no confirmation. Both wait on a Hub that routes inbound
// selection signals to the one waiter they belong to.
package prompt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xaenox/modmail-bot/internal/models"
)

const (
	defaultRetain  = 5 * time.Second
	maxBacklogSize = 128
)

// Signal is a single choice made by IssuerID on the prompt SurfaceID.
type Signal struct {
	SurfaceID string
	IssuerID  string
	Token     string
	At        time.Time
}

type waiter struct {
	id        uint64
	surfaceID string
	issuerID  string
	ch        chan Signal
}

func (w *waiter) matches(sig Signal) bool {
	return w.surfaceID == sig.SurfaceID && w.issuerID == sig.IssuerID
}

// Hub hands each signal to at most one waiter registered for the same
// (surface, issuer) pair. Signals from anyone else are left alone. Signals
// that arrive shortly before their waiter registers are kept for a few
// seconds so a fast answer is not lost.
type Hub struct {
	mu      sync.Mutex
	waiters map[uint64]*waiter
	nextID  uint64
	backlog []Signal
	retain  time.Duration
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		waiters: make(map[uint64]*waiter),
		retain:  defaultRetain,
		now:     time.Now,
	}
}

// Deliver routes sig and reports whether a waiter consumed it.
func (h *Hub) Deliver(sig Signal) bool {
	if sig.At.IsZero() {
		sig.At = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var target *waiter
	for _, w := range h.waiters {
		if w.matches(sig) && (target == nil || w.id < target.id) {
			target = w
		}
	}
	if target != nil {
		delete(h.waiters, target.id)
		target.ch <- sig
		return true
	}

	h.pruneLocked()
	if len(h.backlog) >= maxBacklogSize {
		h.backlog = h.backlog[1:]
	}
	h.backlog = append(h.backlog, sig)
	return false
}

// Wait blocks until a signal for (surfaceID, issuerID) arrives, the timeout
// elapses (models.ErrTimeout) or ctx ends.
func (h *Hub) Wait(ctx context.Context, surfaceID, issuerID string, timeout time.Duration) (Signal, error) {
	h.mu.Lock()
	h.pruneLocked()
	for i, sig := range h.backlog {
		if sig.SurfaceID == surfaceID && sig.IssuerID == issuerID {
			h.backlog = append(h.backlog[:i], h.backlog[i+1:]...)
			h.mu.Unlock()
			return sig, nil
		}
	}
	h.nextID++
	w := &waiter{id: h.nextID, surfaceID: surfaceID, issuerID: issuerID, ch: make(chan Signal, 1)}
	h.waiters[w.id] = w
	h.mu.Unlock()

	defer h.cancel(w.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sig := <-w.ch:
		return sig, nil
	case <-timer.C:
		return Signal{}, fmt.Errorf("%w: no answer within %s", models.ErrTimeout, timeout)
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	}
}

// Pending returns the number of registered waiters.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters)
}

func (h *Hub) cancel(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters, id)
}

func (h *Hub) pruneLocked() {
	cutoff := h.now().Add(-h.retain)
	kept := h.backlog[:0]
	for _, sig := range h.backlog {
		if sig.At.After(cutoff) {
			kept = append(kept, sig)
		}
	}
	h.backlog = kept
}
