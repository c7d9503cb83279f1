package synckit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FixedStrategy always answers with the same decision.
type FixedStrategy Decision

func (s FixedStrategy) Decide(ctx context.Context, _ string, _, _ Record) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return Decision(s), nil
}

var (
	KeepLocalStrategy  ConflictStrategy = FixedStrategy(KeepLocal)
	KeepRemoteStrategy ConflictStrategy = FixedStrategy(KeepRemote)
	CancelStrategy     ConflictStrategy = FixedStrategy(Cancel)
)

// ErrUnknownToken is returned by ManualStrategy.Answer for a token that is
// not pending, either because it was already answered or because it expired.
var ErrUnknownToken = errors.New("no pending conflict with this token")

// PendingConflict is a conflict waiting for an answer from a person.
type PendingConflict struct {
	Token      string    `json:"token"`
	Collection string    `json:"collection"`
	Local      Record    `json:"local"`
	Remote     Record    `json:"remote"`
	RaisedAt   time.Time `json:"raised_at"`
}

type pendingEntry struct {
	conflict PendingConflict
	answer   chan Decision
}

// ManualStrategy hands each conflict to an outside party (usually a UI) and
// blocks until Answer is called with the conflict's token or the context is
// done. Notify, when set, is called once per raised conflict and must not
// block.
type ManualStrategy struct {
	Notify func(PendingConflict)

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

func NewManualStrategy(notify func(PendingConflict)) *ManualStrategy {
	return &ManualStrategy{Notify: notify, pending: make(map[string]*pendingEntry)}
}

func (m *ManualStrategy) Decide(ctx context.Context, collection string, local, remote Record) (Decision, error) {
	entry := &pendingEntry{
		conflict: PendingConflict{
			Token:      uuid.NewString(),
			Collection: collection,
			Local:      local,
			Remote:     remote,
			RaisedAt:   time.Now(),
		},
		answer: make(chan Decision, 1),
	}

	m.mu.Lock()
	if m.pending == nil {
		m.pending = make(map[string]*pendingEntry)
	}
	m.pending[entry.conflict.Token] = entry
	m.mu.Unlock()

	if m.Notify != nil {
		m.Notify(entry.conflict)
	}

	select {
	case d := <-entry.answer:
		return d, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, entry.conflict.Token)
		m.mu.Unlock()
		return 0, ctx.Err()
	}
}

// Pending lists the conflicts waiting for an answer, oldest first.
func (m *ManualStrategy) Pending() []PendingConflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingConflict, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, e.conflict)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out
}

// Answer delivers a decision for a pending conflict.
func (m *ManualStrategy) Answer(token string, d Decision) error {
	if !d.Valid() {
		return fmt.Errorf("invalid decision %d", int(d))
	}
	m.mu.Lock()
	entry, ok := m.pending[token]
	if ok {
		delete(m.pending, token)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownToken
	}
	entry.answer <- d
	return nil
}
