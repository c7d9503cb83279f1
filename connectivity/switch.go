// Package connectivity provides the online/offline sources consumed by
// synckit.Monitor: a Switch driven by the embedding application and a
// HealthProbe that polls the remote store.
package connectivity

import (
	"sync"

	"github.com/boxboard/boxsync/synckit"
)

// Switch is a manually driven connectivity source. An embedding UI calls
// Set from its own online/offline events.
type Switch struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

var _ synckit.ConnectivitySource = (*Switch)(nil)

// NewSwitch creates a switch in the given initial state.
func NewSwitch(online bool) *Switch {
	return &Switch{online: online, ch: make(chan bool, 1)}
}

// Set records the new state and reports whether it changed. Only changes
// are published; a slow reader sees the latest state, not every flip.
func (s *Switch) Set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online == online {
		return false
	}
	s.online = online

	select {
	case s.ch <- online:
	default:
		// Replace the unread stale value.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- online
	}
	return true
}

func (s *Switch) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Switch) Transitions() <-chan bool {
	return s.ch
}
