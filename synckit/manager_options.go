package synckit

import (
	"errors"
	"fmt"
	"time"

	"github.com/boxboard/boxsync/logging"
)

// DefaultOperationTimeout bounds every single store or gateway call.
const DefaultOperationTimeout = 30 * time.Second

// OverlapPolicy says what happens to a run request that arrives while a run
// is active.
type OverlapPolicy string

const (
	// OverlapDrop skips the request.
	OverlapDrop OverlapPolicy = "drop"
	// OverlapQueue schedules one more run right after the active one.
	// Several queued requests coalesce into that single run.
	OverlapQueue OverlapPolicy = "queue"
)

// ParseOverlapPolicy accepts "drop" or "queue"; an empty string means drop.
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(s) {
	case "", OverlapDrop:
		return OverlapDrop, nil
	case OverlapQueue:
		return OverlapQueue, nil
	}
	return "", fmt.Errorf("unknown overlap policy %q", s)
}

type managerOptions struct {
	store              ReplicaStore
	gateway            Gateway
	strategy           ConflictStrategy
	merge              MergeFunc
	collections        []string
	strategyTimeout    time.Duration
	operationTimeout   time.Duration
	overlap            OverlapPolicy
	history            *ConflictLog
	historyCapacity    int
	overwriteUnchanged bool
	logger             *logging.Logger
	metrics            MetricsCollector
}

// ManagerOption is a functional option for NewManager.
type ManagerOption func(*managerOptions) error

// WithStore injects the local replica store.
func WithStore(s ReplicaStore) ManagerOption {
	return func(o *managerOptions) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		o.store = s
		return nil
	}
}

// WithGateway injects the remote gateway.
func WithGateway(g Gateway) ManagerOption {
	return func(o *managerOptions) error {
		if g == nil {
			return errors.New("gateway cannot be nil")
		}
		o.gateway = g
		return nil
	}
}

// WithStrategy sets the conflict strategy.
func WithStrategy(s ConflictStrategy) ManagerOption {
	return func(o *managerOptions) error {
		if s == nil {
			return errors.New("strategy cannot be nil")
		}
		o.strategy = s
		return nil
	}
}

// WithMerge sets the function applied on a Merge decision. Without it Merge
// keeps the local version.
func WithMerge(fn MergeFunc) ManagerOption {
	return func(o *managerOptions) error {
		o.merge = fn
		return nil
	}
}

// WithCollections sets the collections and their reconciliation order.
func WithCollections(names ...string) ManagerOption {
	return func(o *managerOptions) error {
		if err := ValidateCollections(names); err != nil {
			return err
		}
		o.collections = append([]string(nil), names...)
		return nil
	}
}

func WithStrategyTimeout(d time.Duration) ManagerOption {
	return func(o *managerOptions) error {
		if d <= 0 {
			return errors.New("strategy timeout must be positive")
		}
		o.strategyTimeout = d
		return nil
	}
}

func WithOperationTimeout(d time.Duration) ManagerOption {
	return func(o *managerOptions) error {
		if d <= 0 {
			return errors.New("operation timeout must be positive")
		}
		o.operationTimeout = d
		return nil
	}
}

func WithOverlapPolicy(p OverlapPolicy) ManagerOption {
	return func(o *managerOptions) error {
		parsed, err := ParseOverlapPolicy(string(p))
		if err != nil {
			return err
		}
		o.overlap = parsed
		return nil
	}
}

// WithHistory shares an existing conflict log.
func WithHistory(l *ConflictLog) ManagerOption {
	return func(o *managerOptions) error {
		o.history = l
		return nil
	}
}

// WithHistoryCapacity sizes the conflict log created by NewManager.
func WithHistoryCapacity(n int) ManagerOption {
	return func(o *managerOptions) error {
		if n <= 0 {
			return errors.New("history capacity must be positive")
		}
		o.historyCapacity = n
		return nil
	}
}

// WithUnchangedOverwrite controls whether records with equal updated_at on
// both sides are overwritten locally with the remote version. It is on by
// default, which means unsynced local edits that kept their updated_at are
// lost.
func WithUnchangedOverwrite(enabled bool) ManagerOption {
	return func(o *managerOptions) error {
		o.overwriteUnchanged = enabled
		return nil
	}
}

func WithLogger(l *logging.Logger) ManagerOption {
	return func(o *managerOptions) error {
		o.logger = l
		return nil
	}
}

func WithMetrics(m MetricsCollector) ManagerOption {
	return func(o *managerOptions) error {
		o.metrics = m
		return nil
	}
}
