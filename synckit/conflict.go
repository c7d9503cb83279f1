package synckit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	syncErrors "github.com/boxboard/boxsync/errors"
)

// Decision is the choice made for one conflicting record.
type Decision int

const (
	KeepLocal Decision = iota + 1
	KeepRemote
	Merge
	Cancel
)

var decisionNames = map[Decision]string{
	KeepLocal:  "keep_local",
	KeepRemote: "keep_remote",
	Merge:      "merge",
	Cancel:     "cancel",
}

func (d Decision) String() string {
	if s, ok := decisionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Valid reports whether d is one of the four known decisions.
func (d Decision) Valid() bool {
	_, ok := decisionNames[d]
	return ok
}

// ParseDecision accepts the text form of a decision, case-insensitively.
// "local" and "remote" are accepted as shorthands.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep_local", "local":
		return KeepLocal, nil
	case "keep_remote", "remote":
		return KeepRemote, nil
	case "merge":
		return Merge, nil
	case "cancel":
		return Cancel, nil
	}
	return 0, fmt.Errorf("unknown decision %q", s)
}

func (d Decision) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid decision %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(text []byte) error {
	parsed, err := ParseDecision(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ConflictStrategy decides the fate of a record that was modified on both
// sides. Implementations may block (for example waiting on a user) and must
// return once ctx is done.
type ConflictStrategy interface {
	Decide(ctx context.Context, collection string, local, remote Record) (Decision, error)
}

// StrategyFunc adapts a function to ConflictStrategy.
type StrategyFunc func(ctx context.Context, collection string, local, remote Record) (Decision, error)

func (f StrategyFunc) Decide(ctx context.Context, collection string, local, remote Record) (Decision, error) {
	return f(ctx, collection, local, remote)
}

// MergeFunc combines two versions of a record into one.
type MergeFunc func(collection string, local, remote Record) (Record, error)

// OverlayMerge starts from the remote fields and overlays the local ones.
// The local updated_at is kept so the merged record is newer than neither
// side in equality terms and is uploaded as the local version.
func OverlayMerge(_ string, local, remote Record) (Record, error) {
	if local.ID != remote.ID {
		return Record{}, fmt.Errorf("cannot merge records %q and %q", local.ID, remote.ID)
	}
	out := remote.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(local.Fields))
	}
	for k, v := range local.Fields {
		out.Fields[k] = v
	}
	out.UpdatedAt = local.UpdatedAt
	return out, nil
}

// DefaultStrategyTimeout bounds how long a strategy may take to decide.
const DefaultStrategyTimeout = 60 * time.Second

// Resolution is the outcome of resolving one conflict. Record is nil when the
// conflict stays unresolved; Cause then tells why, unless the strategy simply
// chose Cancel.
type Resolution struct {
	Record   *Record
	Decision Decision
	Cause    error
}

// Resolved reports whether a record was chosen.
func (r Resolution) Resolved() bool { return r.Record != nil }

// Resolver applies a ConflictStrategy to one conflict at a time and records
// every resolving decision in a ConflictLog.
type Resolver struct {
	strategy ConflictStrategy
	merge    MergeFunc
	timeout  time.Duration
	log      *ConflictLog
	now      func() time.Time
}

// NewResolver builds a Resolver. A nil log disables history; a non-positive
// timeout means DefaultStrategyTimeout.
func NewResolver(strategy ConflictStrategy, merge MergeFunc, timeout time.Duration, log *ConflictLog) *Resolver {
	if timeout <= 0 {
		timeout = DefaultStrategyTimeout
	}
	return &Resolver{strategy: strategy, merge: merge, timeout: timeout, log: log, now: time.Now}
}

// Resolve asks the strategy for a decision and turns it into a chosen
// record. A strategy error, an unknown decision, a failed merge or a missed
// deadline all degrade to Cancel.
func (r *Resolver) Resolve(ctx context.Context, collection string, local, remote Record) Resolution {
	decision, err := r.decide(ctx, collection, local, remote)
	if err != nil {
		return Resolution{Decision: Cancel, Cause: err}
	}

	var chosen Record
	switch decision {
	case KeepLocal:
		chosen = local
	case KeepRemote:
		chosen = remote
	case Merge:
		if r.merge == nil {
			chosen = local
			break
		}
		merged, err := r.merge(collection, local.Clone(), remote.Clone())
		if err != nil {
			return Resolution{Decision: Cancel, Cause: fmt.Errorf("merge %s/%s: %w", collection, local.ID, err)}
		}
		merged.ID = local.ID
		chosen = merged
	case Cancel:
		return Resolution{Decision: Cancel}
	default:
		return Resolution{Decision: Cancel, Cause: fmt.Errorf("strategy returned unknown %s", decision)}
	}

	if r.log != nil {
		r.log.Append(ConflictLogEntry{
			Collection: collection,
			RecordID:   local.ID,
			Decision:   decision,
			ResolvedAt: r.now(),
		})
	}
	return Resolution{Record: &chosen, Decision: decision}
}

type decideResult struct {
	decision Decision
	err      error
}

func (r *Resolver) decide(ctx context.Context, collection string, local, remote Record) (Decision, error) {
	if r.strategy == nil {
		return 0, errors.New("no conflict strategy configured")
	}
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The strategy runs on its own goroutine so a strategy that ignores its
	// context cannot hold the run past the deadline.
	done := make(chan decideResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- decideResult{err: fmt.Errorf("strategy panic: %v", p)}
			}
		}()
		d, err := r.strategy.Decide(dctx, collection, local.Clone(), remote.Clone())
		done <- decideResult{decision: d, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && dctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return 0, syncErrors.NewStrategyTimeout(collection, local.ID, res.err)
		}
		return res.decision, res.err
	case <-dctx.Done():
		if ctx.Err() == nil {
			return 0, syncErrors.NewStrategyTimeout(collection, local.ID, dctx.Err())
		}
		return 0, ctx.Err()
	}
}
