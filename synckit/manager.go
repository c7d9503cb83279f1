package synckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/logging"
)

// CollectionOutcome counts what one reconciliation of a collection did.
type CollectionOutcome struct {
	Collection string          `json:"collection"`
	Unchanged  int             `json:"unchanged"`
	Inserted   int             `json:"inserted"`
	Conflicts  int             `json:"conflicts"`
	Resolved   int             `json:"resolved"`
	Unresolved int             `json:"unresolved"`
	LocalOnly  int             `json:"local_only"`
	Uploaded   int             `json:"uploaded"`
	Ack        json.RawMessage `json:"ack,omitempty"`
}

// CollectionFailure names a collection whose reconciliation failed.
type CollectionFailure struct {
	Collection string
	Err        error
}

func (f CollectionFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Collection string `json:"collection"`
		Error      string `json:"error"`
	}{f.Collection, f.Err.Error()})
}

// SyncResult summarises one run over every configured collection. A skipped
// result did not reconcile anything; SkipReason says why.
type SyncResult struct {
	RunID      string              `json:"run_id,omitempty"`
	StartTime  time.Time           `json:"start_time"`
	Duration   time.Duration       `json:"duration"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	Outcomes   []CollectionOutcome `json:"outcomes,omitempty"`
	Failures   []CollectionFailure `json:"failures,omitempty"`
	Skipped    bool                `json:"skipped,omitempty"`
	SkipReason error               `json:"-"`
}

// Err joins every collection failure, or returns nil.
func (r *SyncResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f.Err
	}
	return errors.Join(errs...)
}

func skippedResult(reason error) *SyncResult {
	return &SyncResult{StartTime: time.Now(), Skipped: true, SkipReason: reason}
}

// Manager reconciles the local replica with the remote store, one
// collection at a time, and guarantees that at most one run is active.
type Manager struct {
	store              ReplicaStore
	gateway            Gateway
	resolver           *Resolver
	history            *ConflictLog
	collections        []string
	operationTimeout   time.Duration
	overlap            OverlapPolicy
	overwriteUnchanged bool
	logger             *logging.Logger
	metrics            MetricsCollector

	mu          sync.Mutex
	idle        *sync.Cond
	running     bool
	rerun       bool
	closed      bool
	subscribers []func(*SyncResult)
}

// NewManager builds a Manager. Store, gateway and strategy are required.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	o := &managerOptions{
		collections:        DefaultCollections(),
		strategyTimeout:    DefaultStrategyTimeout,
		operationTimeout:   DefaultOperationTimeout,
		overlap:            OverlapDrop,
		historyCapacity:    DefaultHistoryCapacity,
		overwriteUnchanged: true,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, syncErrors.NewConfigError(err)
		}
	}

	switch {
	case o.store == nil:
		return nil, syncErrors.NewConfigError(errors.New("store is required (use WithStore(...))"))
	case o.gateway == nil:
		return nil, syncErrors.NewConfigError(errors.New("gateway is required (use WithGateway(...))"))
	case o.strategy == nil:
		return nil, syncErrors.NewConfigError(errors.New("conflict strategy is required (use WithStrategy(...))"))
	}

	if o.history == nil {
		o.history = NewConflictLog(o.historyCapacity)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	if o.metrics == nil {
		o.metrics = &NoOpMetricsCollector{}
	}

	m := &Manager{
		store:              o.store,
		gateway:            o.gateway,
		resolver:           NewResolver(o.strategy, o.merge, o.strategyTimeout, o.history),
		history:            o.history,
		collections:        o.collections,
		operationTimeout:   o.operationTimeout,
		overlap:            o.overlap,
		overwriteUnchanged: o.overwriteUnchanged,
		logger:             o.logger.WithComponent("orchestrator"),
		metrics:            o.metrics,
	}
	m.idle = sync.NewCond(&m.mu)
	return m, nil
}

// Collections returns the configured collections in run order.
func (m *Manager) Collections() []string { return append([]string(nil), m.collections...) }

// History returns the log of resolved conflicts.
func (m *Manager) History() *ConflictLog { return m.history }

// Store returns the replica store the manager reconciles.
func (m *Manager) Store() ReplicaStore { return m.store }

// RunAll reconciles every configured collection in order. A failure in one
// collection does not stop the others. When a run is already active the
// request is dropped or queued according to the overlap policy and a
// skipped result is returned.
func (m *Manager) RunAll(ctx context.Context) *SyncResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.skip(syncErrors.ErrClosed)
	}
	if m.running {
		if m.overlap == OverlapQueue {
			m.rerun = true
			m.mu.Unlock()
			return m.skip(syncErrors.ErrRunQueued)
		}
		m.mu.Unlock()
		return m.skip(syncErrors.ErrRunInProgress)
	}
	m.running = true
	m.mu.Unlock()

	var result *SyncResult
	for {
		result = m.run(ctx)
		m.notifySubscribers(result)

		m.mu.Lock()
		again := m.rerun && !m.closed && ctx.Err() == nil
		m.rerun = false
		if !again {
			m.running = false
			m.idle.Broadcast()
			m.mu.Unlock()
			return result
		}
		m.mu.Unlock()
		m.logger.Debug("Running queued sync request")
	}
}

func (m *Manager) skip(reason error) *SyncResult {
	m.logger.Info("Sync request skipped", "reason", reason.Error())
	m.metrics.RecordSkip(reason)
	return skippedResult(reason)
}

func (m *Manager) run(ctx context.Context) *SyncResult {
	result := &SyncResult{RunID: newRunID(), StartTime: time.Now()}
	logger := m.logger.WithRun(result.RunID)
	logger.Info("Starting sync run", "collections", len(m.collections))

	for _, collection := range m.collections {
		start := time.Now()
		outcome, err := m.reconcileSafe(ctx, collection)
		elapsed := time.Since(start)

		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, CollectionFailure{Collection: collection, Err: err})
			logger.WithCollection(collection).LogError(ctx, err, "Collection sync failed")
		} else {
			result.Succeeded++
			result.Outcomes = append(result.Outcomes, outcome)
			logger.Info("Collection synced",
				"collection", collection,
				"unchanged", outcome.Unchanged,
				"inserted", outcome.Inserted,
				"conflicts", outcome.Conflicts,
				"resolved", outcome.Resolved,
				"unresolved", outcome.Unresolved,
				"uploaded", outcome.Uploaded,
				"duration", elapsed)
		}
		m.metrics.RecordCollection(collection, outcome, elapsed)
	}

	result.Duration = time.Since(result.StartTime)
	m.metrics.RecordRunDuration(result.Duration)
	logger.Info("Sync run completed",
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", result.Duration)
	return result
}

func (m *Manager) reconcileSafe(ctx context.Context, collection string) (outcome CollectionOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome = CollectionOutcome{Collection: collection}
			err = &syncErrors.SyncError{
				Op:         syncErrors.OpReconcile,
				Component:  "orchestrator",
				Collection: collection,
				Err:        fmt.Errorf("panic: %v", p),
			}
		}
	}()
	return m.ReconcileOne(ctx, collection)
}

// ReconcileOne runs the full pipeline for one collection: export remote,
// read local, classify, apply, then upload the reconciled local content.
func (m *Manager) ReconcileOne(ctx context.Context, collection string) (CollectionOutcome, error) {
	outcome := CollectionOutcome{Collection: collection}
	if !m.hasCollection(collection) {
		return outcome, syncErrors.NewValidationError(syncErrors.OpReconcile,
			fmt.Errorf("collection %q is not configured", collection))
	}
	logger := m.logger.WithCollection(collection)

	remoteRecords, err := m.export(ctx, collection)
	if err != nil {
		return outcome, err
	}
	remote, err := NewSnapshot(remoteRecords)
	if err != nil {
		return outcome, syncErrors.NewIOError(syncErrors.OpExport, collection, err)
	}

	local, err := m.readAll(ctx, collection)
	if err != nil {
		return outcome, err
	}

	// Ids whose conflict stays unresolved are uploaded with the remote
	// version so the remote keeps its state and the conflict comes back.
	unresolved := make(map[string]Record)

	for _, item := range Detect(local, remote) {
		switch item.Class {
		case Unchanged:
			outcome.Unchanged++
			if m.overwriteUnchanged {
				if err := m.upsert(ctx, collection, *item.Remote); err != nil {
					return outcome, err
				}
			}
		case RemoteOnly:
			if err := m.insert(ctx, collection, *item.Remote); err != nil {
				return outcome, err
			}
			outcome.Inserted++
		case LocalOnly:
			outcome.LocalOnly++
		case Conflict:
			outcome.Conflicts++
			res := m.resolver.Resolve(ctx, collection, *item.Local, *item.Remote)
			m.metrics.RecordDecision(collection, res.Decision, res.Resolved())
			if !res.Resolved() {
				outcome.Unresolved++
				unresolved[item.ID] = *item.Remote
				if res.Cause != nil {
					logger.LogError(ctx, res.Cause, "Conflict left unresolved", slog.String("record_id", item.ID))
				} else {
					logger.Debug("Conflict cancelled", "record_id", item.ID)
				}
				continue
			}
			if err := m.upsert(ctx, collection, *res.Record); err != nil {
				return outcome, err
			}
			outcome.Resolved++
			logger.Debug("Conflict resolved", "record_id", item.ID, "decision", res.Decision.String())
		}
	}

	reconciled, err := m.readAll(ctx, collection)
	if err != nil {
		return outcome, err
	}
	upload := reconciled.Records()
	for i, r := range upload {
		if remoteVersion, ok := unresolved[r.ID]; ok {
			upload[i] = remoteVersion
		}
	}

	ack, err := m.importRecords(ctx, collection, upload)
	if err != nil {
		return outcome, err
	}
	outcome.Uploaded = len(upload)
	outcome.Ack = ack
	return outcome, nil
}

func (m *Manager) hasCollection(name string) bool {
	for _, c := range m.collections {
		if c == name {
			return true
		}
	}
	return false
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.operationTimeout > 0 {
		return context.WithTimeout(ctx, m.operationTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) export(ctx context.Context, collection string) ([]Record, error) {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	records, err := m.gateway.Export(opCtx, collection)
	return records, gatewayError(err, syncErrors.OpExport, collection)
}

func (m *Manager) importRecords(ctx context.Context, collection string, records []Record) (json.RawMessage, error) {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	ack, err := m.gateway.Import(opCtx, collection, records)
	return ack, gatewayError(err, syncErrors.OpImport, collection)
}

func (m *Manager) readAll(ctx context.Context, collection string) (Snapshot, error) {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	snap, err := m.store.ReadAll(opCtx, collection)
	return snap, storeError(err, syncErrors.OpRead, collection)
}

func (m *Manager) upsert(ctx context.Context, collection string, r Record) error {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	return storeError(m.store.Upsert(opCtx, collection, r), syncErrors.OpUpsert, collection)
}

func (m *Manager) insert(ctx context.Context, collection string, r Record) error {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	return storeError(m.store.Insert(opCtx, collection, r), syncErrors.OpInsert, collection)
}

func gatewayError(err error, op syncErrors.Operation, collection string) error {
	if err == nil || syncErrors.IsIOFailure(err) {
		return err
	}
	return syncErrors.NewIOError(op, collection, err)
}

func storeError(err error, op syncErrors.Operation, collection string) error {
	if err == nil || syncErrors.IsStoreFailure(err) {
		return err
	}
	return syncErrors.WrapStore(err, op, collection)
}

// Subscribe registers a handler called asynchronously after every run.
func (m *Manager) Subscribe(handler func(*SyncResult)) error {
	if handler == nil {
		return syncErrors.NewValidationError(syncErrors.OpRun, errors.New("handler cannot be nil"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return syncErrors.ErrClosed
	}
	m.subscribers = append(m.subscribers, handler)
	return nil
}

func (m *Manager) notifySubscribers(result *SyncResult) {
	m.mu.Lock()
	subscribers := make([]func(*SyncResult), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	for _, handler := range subscribers {
		go func(h func(*SyncResult)) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Subscriber panic recovered",
						"panic", r,
						"run_id", result.RunID,
						"failed", result.Failed)
				}
			}()
			h(result)
		}(handler)
	}
}

// Close marks the manager closed, waits for an active run to finish and then
// releases the gateway and the store. Later requests are skipped with
// ErrClosed. Close must not be called from a strategy or a store while a run
// is active.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for m.running {
		m.idle.Wait()
	}
	m.subscribers = nil
	m.mu.Unlock()

	var errs []error
	if err := m.gateway.Close(); err != nil {
		errs = append(errs, syncErrors.WrapOpComponent(err, syncErrors.OpClose, "gateway"))
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, syncErrors.WrapOpComponent(err, syncErrors.OpClose, "store"))
	}
	return errors.Join(errs...)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
