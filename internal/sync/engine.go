// Package sync drains the offline event log against the central API,
// mirrors remote changes back into the local store, uploads staged images,
// and runs the retention sweep. One pass runs at a time; concurrent
// requests coalesce.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/blob"
	"github.com/shelfware/shelfsyncgo/internal/config"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/remote"
	"github.com/shelfware/shelfsyncgo/internal/store"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// Engine orchestrates all synchronization between the local store and the
// central server
type Engine struct {
	mu sync.RWMutex

	store    *store.Store
	api      remote.API
	uploader blob.Uploader
	config   *config.SyncConfig
	resolver *ConflictResolver

	// State
	isRunning      bool
	syncInProgress bool
	lastSync       time.Time
	lastPull       time.Time
	lastSweep      time.Time
	lastResult     *PassResult

	// Channels
	stopChan chan struct{}
	syncChan chan struct{}
}

// PassResult summarizes one sync pass
type PassResult struct {
	mu sync.Mutex

	EventsSynced   int           `json:"events_synced"`
	EventsFailed   int           `json:"events_failed"`
	ConflictsFound int           `json:"conflicts_found"`
	AutoMerged     int           `json:"auto_merged"`
	ImagesUploaded int           `json:"images_uploaded"`
	RecordsPulled  int           `json:"records_pulled"`
	Purged         int64         `json:"purged"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
	Timestamp      time.Time     `json:"timestamp"`
}

// NewEngine creates a sync engine over the local store and remote API.
// The uploader may be nil when no image backend is configured; staged
// images then wait until one is.
func NewEngine(st *store.Store, api remote.API, uploader blob.Uploader, cfg *config.SyncConfig) *Engine {
	return &Engine{
		store:    st,
		api:      api,
		uploader: uploader,
		config:   cfg,
		resolver: NewConflictResolver(st),
		stopChan: make(chan struct{}),
		syncChan: make(chan struct{}, 1),
	}
}

// Resolver exposes the conflict resolver for the HTTP surface
func (e *Engine) Resolver() *ConflictResolver {
	return e.resolver
}

// Start starts the sync engine
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("sync engine already running")
	}
	if !e.config.Enabled {
		log.Println("⏭️ Sync disabled by config, engine not started")
		return nil
	}

	e.isRunning = true
	log.Println("🔄 Sync Engine starting...")

	// A kill mid-pass strands events in syncing and blobs in uploading;
	// requeue them before the first drain.
	if recovered, err := e.store.RecoverInterrupted(); err != nil {
		log.Printf("⚠️ Interrupted work recovery failed: %v", err)
	} else if recovered > 0 {
		log.Printf("🔄 Requeued %d operations interrupted by shutdown", recovered)
	}

	go e.syncWorker()

	if e.config.AutoSyncEnabled {
		go e.autoSyncLoop()
	}

	if e.config.SyncOnStartup {
		go func() {
			time.Sleep(2 * time.Second) // Wait for initialization
			e.RequestSync()
		}()
	}

	log.Println("✅ Sync Engine started")
	return nil
}

// Stop stops the sync engine
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return
	}

	log.Println("🛑 Stopping Sync Engine...")
	e.isRunning = false
	close(e.stopChan)
	log.Println("✅ Sync Engine stopped")
}

// RequestSync asks for a sync pass. Requests arriving while a pass runs
// coalesce into at most one follow-up pass.
func (e *Engine) RequestSync() {
	select {
	case e.syncChan <- struct{}{}:
	default:
	}
}

// RunPass executes one synchronous pass, for callers that need the result
func (e *Engine) RunPass(ctx context.Context) *PassResult {
	return e.runPass(ctx)
}

func (e *Engine) syncWorker() {
	for {
		select {
		case <-e.syncChan:
			e.runPass(context.Background())
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) autoSyncLoop() {
	interval := time.Duration(e.config.AutoSyncInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.RequestSync()
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) runPass(ctx context.Context) *PassResult {
	e.mu.Lock()
	if e.syncInProgress {
		e.mu.Unlock()
		log.Println("⏳ Sync already in progress, skipping")
		return nil
	}
	e.syncInProgress = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncInProgress = false
		e.mu.Unlock()
	}()

	start := time.Now()
	result := &PassResult{Timestamp: start.UTC()}

	e.drainEvents(ctx, result)
	e.drainImages(ctx, result)
	e.pullRemote(ctx, result)
	e.runMaintenance(result)

	result.Duration = time.Since(start)
	log.Printf("✅ Sync pass done in %v: %d synced, %d conflicts, %d failed, %d pulled, %d images",
		result.Duration, result.EventsSynced, result.ConflictsFound, result.EventsFailed,
		result.RecordsPulled, result.ImagesUploaded)

	e.mu.Lock()
	e.lastSync = time.Now()
	e.lastResult = result
	e.mu.Unlock()

	return result
}

// drainEvents pushes queued events, grouped per entity so each entity's
// history replays in order while distinct entities sync in parallel.
func (e *Engine) drainEvents(ctx context.Context, result *PassResult) {
	events, err := e.store.NextBatch(e.config.BatchSize, e.config.MaxRetries, time.Now().UTC())
	if err != nil {
		result.addError(err)
		return
	}
	if len(events) == 0 {
		return
	}

	log.Printf("🔄 Draining %d queued events", len(events))

	groups := splitGroups(events)
	workers := e.config.ParallelWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(groups) {
		workers = len(groups)
	}

	groupChan := make(chan []models.OfflineEvent)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range groupChan {
				e.processGroup(ctx, group, result)
			}
		}()
	}
	for _, group := range groups {
		groupChan <- group
	}
	close(groupChan)
	wg.Wait()
}

// splitGroups cuts the ordered batch into contiguous per-entity runs
func splitGroups(events []models.OfflineEvent) [][]models.OfflineEvent {
	var groups [][]models.OfflineEvent
	start := 0
	for i := 1; i <= len(events); i++ {
		if i == len(events) ||
			events[i].Entity != events[start].Entity ||
			events[i].EntityID != events[start].EntityID {
			groups = append(groups, events[start:i])
			start = i
		}
	}
	return groups
}

// processGroup replays one entity's events in order. The first conflict or
// failure stops the group; later events stay queued behind it.
func (e *Engine) processGroup(ctx context.Context, group []models.OfflineEvent, result *PassResult) {
	for i := range group {
		if e.processEvent(ctx, &group[i], result) != outcomeSynced {
			return
		}
	}
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeConflict
	outcomeFailed
)

func (e *Engine) processEvent(ctx context.Context, event *models.OfflineEvent, result *PassResult) outcome {
	if err := e.store.MarkEventStatus(event.EventID, models.EventStatusSyncing, ""); err != nil {
		result.addError(err)
		return outcomeFailed
	}

	opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var out outcome
	var err error
	switch event.Type {
	case models.EventCreate:
		out, err = e.pushCreate(opCtx, event)
	case models.EventUpdate, models.EventMove, models.EventAssign:
		out, err = e.pushMutation(opCtx, event, result)
	case models.EventDelete:
		out, err = e.pushDelete(opCtx, event)
	default:
		err = &syncerr.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", event.Type)}
	}

	if err != nil {
		e.failEvent(event, err, result)
		return outcomeFailed
	}

	switch out {
	case outcomeSynced:
		result.addSynced()
	case outcomeConflict:
		result.addConflict()
	}
	return out
}

// pushCreate sends a CREATE and installs the server-assigned id locally.
// A duplicate-key rejection means another device already created the same
// record, which files a CREATE_CREATE conflict.
func (e *Engine) pushCreate(ctx context.Context, event *models.OfflineEvent) (outcome, error) {
	fields, err := eventFields(event)
	if err != nil {
		return outcomeFailed, err
	}
	// The server assigns the canonical id; the offline placeholder stays
	// local.
	if id, ok := fields["id"].(string); ok && models.IsOfflineID(id) {
		delete(fields, "id")
	}

	created, err := e.api.Create(ctx, event.Entity, fields)
	if err == nil {
		return outcomeSynced, e.store.CommitCreateResult(event, created)
	}

	if syncerr.IsDuplicate(err) {
		serverTwin := e.lookupTwin(ctx, event, fields)
		if _, cErr := e.store.RecordConflict(event, models.ConflictCreateCreate, serverTwin); cErr != nil {
			return outcomeFailed, cErr
		}
		return outcomeConflict, nil
	}
	return outcomeFailed, err
}

// lookupTwin fetches the server record that collided with a local create
func (e *Engine) lookupTwin(ctx context.Context, event *models.OfflineEvent, fields remote.Record) map[string]interface{} {
	code, _ := fields["qr_code"].(string)
	if code == "" {
		return map[string]interface{}{}
	}
	twin, err := e.api.GetByQRCode(ctx, event.Entity, code)
	if err != nil {
		log.Printf("⚠️ Could not fetch conflicting record for %s %s: %v", event.Entity, event.EntityID, err)
		return map[string]interface{}{}
	}
	return twin
}

// pushMutation sends an UPDATE/MOVE/ASSIGN patch after checking the server
// record against the baseline captured when the event was recorded.
func (e *Engine) pushMutation(ctx context.Context, event *models.OfflineEvent, result *PassResult) (outcome, error) {
	serverRec, err := e.api.Get(ctx, event.Entity, event.EntityID)
	if err != nil {
		if syncerr.IsNotFound(err) {
			if _, cErr := e.store.RecordConflict(event, models.ConflictDeleteUpdate, map[string]interface{}{"deleted": true}); cErr != nil {
				return outcomeFailed, cErr
			}
			return outcomeConflict, nil
		}
		return outcomeFailed, err
	}
	if deleted, _ := serverRec["deleted"].(bool); deleted {
		if _, cErr := e.store.RecordConflict(event, models.ConflictDeleteUpdate, serverRec); cErr != nil {
			return outcomeFailed, cErr
		}
		return outcomeConflict, nil
	}

	fields, err := eventFields(event)
	if err != nil {
		return outcomeFailed, err
	}

	if e.resolver.Diverged(event, serverRec) {
		if e.resolver.CanAutoMerge(event, serverRec) {
			// Disjoint field sets merge silently: our patch cannot clobber
			// what the other device changed.
			updated, err := e.api.Update(ctx, event.Entity, event.EntityID, fields)
			if err != nil {
				return outcomeFailed, err
			}
			result.addMerged()
			return outcomeSynced, e.store.CommitSyncedMutation(event, updated)
		}

		conflictType := e.resolver.Classify(event, serverRec)
		if _, cErr := e.store.RecordConflict(event, conflictType, serverRec); cErr != nil {
			return outcomeFailed, cErr
		}
		return outcomeConflict, nil
	}

	updated, err := e.api.Update(ctx, event.Entity, event.EntityID, fields)
	if err != nil {
		return outcomeFailed, err
	}
	return outcomeSynced, e.store.CommitSyncedMutation(event, updated)
}

// pushDelete sends a DELETE. The record already being gone remotely is a
// benign outcome, not a conflict.
func (e *Engine) pushDelete(ctx context.Context, event *models.OfflineEvent) (outcome, error) {
	err := e.api.Delete(ctx, event.Entity, event.EntityID)
	if err != nil && !syncerr.IsNotFound(err) {
		return outcomeFailed, err
	}
	return outcomeSynced, e.store.CommitDelete(event)
}

// failEvent records a failed push. Validation and duplicate rejections are
// permanent: retrying the same payload cannot succeed, so the event waits
// for a corrective local edit instead of burning retry attempts.
func (e *Engine) failEvent(event *models.OfflineEvent, err error, result *PassResult) {
	result.addFailed(err)

	if syncerr.IsValidation(err) || syncerr.IsDuplicate(err) {
		log.Printf("🛑 Event %s rejected permanently: %v", event.EventID, err)
		if mErr := e.store.MarkEventFailed(event.EventID, err.Error(), nil, false); mErr != nil {
			result.addError(mErr)
		}
		return
	}

	retryAt := time.Now().UTC().Add(nextBackoff(event.SyncAttempts+1, e.config.BackoffMin(), e.config.BackoffMax()))
	log.Printf("⚠️ Event %s failed (attempt %d), retry after %s: %v",
		event.EventID, event.SyncAttempts+1, retryAt.Format(time.RFC3339), err)
	if mErr := e.store.MarkEventFailed(event.EventID, err.Error(), &retryAt, true); mErr != nil {
		result.addError(mErr)
	}
}

// eventFields decodes an event payload into the wire record
func eventFields(event *models.OfflineEvent) (remote.Record, error) {
	fields := remote.Record{}
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &fields); err != nil {
			return nil, &syncerr.ValidationError{Field: "data", Reason: err.Error()}
		}
	}
	return fields, nil
}

// Status reports the engine state for the HTTP surface
func (e *Engine) Status() map[string]interface{} {
	e.mu.RLock()
	status := map[string]interface{}{
		"is_running":       e.isRunning,
		"sync_in_progress": e.syncInProgress,
		"auto_sync":        e.config.AutoSyncEnabled,
	}
	if !e.lastSync.IsZero() {
		status["last_sync"] = e.lastSync.UTC()
	}
	if e.lastResult != nil {
		status["last_result"] = e.lastResult
	}
	e.mu.RUnlock()

	if pending, err := e.store.PendingEventCount(); err == nil {
		status["pending_events"] = pending
	}
	if unresolved, err := e.store.UnresolvedConflictCount(); err == nil {
		status["unresolved_conflicts"] = unresolved
	}
	return status
}

func (r *PassResult) addError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err.Error())
}

func (r *PassResult) addSynced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EventsSynced++
}

func (r *PassResult) addConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ConflictsFound++
}

func (r *PassResult) addMerged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AutoMerged++
}

func (r *PassResult) addFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EventsFailed++
	r.Errors = append(r.Errors, err.Error())
}
