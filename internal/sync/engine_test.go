package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/config"
	"github.com/shelfware/shelfsyncgo/internal/database"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/remote"
	"github.com/shelfware/shelfsyncgo/internal/store"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// fakeAPI is an in-memory stand-in for the central server
type fakeAPI struct {
	mu sync.Mutex

	records map[string]remote.Record // entity/id -> record
	nextID  int

	createErr error
	getErr    error
	updateErr error
	deleteErr error

	createCalls int
	updateCalls int
	deleteCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{records: make(map[string]remote.Record), nextID: 100}
}

func key(entity models.EntityType, id string) string {
	return string(entity) + "/" + id
}

func (f *fakeAPI) put(entity models.EntityType, id string, record remote.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record["id"] = id
	f.records[key(entity, id)] = record
}

func (f *fakeAPI) Create(ctx context.Context, entity models.EntityType, fields remote.Record) (remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}

	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	record := remote.Record{"updated_at": time.Now().UTC().Format(time.RFC3339Nano)}
	for k, v := range fields {
		record[k] = v
	}
	record["id"] = id
	f.records[key(entity, id)] = record
	return record, nil
}

func (f *fakeAPI) Get(ctx context.Context, entity models.EntityType, id string) (remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	record, ok := f.records[key(entity, id)]
	if !ok {
		return nil, syncerr.ErrNotFound
	}
	return record, nil
}

func (f *fakeAPI) GetByQRCode(ctx context.Context, entity models.EntityType, code string) (remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record["qr_code"] == code {
			return record, nil
		}
	}
	return nil, syncerr.ErrNotFound
}

func (f *fakeAPI) Update(ctx context.Context, entity models.EntityType, id string, fields remote.Record) (remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	record, ok := f.records[key(entity, id)]
	if !ok {
		return nil, syncerr.ErrNotFound
	}
	for k, v := range fields {
		record[k] = v
	}
	record["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return record, nil
}

func (f *fakeAPI) Delete(ctx context.Context, entity models.EntityType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.records[key(entity, id)]; !ok {
		return syncerr.ErrNotFound
	}
	delete(f.records, key(entity, id))
	return nil
}

func (f *fakeAPI) List(ctx context.Context, entity models.EntityType, since *time.Time) ([]remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Record
	prefix := string(entity) + "/"
	for k, record := range f.records {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

var _ remote.API = (*fakeAPI)(nil)

func testConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Enabled:         true,
		MaxRetries:      3,
		BatchSize:       100,
		ParallelWorkers: 2,
		BackoffMinMs:    1,
		BackoffMaxMs:    2,
		RetentionDays:   30,
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeAPI) {
	t.Helper()

	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db, notify.NewBus(), "device_test", store.ImagingOptions{}, nil)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	api := newFakeAPI()
	engine := NewEngine(st, api, nil, testConfig())
	return engine, st, api
}

func createLocalItem(t *testing.T, st *store.Store, payload map[string]interface{}) (models.SyncableRecord, *models.OfflineEvent) {
	t.Helper()
	rec, event, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventCreate, "", payload)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec, event
}

// syncItem pushes one locally created item through a pass and returns its
// server-assigned id
func syncItem(t *testing.T, engine *Engine, st *store.Store, payload map[string]interface{}) string {
	t.Helper()
	rec, _ := createLocalItem(t, st, payload)
	engine.RunPass(context.Background())

	if _, err := st.Get(models.EntityTypeItem, rec.GetID()); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("offline row survived sync: %v", err)
	}
	records, err := st.List(models.EntityTypeItem, store.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, r := range records {
		if r.Meta().SyncStatus == models.SyncStatusSynced {
			return r.GetID()
		}
	}
	t.Fatal("no synced item found")
	return ""
}

func TestCreateSyncAssignsServerID(t *testing.T) {
	engine, st, api := newTestEngine(t)

	rec, event := createLocalItem(t, st, map[string]interface{}{"name": "Drill", "qr_code": "QR-1"})
	offlineID := rec.GetID()

	result := engine.RunPass(context.Background())
	if result.EventsSynced != 1 {
		t.Fatalf("synced %d events, want 1: %+v", result.EventsSynced, result.Errors)
	}
	if api.createCalls != 1 {
		t.Errorf("create calls %d", api.createCalls)
	}

	got, err := st.GetEvent(event.EventID)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if got.Status != models.EventStatusSynced {
		t.Errorf("event status %s", got.Status)
	}
	if got.EntityID == offlineID {
		t.Error("event still keyed by offline id")
	}

	synced, err := st.Get(models.EntityTypeItem, got.EntityID)
	if err != nil {
		t.Fatalf("get synced row: %v", err)
	}
	if synced.Meta().SyncStatus != models.SyncStatusSynced {
		t.Errorf("mirror status %s", synced.Meta().SyncStatus)
	}
	if synced.Meta().ServerUpdatedAt == nil {
		t.Error("server stamp missing after sync")
	}
}

func TestUpdateWithoutDivergencePushes(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill"})

	if _, _, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"selling_price": 25.0,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	result := engine.RunPass(context.Background())
	if result.EventsSynced != 1 || result.ConflictsFound != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	serverRec, _ := api.Get(context.Background(), models.EntityTypeItem, id)
	if serverRec["selling_price"] != 25.0 {
		t.Errorf("server selling_price %v", serverRec["selling_price"])
	}
}

func TestOverlappingEditRecordsConflict(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill", "selling_price": 10.0})

	if _, _, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"selling_price": 25.0,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Another device changed the same field after our baseline.
	serverRec, _ := api.Get(context.Background(), models.EntityTypeItem, id)
	serverRec["selling_price"] = 40.0
	serverRec["updated_at"] = time.Now().UTC().Add(time.Minute).Format(time.RFC3339Nano)

	result := engine.RunPass(context.Background())
	if result.ConflictsFound != 1 {
		t.Fatalf("expected 1 conflict, got %+v", result)
	}

	conflicts, err := st.GetConflicts(false)
	if err != nil {
		t.Fatalf("conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Type != models.ConflictUpdateUpdate {
		t.Fatalf("conflicts %+v", conflicts)
	}

	// The conflicted entity is blocked: a follow-up edit must not drain.
	if _, _, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"notes": "blocked",
	}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	updatesBefore := api.updateCalls
	engine.RunPass(context.Background())
	if api.updateCalls != updatesBefore {
		t.Error("blocked entity still reached the server")
	}
}

func TestDisjointEditsAutoMerge(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill", "selling_price": 10.0})

	if _, _, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"notes": "needs new battery",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Remote edit touches a different field.
	serverRec, _ := api.Get(context.Background(), models.EntityTypeItem, id)
	serverRec["selling_price"] = 40.0
	serverRec["updated_at"] = time.Now().UTC().Add(time.Minute).Format(time.RFC3339Nano)

	result := engine.RunPass(context.Background())
	if result.ConflictsFound != 0 || result.AutoMerged != 1 || result.EventsSynced != 1 {
		t.Fatalf("expected silent merge, got %+v", result)
	}

	merged, _ := api.Get(context.Background(), models.EntityTypeItem, id)
	if merged["notes"] != "needs new battery" || merged["selling_price"] != 40.0 {
		t.Errorf("merge lost an edit: %v", merged)
	}
}

func TestDeleteAgainstMissingRemoteIsBenign(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill"})

	// The record disappears remotely before our delete drains.
	api.mu.Lock()
	delete(api.records, key(models.EntityTypeItem, id))
	api.mu.Unlock()

	_, event, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventDelete, id, nil)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	result := engine.RunPass(context.Background())
	if result.EventsSynced != 1 || result.ConflictsFound != 0 {
		t.Fatalf("expected benign delete, got %+v", result)
	}
	got, _ := st.GetEvent(event.EventID)
	if got.Status != models.EventStatusSynced {
		t.Errorf("event status %s", got.Status)
	}
}

func TestUpdateAgainstDeletedRemoteConflicts(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill"})

	api.mu.Lock()
	delete(api.records, key(models.EntityTypeItem, id))
	api.mu.Unlock()

	if _, _, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"notes": "still here",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	result := engine.RunPass(context.Background())
	if result.ConflictsFound != 1 {
		t.Fatalf("expected conflict, got %+v", result)
	}
	conflicts, _ := st.GetConflicts(false)
	if len(conflicts) != 1 || conflicts[0].Type != models.ConflictDeleteUpdate {
		t.Fatalf("conflicts %+v", conflicts)
	}
}

func TestNetworkFailureBacksOffThenExhausts(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill"})

	if _, event, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"notes": "offline edit",
	}); err != nil {
		t.Fatalf("update: %v", err)
	} else {
		api.mu.Lock()
		api.getErr = &syncerr.NetworkError{Op: "get", Err: errors.New("connection refused")}
		api.mu.Unlock()

		for i := 0; i < 3; i++ {
			engine.RunPass(context.Background())
			time.Sleep(5 * time.Millisecond) // let the 1-2ms backoff expire
		}

		got, err := st.GetEvent(event.EventID)
		if err != nil {
			t.Fatalf("event: %v", err)
		}
		if got.Status != models.EventStatusFailed {
			t.Errorf("status %s", got.Status)
		}
		if got.SyncAttempts != 3 {
			t.Errorf("attempts %d, want 3", got.SyncAttempts)
		}
		if got.ErrorMessage == nil {
			t.Error("error message not recorded")
		}

		// Exhausted events stay parked.
		result := engine.RunPass(context.Background())
		if result.EventsFailed != 0 || result.EventsSynced != 0 {
			t.Errorf("exhausted event was retried: %+v", result)
		}
		after, _ := st.GetEvent(event.EventID)
		if after.SyncAttempts != 3 {
			t.Errorf("attempts moved to %d", after.SyncAttempts)
		}
	}
}

func TestPassIsIdempotent(t *testing.T) {
	engine, st, api := newTestEngine(t)
	syncItem(t, engine, st, map[string]interface{}{"name": "Drill"})

	creates := api.createCalls
	result := engine.RunPass(context.Background())
	if result.EventsSynced != 0 || api.createCalls != creates {
		t.Fatalf("second pass re-pushed work: %+v", result)
	}
}

func TestPullMirrorsRemoteChanges(t *testing.T) {
	engine, st, api := newTestEngine(t)

	api.put(models.EntityTypeItem, "500", remote.Record{
		"name":       "Remote Saw",
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})

	result := engine.RunPass(context.Background())
	if result.RecordsPulled != 1 {
		t.Fatalf("pulled %d, want 1: %+v", result.RecordsPulled, result.Errors)
	}

	rec, err := st.Get(models.EntityTypeItem, "500")
	if err != nil {
		t.Fatalf("get pulled: %v", err)
	}
	if rec.Meta().SyncStatus != models.SyncStatusSynced {
		t.Errorf("status %s", rec.Meta().SyncStatus)
	}
}

func TestPullResumesAfterConflictResolution(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill", "selling_price": 10.0})

	if _, _, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"selling_price": 25.0,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	serverRec, _ := api.Get(context.Background(), models.EntityTypeItem, id)
	serverRec["selling_price"] = 40.0
	serverRec["updated_at"] = time.Now().UTC().Add(time.Minute).Format(time.RFC3339Nano)

	result := engine.RunPass(context.Background())
	if result.ConflictsFound != 1 {
		t.Fatalf("expected conflict, got %+v", result)
	}
	conflicts, err := st.GetConflicts(false)
	if err != nil || len(conflicts) != 1 {
		t.Fatalf("conflicts: %v %v", conflicts, err)
	}
	if _, err := engine.Resolver().Resolve(conflicts[0].ID, models.ResolutionServer, nil, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A later remote-only edit must still reach the mirror; an entity that
	// once conflicted is not excluded from pulls forever.
	api.mu.Lock()
	row := api.records[key(models.EntityTypeItem, id)]
	row["notes"] = "remote note"
	row["updated_at"] = time.Now().UTC().Add(2 * time.Minute).Format(time.RFC3339Nano)
	api.mu.Unlock()

	pullResult := &PassResult{}
	engine.pullRemote(context.Background(), pullResult)

	rec, err := st.Get(models.EntityTypeItem, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.(*models.Item).Notes != "remote note" {
		t.Errorf("remote-only change never mirrored: notes=%q", rec.(*models.Item).Notes)
	}
}

func TestPullHoldsWatermarkOnRecordFailure(t *testing.T) {
	engine, st, api := newTestEngine(t)

	api.put(models.EntityTypeItem, "600", remote.Record{
		"name":       "Saw",
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	engine.pullRemote(context.Background(), &PassResult{})
	if _, err := st.Get(models.EntityTypeItem, "600"); err != nil {
		t.Fatalf("clean pull did not mirror: %v", err)
	}

	engine.mu.RLock()
	first := engine.lastPull
	engine.mu.RUnlock()
	if first.IsZero() {
		t.Fatal("watermark did not advance on a clean pull")
	}

	// A record the mirror cannot decode fails MarkSynced; the watermark
	// must hold so the next pass sees it again.
	api.put(models.EntityTypeItem, "601", remote.Record{
		"name": map[string]interface{}{"bad": true},
	})
	result := &PassResult{}
	engine.pullRemote(context.Background(), result)
	if len(result.Errors) == 0 {
		t.Fatal("record failure not reported")
	}

	engine.mu.RLock()
	second := engine.lastPull
	engine.mu.RUnlock()
	if !second.Equal(first) {
		t.Errorf("watermark advanced past a failed record: %v -> %v", first, second)
	}
}

func TestPullSkipsRowsWithLocalIntent(t *testing.T) {
	engine, st, api := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill", "notes": "mine"})

	// Local pending edit and a remote change race.
	if _, _, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"notes": "local edit",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	api.mu.Lock()
	api.getErr = &syncerr.NetworkError{Op: "get", Err: errors.New("unreachable")}
	api.mu.Unlock()

	engine.RunPass(context.Background()) // push fails, event stays queued

	api.mu.Lock()
	api.getErr = nil
	serverRec := api.records[key(models.EntityTypeItem, id)]
	serverRec["notes"] = "remote edit"
	api.mu.Unlock()

	// Pull alone must not clobber the row while the event is queued.
	result := &PassResult{}
	engine.pullRemote(context.Background(), result)

	rec, err := st.Get(models.EntityTypeItem, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.(*models.Item).Notes != "local edit" {
		t.Errorf("pull clobbered local intent: %q", rec.(*models.Item).Notes)
	}
}
