package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

func snapshot(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestDiverged(t *testing.T) {
	r := NewConflictResolver(nil)
	baseline := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	event := &models.OfflineEvent{
		OriginalData: snapshot(t, map[string]interface{}{
			"server_updated_at": baseline.Format(time.RFC3339),
		}),
	}

	after := map[string]interface{}{"updated_at": baseline.Add(time.Minute).Format(time.RFC3339)}
	if !r.Diverged(event, after) {
		t.Error("newer server stamp must diverge")
	}

	same := map[string]interface{}{"updated_at": baseline.Format(time.RFC3339)}
	if r.Diverged(event, same) {
		t.Error("equal stamp must not diverge")
	}

	// No baseline means first contact, never a conflict.
	fresh := &models.OfflineEvent{}
	if r.Diverged(fresh, after) {
		t.Error("event without baseline must not diverge")
	}
}

func TestCanAutoMerge(t *testing.T) {
	r := NewConflictResolver(nil)

	original := snapshot(t, map[string]interface{}{
		"name":          "Drill",
		"notes":         "",
		"selling_price": 10.0,
	})

	disjoint := &models.OfflineEvent{
		Data:         snapshot(t, map[string]interface{}{"notes": "local"}),
		OriginalData: original,
	}
	server := map[string]interface{}{"name": "Drill", "selling_price": 40.0}
	if !r.CanAutoMerge(disjoint, server) {
		t.Error("disjoint field sets must auto-merge")
	}

	overlapping := &models.OfflineEvent{
		Data:         snapshot(t, map[string]interface{}{"selling_price": 25.0}),
		OriginalData: original,
	}
	if r.CanAutoMerge(overlapping, server) {
		t.Error("overlapping field sets must not auto-merge")
	}

	noBaseline := &models.OfflineEvent{
		Data: snapshot(t, map[string]interface{}{"notes": "local"}),
	}
	if r.CanAutoMerge(noBaseline, server) {
		t.Error("without a baseline there is nothing safe to merge against")
	}
}

func TestClassifyMove(t *testing.T) {
	r := NewConflictResolver(nil)
	original := snapshot(t, map[string]interface{}{
		"name":         "Drill",
		"container_id": "5",
	})

	move := &models.OfflineEvent{
		Type:         models.EventMove,
		Data:         snapshot(t, map[string]interface{}{"container_id": "9"}),
		OriginalData: original,
	}

	bothMoved := map[string]interface{}{"container_id": "7"}
	if got := r.Classify(move, bothMoved); got != models.ConflictMoveMove {
		t.Errorf("got %s, want MOVE_MOVE", got)
	}

	remoteRenamed := map[string]interface{}{"name": "Impact Drill", "container_id": "5"}
	if got := r.Classify(move, remoteRenamed); got != models.ConflictUpdateUpdate {
		t.Errorf("got %s, want UPDATE_UPDATE", got)
	}
}

func TestResolveManualRequiresData(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill"})

	_, event, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"selling_price": 25.0,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := st.MarkEventStatus(event.EventID, models.EventStatusSyncing, ""); err != nil {
		t.Fatalf("syncing: %v", err)
	}
	conflict, err := st.RecordConflict(event, models.ConflictUpdateUpdate, map[string]interface{}{"selling_price": 45.0})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := engine.Resolver().Resolve(conflict.ID, models.ResolutionManual, nil, ""); !syncerr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	resolved, err := engine.Resolver().Resolve(conflict.ID, models.ResolutionManual, map[string]interface{}{
		"name":          "Drill",
		"selling_price": 35.0,
	}, "tester")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.IsResolved() {
		t.Error("conflict not resolved")
	}

	mirror, err := st.Get(models.EntityTypeItem, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if mirror.(*models.Item).SellingPrice != 35.0 {
		t.Errorf("manual value not applied: %v", mirror.(*models.Item).SellingPrice)
	}
}

func TestResolveMergeOverlaysLocalPatch(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	id := syncItem(t, engine, st, map[string]interface{}{"name": "Drill"})

	_, event, err := st.ApplyLocalMutation(models.EntityTypeItem, models.EventUpdate, id, map[string]interface{}{
		"notes": "local note",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := st.MarkEventStatus(event.EventID, models.EventStatusSyncing, ""); err != nil {
		t.Fatalf("syncing: %v", err)
	}
	conflict, err := st.RecordConflict(event, models.ConflictUpdateUpdate, map[string]interface{}{
		"name":          "Drill",
		"selling_price": 45.0,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := engine.Resolver().Resolve(conflict.ID, models.ResolutionMerge, nil, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	mirror, err := st.Get(models.EntityTypeItem, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	item := mirror.(*models.Item)
	if item.Notes != "local note" || item.SellingPrice != 45.0 {
		t.Errorf("merge result notes=%q price=%v", item.Notes, item.SellingPrice)
	}
}
