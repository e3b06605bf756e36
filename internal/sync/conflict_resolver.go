package sync

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/store"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// ConflictResolver detects divergence between a queued event's baseline and
// the server's current record, and applies resolutions chosen by the user.
type ConflictResolver struct {
	store *store.Store
}

func NewConflictResolver(st *store.Store) *ConflictResolver {
	return &ConflictResolver{store: st}
}

// bookkeepingKeys are ignored when diffing records: they change on every
// write and say nothing about user intent.
var bookkeepingKeys = map[string]bool{
	"id":                true,
	"created_at":        true,
	"updated_at":        true,
	"sync_status":       true,
	"last_synced_at":    true,
	"local_modified_at": true,
	"server_updated_at": true,
	"source_device":     true,
	"deleted":           true,
}

// Diverged reports whether the server record changed after the event's
// baseline snapshot was taken. Events without a baseline stamp (first sync
// of a record, legacy rows) are treated as non-diverged.
func (r *ConflictResolver) Diverged(event *models.OfflineEvent, serverRec map[string]interface{}) bool {
	baseline := baselineStamp(event.OriginalData)
	if baseline == nil {
		return false
	}
	serverTS, ok := store.RecordUpdatedAt(serverRec)
	if !ok {
		return false
	}
	return serverTS.After(*baseline)
}

// CanAutoMerge reports whether the local patch and the server-side change
// touch disjoint field sets. If so the patch can be applied without losing
// either side's edit.
func (r *ConflictResolver) CanAutoMerge(event *models.OfflineEvent, serverRec map[string]interface{}) bool {
	localKeys := patchKeys(event.Data)
	if len(localKeys) == 0 {
		return false
	}
	serverChanged := changedKeys(event.OriginalData, serverRec)
	if serverChanged == nil {
		// No baseline to diff against, assume overlap.
		return false
	}

	for key := range localKeys {
		if serverChanged[key] {
			return false
		}
	}
	return true
}

// Classify names the conflict. A MOVE colliding with a remote placement
// change is MOVE_MOVE; every other overlapping edit is UPDATE_UPDATE.
// CREATE_CREATE and DELETE_UPDATE are classified at the push site.
func (r *ConflictResolver) Classify(event *models.OfflineEvent, serverRec map[string]interface{}) models.ConflictType {
	if event.Type == models.EventMove {
		serverChanged := changedKeys(event.OriginalData, serverRec)
		if serverChanged["container_id"] || serverChanged["location_id"] {
			return models.ConflictMoveMove
		}
	}
	return models.ConflictUpdateUpdate
}

// Resolve applies a resolution choice to a recorded conflict. "local"
// pushes the device's version back, "server" applies the server's version
// without pushing anything, "merge" overlays the local patch on the server
// record, and "manual" applies a caller-supplied record. Every choice
// except "server" queues a corrective event for the next pass.
func (r *ConflictResolver) Resolve(conflictID string, resolution models.Resolution, manualData map[string]interface{}, resolvedBy string) (*models.SyncConflict, error) {
	conflict, err := r.store.GetConflict(conflictID)
	if err != nil {
		return nil, err
	}

	var resolved map[string]interface{}
	switch resolution {
	case models.ResolutionServer:
		resolved, err = decodeJSON(conflict.ServerData)
		if err != nil {
			return nil, err
		}
	case models.ResolutionLocal:
		rec, err := r.store.Get(conflict.Entity, conflict.EntityID)
		if err != nil {
			return nil, err
		}
		resolved, err = recordMap(rec)
		if err != nil {
			return nil, err
		}
	case models.ResolutionMerge:
		server, err := decodeJSON(conflict.ServerData)
		if err != nil {
			return nil, err
		}
		local, err := decodeJSON(conflict.LocalData)
		if err != nil {
			return nil, err
		}
		resolved = server
		for key, value := range local {
			if !bookkeepingKeys[key] {
				resolved[key] = value
			}
		}
	case models.ResolutionManual:
		if len(manualData) == 0 {
			return nil, &syncerr.ValidationError{Field: "resolvedData", Reason: "manual resolution requires the resolved record"}
		}
		resolved = manualData
	default:
		return nil, &syncerr.ValidationError{Field: "resolution", Reason: "unknown resolution: " + string(resolution)}
	}

	log.Printf("🔀 Resolving conflict %s (%s %s) as %s", conflictID, conflict.Entity, conflict.EntityID, resolution)
	return r.store.ResolveConflict(conflictID, resolution, resolved, resolvedBy)
}

// baselineStamp extracts the server stamp captured in the event's original
// snapshot
func baselineStamp(originalData []byte) *time.Time {
	if len(originalData) == 0 {
		return nil
	}
	var snapshot struct {
		ServerUpdatedAt *time.Time `json:"server_updated_at"`
	}
	if err := json.Unmarshal(originalData, &snapshot); err != nil {
		return nil
	}
	return snapshot.ServerUpdatedAt
}

// patchKeys returns the user-meaningful keys of an event payload
func patchKeys(data []byte) map[string]bool {
	fields, err := decodeJSON(data)
	if err != nil {
		return nil
	}
	keys := make(map[string]bool, len(fields))
	for key := range fields {
		if !bookkeepingKeys[key] {
			keys[key] = true
		}
	}
	return keys
}

// changedKeys diffs the server record against the event's original
// snapshot, returning the keys whose values differ. Returns nil when there
// is no snapshot to diff against.
func changedKeys(originalData []byte, serverRec map[string]interface{}) map[string]bool {
	if len(originalData) == 0 {
		return nil
	}
	original, err := decodeJSON(originalData)
	if err != nil {
		return nil
	}

	changed := make(map[string]bool)
	for key, serverValue := range serverRec {
		if bookkeepingKeys[key] {
			continue
		}
		originalValue, present := original[key]
		if !present || !jsonEqual(originalValue, serverValue) {
			changed[key] = true
		}
	}
	return changed
}

// jsonEqual compares two decoded JSON values through re-encoding, which
// normalizes numeric representations
func jsonEqual(a, b interface{}) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(rawA) == string(rawB)
}

func decodeJSON(raw []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &syncerr.ValidationError{Field: "data", Reason: err.Error()}
	}
	return out, nil
}

func recordMap(rec models.SyncableRecord) (map[string]interface{}, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, syncerr.Storage("encode record", err)
	}
	return decodeJSON(raw)
}
