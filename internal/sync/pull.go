package sync

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/store"
)

// pullRemote mirrors server-side changes into the local store. Rows with
// undrained local events or an open conflict are skipped: local intent is
// settled first, the next pull picks the row up again.
func (e *Engine) pullRemote(ctx context.Context, result *PassResult) {
	e.mu.RLock()
	since := e.lastPull
	e.mu.RUnlock()

	var sincePtr *time.Time
	if !since.IsZero() {
		sincePtr = &since
	}
	passStart := time.Now().UTC()
	clean := true

	for _, entity := range e.pullOrder() {
		opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		records, err := e.api.List(opCtx, entity, sincePtr)
		cancel()
		if err != nil {
			result.addError(err)
			// A failed list keeps lastPull where it was so nothing is missed.
			return
		}

		for _, record := range records {
			id := store.RecordID(record)
			if id == "" {
				continue
			}

			pending, err := e.store.HasPendingEvents(entity, id)
			if err != nil {
				result.addError(err)
				clean = false
				continue
			}
			if pending {
				continue
			}
			blocked, err := e.store.HasUnresolvedConflict(entity, id)
			if err != nil {
				result.addError(err)
				clean = false
				continue
			}
			if blocked {
				continue
			}

			if err := e.store.MarkSynced(entity, id, record); err != nil {
				result.addError(err)
				clean = false
				continue
			}
			result.addPulled()
		}
	}

	// A record that failed to land is invisible to the next pass once the
	// watermark moves, so it only advances on a clean sweep.
	if clean {
		e.mu.Lock()
		e.lastPull = passStart
		e.mu.Unlock()
	}

	if result.RecordsPulled > 0 {
		log.Printf("📥 Pulled %d remote changes", result.RecordsPulled)
	}
}

// pullOrder lists enabled entity types by configured priority, referenced
// types first so foreign keys resolve when rows land.
func (e *Engine) pullOrder() []models.EntityType {
	if len(e.config.Entities) == 0 {
		return models.AllEntityTypes
	}

	type prioritized struct {
		entity   models.EntityType
		priority int
		rank     int
	}

	defaultRank := make(map[models.EntityType]int, len(models.AllEntityTypes))
	for i, entity := range models.AllEntityTypes {
		defaultRank[entity] = i
	}

	var order []prioritized
	for name, entityCfg := range e.config.Entities {
		entity := models.EntityType(name)
		if !entityCfg.Enabled || !entity.IsValid() {
			continue
		}
		order = append(order, prioritized{entity, entityCfg.Priority, defaultRank[entity]})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].priority != order[j].priority {
			return order[i].priority > order[j].priority
		}
		return order[i].rank < order[j].rank
	})

	out := make([]models.EntityType, len(order))
	for i, p := range order {
		out[i] = p.entity
	}
	return out
}

func (r *PassResult) addPulled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecordsPulled++
}
