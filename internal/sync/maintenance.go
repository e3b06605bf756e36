package sync

import (
	"log"
	"time"
)

// sweepInterval limits how often the retention sweep runs; every pass
// would just burn writes on an empty purge.
const sweepInterval = time.Hour

// runMaintenance purges synced events, resolved conflicts, uploaded blobs
// and deleted rows older than the retention window
func (e *Engine) runMaintenance(result *PassResult) {
	e.mu.RLock()
	last := e.lastSweep
	e.mu.RUnlock()

	if time.Since(last) < sweepInterval {
		return
	}

	retention := time.Duration(e.config.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-retention)

	purged, err := e.store.PurgeExpired(cutoff)
	if err != nil {
		result.addError(err)
		return
	}

	e.mu.Lock()
	e.lastSweep = time.Now()
	e.mu.Unlock()

	if purged > 0 {
		log.Printf("🧹 Purged %d expired rows (older than %s)", purged, cutoff.Format(time.RFC3339))
	}
	result.mu.Lock()
	result.Purged = purged
	result.mu.Unlock()
}
