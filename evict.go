package demandtex

import "sort"

// evictCandidate carries the two-level sort key: priority bucket first
// (Low before Normal before High), least recently used first within a
// bucket, ID as the final tiebreak.
type evictCandidate struct {
	bucket   int
	lastUsed uint32
	id       uint32
}

// evictIfNeededLocked frees enough resident textures to fit requiredBytes
// under the budget. Called with the loader mutex held, before the request
// pipeline fans out loads.
//
// Textures marked KeepResident and textures younger than MinResidentFrames
// never become candidates; when no candidate passes the filters the budget
// may overrun.
func (l *Loader) evictIfNeededLocked(requiredBytes int64) {
	budget := l.opts.MaxTextureMemory
	if budget == 0 {
		// No budget, nothing to enforce.
		return
	}
	if l.totalMemory+requiredBytes <= budget {
		return
	}

	log := Logger()
	log.Debug("evict: over budget",
		"currentBytes", l.totalMemory, "requiredBytes", requiredBytes, "budgetBytes", budget)

	candidates := make([]evictCandidate, 0, l.nextID)
	for id := uint32(0); id < l.nextID; id++ {
		rec := l.records[id]
		if !rec.resident.Load() {
			continue
		}
		if rec.desc.EvictionPriority == PriorityKeepResident {
			continue
		}
		// Thrash guard: leave just-loaded textures alone.
		if l.currentFrame-rec.loadedFrame < l.opts.MinResidentFrames {
			log.Debug("evict: skipping young texture",
				"id", id, "framesResident", l.currentFrame-rec.loadedFrame)
			continue
		}
		candidates = append(candidates, evictCandidate{
			bucket:   rec.desc.EvictionPriority.bucket(),
			lastUsed: rec.lastUsedFrame,
			id:       id,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.bucket != b.bucket {
			return a.bucket < b.bucket
		}
		if a.lastUsed != b.lastUsed {
			return a.lastUsed < b.lastUsed
		}
		return a.id < b.id
	})

	target := budget - requiredBytes
	for _, c := range candidates {
		if l.totalMemory <= target {
			break
		}
		log.Debug("evict: evicting texture",
			"id", c.id, "bucket", c.bucket, "lastUsed", c.lastUsed)
		l.destroyTextureLocked(c.id)
	}
}
