package pool

// evictForAdmissionLocked frees room for a new entry of sizeHintMB. Caller
// holds p.mu. Count budget first, then the memory budget when configured.
func (p *Pool) evictForAdmissionLocked(sizeHintMB int) {
	if p.residentCountLocked() >= p.maxCount {
		p.evictVictimsLocked(1, 0)
	}
	if p.maxMemoryMB > 0 {
		used := p.residentMBLocked()
		if used+sizeHintMB > p.maxMemoryMB {
			needMB := used + sizeHintMB - p.maxMemoryMB + p.headroomMB
			p.evictVictimsLocked(0, needMB)
		}
	}
}

// evictVictimsLocked removes victims by strategy until count entries are
// gone (count > 0) or freeMB megabytes are freed (freeMB > 0). Caller holds
// p.mu.
func (p *Pool) evictVictimsLocked(count, freeMB int) {
	victims := p.victimsLocked()
	if len(victims) == 0 {
		p.log.Warn().Msg("no resources available for eviction")
		return
	}
	removed, freed := 0, 0
	for _, e := range victims {
		if count > 0 && removed >= count {
			break
		}
		if freeMB > 0 && freed >= freeMB {
			break
		}
		delete(p.entries, e.id)
		p.evictions++
		removed++
		freed += e.sizeMB
		p.log.Info().Str("resource", e.id).Int("size_mb", e.sizeMB).Msg("resource evicted")
	}
}

// Evict removes a resident resource by id for administrative use. It
// refuses entries that are loading or currently in use.
func (p *Pool) Evict(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	if e.loading {
		p.log.Warn().Str("resource", id).Msg("cannot evict resource while loading")
		return false
	}
	if e.pins > 0 {
		p.log.Warn().Str("resource", id).Int("pins", e.pins).Msg("cannot evict resource in use")
		return false
	}
	delete(p.entries, id)
	p.evictions++
	p.log.Info().Str("resource", id).Msg("resource evicted")
	return true
}

// Clear removes every resource that is neither loading nor in use.
func (p *Pool) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for id, e := range p.entries {
		if e.loading || e.pins > 0 {
			continue
		}
		delete(p.entries, id)
		p.evictions++
		removed++
	}
	if removed > 0 {
		p.log.Info().Int("removed", removed).Msg("cleared resource pool")
	}
	return removed
}

func (p *Pool) residentCountLocked() int {
	n := 0
	for _, e := range p.entries {
		if !e.loading {
			n++
		}
	}
	return n
}

func (p *Pool) residentMBLocked() int {
	mb := 0
	for _, e := range p.entries {
		if !e.loading {
			mb += e.sizeMB
		}
	}
	return mb
}
