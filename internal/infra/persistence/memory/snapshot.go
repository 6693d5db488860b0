package memory

// Snapshot captures a point-in-time clone of the store state. Durable
// backends serialize it per bucket and hydrate a fresh store from it on open.
type Snapshot struct {
	Products    map[string]Product    `json:"products"`
	Stock       map[string]StockRow   `json:"stock"`
	Counts      map[int64]CountRecord `json:"counts"`
	Locations   []string              `json:"locations"`
	Settings    *Settings             `json:"settings,omitempty"`
	NextCountID int64                 `json:"next_count_id"`
}

// ExportState produces a snapshot of the current committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cloned := s.state.clone()
	return Snapshot{
		Products:    cloned.products,
		Stock:       cloned.stock,
		Counts:      cloned.counts,
		Locations:   cloned.locations,
		Settings:    cloned.settings,
		NextCountID: cloned.nextCountID,
	}
}

// ImportState replaces the store state with the snapshot contents. Nil
// buckets hydrate as empty collections, and the count id sequence is clamped
// so it never moves backwards past an existing record.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState()
	for k, v := range snapshot.Products {
		st.products[k] = v
	}
	for k, v := range snapshot.Stock {
		st.stock[k] = cloneStockRow(v)
	}
	var maxID int64
	for k, v := range snapshot.Counts {
		st.counts[k] = cloneCount(v)
		if k > maxID {
			maxID = k
		}
	}
	st.locations = append([]string(nil), snapshot.Locations...)
	if snapshot.Settings != nil {
		cp := *snapshot.Settings
		st.settings = &cp
	}
	st.nextCountID = snapshot.NextCountID
	if st.nextCountID <= maxID {
		st.nextCountID = maxID + 1
	}
	if st.nextCountID < 1 {
		st.nextCountID = 1
	}
	s.state = st
	s.idx = buildIndexes(&s.state)
}
