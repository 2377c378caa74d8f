package observation

// Checkpoint is a snapshot of the latest observation per data item at a
// given sequence. Copying the nearest preceding checkpoint and replaying the
// observations after it reconstructs the latest-value view at any retained
// sequence.
type Checkpoint struct {
	// Sequence is the last sequence folded into the snapshot.
	Sequence uint64

	latest map[string]*Observation
}

// NewCheckpoint creates an empty checkpoint.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{latest: make(map[string]*Observation)}
}

// Copy returns an independent copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	cpy := &Checkpoint{
		Sequence: c.Sequence,
		latest:   make(map[string]*Observation, len(c.latest)),
	}
	for id, obs := range c.latest {
		cpy.latest[id] = obs
	}
	return cpy
}

// AddObservation folds an observation into the snapshot. DATA_SET and TABLE
// observations merge into the previous value unless a reset was triggered;
// every other representation replaces it.
func (c *Checkpoint) AddObservation(obs *Observation) {
	di := obs.DataItem
	if di == nil {
		return
	}

	if di.IsDataSet() && obs.ResetTriggered == "" && !obs.IsUnavailable() {
		if prev, ok := c.latest[di.ID]; ok && !prev.IsUnavailable() {
			prevSet, pok := prev.Value.(DataSet)
			deltaSet, dok := obs.Value.(DataSet)
			if pok && dok {
				merged := obs.Copy()
				merged.Value = prevSet.Merge(deltaSet)
				c.latest[di.ID] = merged
				c.bump(obs.Sequence)
				return
			}
		}
	}

	c.latest[di.ID] = obs
	c.bump(obs.Sequence)
}

func (c *Checkpoint) bump(seq uint64) {
	if seq > c.Sequence {
		c.Sequence = seq
	}
}

// GetLatest returns the folded observation for a data item, or nil.
func (c *Checkpoint) GetLatest(id string) *Observation {
	return c.latest[id]
}

// Observations returns the folded observation per data item id. The map is
// shared; callers must not mutate it.
func (c *Checkpoint) Observations() map[string]*Observation {
	return c.latest
}

// Prune drops entries whose data item id is not in keep, used after a device
// replace invalidates part of the lookup map.
func (c *Checkpoint) Prune(keep func(id string) bool) {
	for id := range c.latest {
		if !keep(id) {
			delete(c.latest, id)
		}
	}
}
