package observation

import (
	"fmt"
	"sync"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
)

// Buffer is the fixed-capacity circular observation history.
//
// Capacity is 2^k observations. Admission assigns strictly monotonic
// sequence numbers starting at 1; observations falling out of the window are
// folded into the boundary checkpoint so the latest-value view at any
// retained sequence stays reconstructible.
//
// A single exclusive lock covers admission, range reads, latest reads, and
// observer signaling.
type Buffer struct {
	mu sync.Mutex

	ring     []*Observation
	capacity uint64

	// nextSeq is the sequence the next admission receives.
	nextSeq uint64

	// latest folds every admission; it backs GetLatest and /current.
	latest *Checkpoint

	// first is the state at the retention-window boundary: every evicted
	// observation is folded into it.
	first *Checkpoint

	// checkpoints are the periodic snapshots, oldest first.
	checkpoints []*Checkpoint
	freq        uint64
	sinceCheck  uint64

	observers map[string][]*Observer
}

// NewBuffer creates a buffer of capacity 2^k with the given checkpoint
// frequency.
func NewBuffer(k int, checkpointFrequency int) *Buffer {
	if k < 1 {
		k = 1
	}
	if checkpointFrequency < 1 {
		checkpointFrequency = 1000
	}
	return &Buffer{
		ring:      make([]*Observation, uint64(1)<<uint(k)),
		capacity:  uint64(1) << uint(k),
		nextSeq:   1,
		latest:    NewCheckpoint(),
		first:     NewCheckpoint(),
		freq:      uint64(checkpointFrequency),
		observers: make(map[string][]*Observer),
	}
}

// Capacity returns the buffer capacity in observations.
func (b *Buffer) Capacity() uint64 { return b.capacity }

// AddToBuffer admits an observation: it consults the data item's duplicate
// filter, assigns the next sequence, stores the observation, folds the
// checkpoints, and signals observers. A rejected admission returns 0.
func (b *Buffer) AddToBuffer(obs *Observation) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	di := obs.DataItem
	if di == nil {
		return 0
	}

	if di.FilterDuplicates() {
		if prev := b.latest.GetLatest(di.ID); prev != nil && prev.ValueEqual(obs) {
			return 0
		}
	}

	seq := b.nextSeq
	b.nextSeq++
	obs.Sequence = seq

	slot := seq & (b.capacity - 1)
	if evicted := b.ring[slot]; evicted != nil {
		b.first.AddObservation(evicted)
	}
	b.ring[slot] = obs

	b.latest.AddObservation(obs)

	b.sinceCheck++
	if b.sinceCheck >= b.freq || slot == 0 {
		b.checkpoints = append(b.checkpoints, b.latest.Copy())
		b.sinceCheck = 0
		b.pruneCheckpointsLocked()
	}

	for _, o := range b.observers[di.ID] {
		o.Signal(seq)
	}

	return seq
}

// pruneCheckpointsLocked drops periodic checkpoints too old to serve as a
// replay base for any retained sequence.
func (b *Buffer) pruneCheckpointsLocked() {
	first := b.firstSequenceLocked()
	keep := b.checkpoints[:0]
	for _, c := range b.checkpoints {
		if c.Sequence+1 >= first {
			keep = append(keep, c)
		}
	}
	b.checkpoints = keep
}

// firstSequenceLocked returns the oldest retained sequence.
func (b *Buffer) firstSequenceLocked() uint64 {
	if b.nextSeq <= b.capacity {
		return 1
	}
	return b.nextSeq - b.capacity
}

// SequenceRange returns the oldest retained sequence and the next sequence
// to be assigned.
func (b *Buffer) SequenceRange() (first, next uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstSequenceLocked(), b.nextSeq
}

// GetLatest returns the folded latest observation for a data item, or nil.
// DATA_SET and TABLE values are the merged view.
func (b *Buffer) GetLatest(id string) *Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.GetLatest(id)
}

// LatestSnapshot returns a copy of the latest-value checkpoint, used by the
// current document.
func (b *Buffer) LatestSnapshot() *Checkpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.Copy()
}

// CheckpointAt reconstructs the latest-value view at sequence at: it copies
// the nearest preceding checkpoint and replays the retained observations
// with sequence greater than the checkpoint's up to and including at.
func (b *Buffer) CheckpointAt(at uint64) (*Checkpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	first := b.firstSequenceLocked()
	if at < first || at >= b.nextSeq {
		return nil, fmt.Errorf("%w: at %d, window [%d, %d]", ErrSequenceOutOfRange, at, first, b.nextSeq-1)
	}

	base := b.first
	for _, c := range b.checkpoints {
		if c.Sequence <= at && c.Sequence > base.Sequence {
			base = c
		}
	}

	view := base.Copy()
	for seq := max(base.Sequence+1, first); seq <= at; seq++ {
		if obs := b.ring[seq&(b.capacity-1)]; obs != nil && obs.Sequence == seq {
			view.AddObservation(obs)
		}
	}
	view.Sequence = at
	return view, nil
}

// GetFrom returns up to count retained observations with sequence >= from
// that pass the filter. It returns the oldest retained sequence, the
// observations in admission order, and the sequence at which a subsequent
// call should resume. A nil filter accepts everything.
func (b *Buffer) GetFrom(from uint64, count int, filter func(*Observation) bool) (uint64, []*Observation, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	first := b.firstSequenceLocked()
	if from < first {
		from = first
	}

	var list []*Observation
	seq := from
	for ; seq < b.nextSeq && len(list) < count; seq++ {
		obs := b.ring[seq&(b.capacity-1)]
		if obs == nil || obs.Sequence != seq {
			continue
		}
		if filter == nil || filter(obs) {
			list = append(list, obs)
		}
	}

	return first, list, seq
}

// AddObserver registers an observer for each of the given data item ids.
func (b *Buffer) AddObserver(ids []string, o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.observers[id] = append(b.observers[id], o)
	}
}

// RemoveObserver detaches an observer from every data item.
func (b *Buffer) RemoveObserver(o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, list := range b.observers {
		keep := list[:0]
		for _, cur := range list {
			if cur != o {
				keep = append(keep, cur)
			}
		}
		if len(keep) == 0 {
			delete(b.observers, id)
		} else {
			b.observers[id] = keep
		}
	}
}

// SignalObservers wakes every registered observer with the given sequence.
// Sequence 0 is the shutdown sentinel releasing blocked streamers.
func (b *Buffer) SignalObservers(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, list := range b.observers {
		for _, o := range list {
			o.Signal(seq)
		}
	}
}

// UpdateDataItems rebinds the buffer's non-owning data-item handles after a
// device replace: folded observations whose id resolves in the map point at
// the replacement data item, and ids that no longer resolve are pruned from
// the checkpoints.
func (b *Buffer) UpdateDataItems(items map[string]*device.DataItem) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rebind := func(c *Checkpoint) {
		for id, obs := range c.Observations() {
			if di, ok := items[id]; ok && obs.DataItem != di {
				cpy := obs.Copy()
				cpy.DataItem = di
				c.Observations()[id] = cpy
			}
		}
		c.Prune(func(id string) bool {
			_, ok := items[id]
			return ok
		})
	}

	rebind(b.latest)
	rebind(b.first)
	for _, c := range b.checkpoints {
		rebind(c)
	}
}
