package observation

import (
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
)

// Unavailable is the sentinel value carried by observations of data items
// that have no producer-supplied value.
const Unavailable = "UNAVAILABLE"

// Condition levels.
const (
	LevelUnavailable = "UNAVAILABLE"
	LevelNormal      = "NORMAL"
	LevelWarning     = "WARNING"
	LevelFault       = "FAULT"
)

// Reset triggers.
const (
	ResetCounts = "RESET_COUNTS"
	ResetManual = "MANUAL_RESET"
	ResetDay    = "DAY"
)

// Observation is a single value admitted against a data item.
//
// An observation is immutable after admission to the circular buffer; the
// buffer assigns the sequence number and owns the observation until it falls
// out of the retention window.
type Observation struct {
	DataItem  *device.DataItem
	Timestamp time.Time
	Sequence  uint64

	// Value is one of string, float64, DataSet, or TimeSeries. TABLE values
	// are a DataSet whose entry values are themselves DataSets (the rows).
	Value any

	// Duration is the observation's duration in seconds, taken from the
	// timestamp's @ suffix. Zero when absent.
	Duration float64

	// ResetTriggered names the reset that produced this value, for
	// statistics and data sets.
	ResetTriggered string

	// AssetType carries the asset type on ASSET_CHANGED / ASSET_REMOVED
	// events.
	AssetType string

	// Condition fields, used when the data item's category is CONDITION.
	Level          string
	NativeCode     string
	NativeSeverity string
	Qualifier      string
}

// New creates an observation for a data item.
func New(di *device.DataItem, ts time.Time, value any) *Observation {
	return &Observation{
		DataItem:  di,
		Timestamp: ts,
		Value:     value,
	}
}

// NewUnavailable creates the UNAVAILABLE sentinel observation for a data
// item. Condition items are given the UNAVAILABLE level.
func NewUnavailable(di *device.DataItem, ts time.Time) *Observation {
	obs := New(di, ts, Unavailable)
	if di != nil && di.IsCondition() {
		obs.Level = LevelUnavailable
	}
	return obs
}

// IsUnavailable reports whether the observation carries the sentinel.
func (o *Observation) IsUnavailable() bool {
	if o.DataItem != nil && o.DataItem.IsCondition() {
		return o.Level == LevelUnavailable
	}
	s, ok := o.Value.(string)
	return ok && s == Unavailable
}

// Copy returns a shallow copy with deep-copied set values, safe to mutate
// independently of the original.
func (o *Observation) Copy() *Observation {
	cpy := *o
	if ds, ok := o.Value.(DataSet); ok {
		cpy.Value = ds.Copy()
	}
	return &cpy
}

// ValueEqual reports whether two observations carry the same value,
// used by the duplicate-suppression policy.
func (o *Observation) ValueEqual(other *Observation) bool {
	if o.DataItem != nil && o.DataItem.IsCondition() {
		return o.Level == other.Level && o.NativeCode == other.NativeCode &&
			valueEqual(o.Value, other.Value)
	}
	return valueEqual(o.Value, other.Value)
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case DataSet:
		bv, ok := b.(DataSet)
		return ok && av.Equal(bv)
	case TimeSeries:
		bv, ok := b.(TimeSeries)
		if !ok || av.Count != bv.Count || av.Frequency != bv.Frequency ||
			len(av.Values) != len(bv.Values) {
			return false
		}
		for i := range av.Values {
			if av.Values[i] != bv.Values[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
