package observation

// DataSetEntry is one key of a DATA_SET or TABLE observation. A removed
// entry marks the key as deleted from the merged view.
type DataSetEntry struct {
	Key     string
	Value   any // string, float64, int64, or DataSet for table rows
	Removed bool
}

// DataSet is the ordered entry list of a DATA_SET observation. TABLE values
// are a DataSet whose entry values are themselves DataSets (rows of cells).
type DataSet []DataSetEntry

// Get returns the entry with the given key.
func (ds DataSet) Get(key string) (DataSetEntry, bool) {
	for _, e := range ds {
		if e.Key == key {
			return e, true
		}
	}
	return DataSetEntry{}, false
}

// Copy returns a deep copy.
func (ds DataSet) Copy() DataSet {
	if ds == nil {
		return nil
	}
	out := make(DataSet, len(ds))
	for i, e := range ds {
		if row, ok := e.Value.(DataSet); ok {
			e.Value = row.Copy()
		}
		out[i] = e
	}
	return out
}

// Merge applies delta on top of ds and returns the merged set: new keys are
// appended, existing keys are replaced, and removed entries delete the key.
// Neither receiver nor argument is modified.
func (ds DataSet) Merge(delta DataSet) DataSet {
	out := make(DataSet, 0, len(ds)+len(delta))
	for _, e := range ds {
		if e.Removed {
			continue
		}
		out = append(out, e)
	}
	for _, e := range delta {
		idx := -1
		for i, cur := range out {
			if cur.Key == e.Key {
				idx = i
				break
			}
		}
		switch {
		case e.Removed && idx >= 0:
			out = append(out[:idx], out[idx+1:]...)
		case e.Removed:
			// removing an absent key is a no-op
		case idx >= 0:
			out[idx] = e
		default:
			out = append(out, e)
		}
	}
	return out.Copy()
}

// Equal reports order-insensitive equality of two data sets.
func (ds DataSet) Equal(other DataSet) bool {
	if len(ds) != len(other) {
		return false
	}
	for _, e := range ds {
		o, ok := other.Get(e.Key)
		if !ok || o.Removed != e.Removed {
			return false
		}
		if row, isRow := e.Value.(DataSet); isRow {
			orow, isORow := o.Value.(DataSet)
			if !isORow || !row.Equal(orow) {
				return false
			}
		} else if e.Value != o.Value {
			return false
		}
	}
	return true
}

// TimeSeries is the value of a TIME_SERIES observation: a block of samples
// captured at a fixed frequency.
type TimeSeries struct {
	Count     int
	Frequency float64
	Values    []float64
}
