package pipeline

import (
	"strconv"
	"strings"

	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// ShdrMapper turns tokenized SHDR records into typed observations. A single
// record may carry several observations; token consumption per data item
// follows its category and representation:
//
//	CONDITION    level|nativeCode|nativeSeverity|qualifier|message
//	MESSAGE      nativeCode|text
//	TIME_SERIES  count|frequency|values
//	DATA_SET     one token of space-separated key=value entries
//	TABLE        one token of key={cell=value ...} entries
//	anything else  one value token
type ShdrMapper struct {
	contract Contract
	logger   Logger

	filterDuplicates bool
}

// NewShdrMapper creates a mapper delivering through the given contract.
func NewShdrMapper(contract Contract, logger Logger) *ShdrMapper {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ShdrMapper{contract: contract, logger: logger}
}

// SetFilterDuplicates marks every data item this mapper feeds with the
// duplicate-suppression policy the buffer consults at admission.
func (m *ShdrMapper) SetFilterDuplicates(filter bool) { m.filterDuplicates = filter }

// Name implements Transform.
func (*ShdrMapper) Name() string { return "ShdrMapper" }

// Guard implements Transform: any stamped token record that is not an asset
// record.
func (*ShdrMapper) Guard(e Entity) bool {
	t, ok := e.(*Tokens)
	return ok && !t.Timestamp.IsZero() && !isAssetRecord(t)
}

// Apply implements Transform.
func (m *ShdrMapper) Apply(e Entity, next NextFunc) (Entity, error) {
	t := e.(*Tokens)
	out := &Observations{}

	tokens := t.Tokens
	for len(tokens) > 0 {
		key := tokens[0]
		tokens = tokens[1:]
		if key == "" {
			continue
		}

		deviceKey := t.Device
		if i := strings.IndexByte(key, ':'); i >= 0 {
			deviceKey, key = key[:i], key[i+1:]
		}

		di := m.contract.FindDataItem(deviceKey, key)
		if di == nil {
			m.logger.Warn("no data item for adapter key", "key", key, "source", t.Source)
			if len(tokens) > 0 {
				tokens = tokens[1:]
			}
			continue
		}

		obs := observation.New(di, t.Timestamp, nil)
		obs.Duration = t.Duration
		if di.DataSource == "" {
			di.DataSource = t.Source
		}
		if m.filterDuplicates {
			di.SetFilterDuplicates(true)
		}

		switch {
		case di.IsCondition():
			tokens = m.mapCondition(obs, tokens)
		case di.Type == "MESSAGE":
			tokens = m.mapMessage(obs, tokens)
		case di.IsTimeSeries():
			tokens = m.mapTimeSeries(obs, tokens)
		case di.IsDataSet():
			tokens = m.mapDataSet(obs, tokens)
		default:
			tokens = m.mapValue(obs, tokens)
		}

		out.List = append(out.List, obs)
	}

	if len(out.List) == 0 {
		return out, nil
	}
	if err := next(out); err != nil {
		return nil, err
	}
	return out, nil
}

// mapValue consumes one scalar token. Samples are parsed as numbers and run
// through the data item's unit conversion.
func (m *ShdrMapper) mapValue(obs *observation.Observation, tokens []string) []string {
	value := ""
	if len(tokens) > 0 {
		value, tokens = tokens[0], tokens[1:]
	}

	if value == observation.Unavailable || value == "" {
		obs.Value = observation.Unavailable
		return tokens
	}

	di := obs.DataItem
	if di.IsSample() {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			obs.Value = di.ConvertValue(f)
			return tokens
		}
	}
	obs.Value = value
	return tokens
}

// mapCondition consumes the five condition tokens.
func (m *ShdrMapper) mapCondition(obs *observation.Observation, tokens []string) []string {
	fields := make([]string, 5)
	for i := 0; i < 5 && len(tokens) > 0; i++ {
		fields[i], tokens = tokens[0], tokens[1:]
	}

	obs.Level = normalizeLevel(fields[0])
	obs.NativeCode = fields[1]
	obs.NativeSeverity = fields[2]
	obs.Qualifier = fields[3]
	obs.Value = fields[4]
	return tokens
}

// mapMessage consumes nativeCode and text.
func (m *ShdrMapper) mapMessage(obs *observation.Observation, tokens []string) []string {
	if len(tokens) > 0 {
		obs.NativeCode, tokens = tokens[0], tokens[1:]
	}
	if len(tokens) > 0 {
		obs.Value, tokens = tokens[0], tokens[1:]
	} else {
		obs.Value = observation.Unavailable
	}
	return tokens
}

// mapTimeSeries consumes count, frequency, and the sample block.
func (m *ShdrMapper) mapTimeSeries(obs *observation.Observation, tokens []string) []string {
	var countTok, freqTok, valuesTok string
	if len(tokens) > 0 {
		countTok, tokens = tokens[0], tokens[1:]
	}
	if countTok == observation.Unavailable {
		obs.Value = observation.Unavailable
		return tokens
	}
	if len(tokens) > 0 {
		freqTok, tokens = tokens[0], tokens[1:]
	}
	if len(tokens) > 0 {
		valuesTok, tokens = tokens[0], tokens[1:]
	}

	ts := observation.TimeSeries{}
	ts.Count, _ = strconv.Atoi(countTok)
	if freqTok != "" {
		ts.Frequency, _ = strconv.ParseFloat(freqTok, 64)
	}
	di := obs.DataItem
	for _, f := range strings.Fields(valuesTok) {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			ts.Values = append(ts.Values, di.ConvertValue(v))
		}
	}
	if ts.Count == 0 {
		ts.Count = len(ts.Values)
	}
	obs.Value = ts
	return tokens
}

// mapDataSet consumes the single set token, honoring a leading
// :RESET_TRIGGER modifier. TABLE items parse each entry's braced value as a
// row of cells.
func (m *ShdrMapper) mapDataSet(obs *observation.Observation, tokens []string) []string {
	value := ""
	if len(tokens) > 0 {
		value, tokens = tokens[0], tokens[1:]
	}

	if value == observation.Unavailable {
		obs.Value = observation.Unavailable
		return tokens
	}

	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, ":") {
		rest := value[1:]
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			obs.ResetTriggered = rest
			value = ""
		} else {
			obs.ResetTriggered = rest[:end]
			value = strings.TrimSpace(rest[end:])
		}
	}

	obs.Value = parseDataSet(value, obs.DataItem.Representation == "TABLE")
	return tokens
}

// normalizeLevel uppercases SHDR condition levels.
func normalizeLevel(level string) string {
	switch strings.ToUpper(level) {
	case "NORMAL":
		return observation.LevelNormal
	case "WARNING":
		return observation.LevelWarning
	case "FAULT":
		return observation.LevelFault
	default:
		return observation.LevelUnavailable
	}
}

// parseDataSet parses `key=value` entries separated by whitespace. Values
// may be bare, quoted, or braced; a missing value tombstones the key. With
// table set, braced values parse recursively as cell rows.
func parseDataSet(s string, table bool) observation.DataSet {
	var set observation.DataSet

	i := 0
	n := len(s)
	for i < n {
		for i < n && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}

		start := i
		for i < n && s[i] != '=' && s[i] != ' ' && s[i] != '\t' {
			i++
		}
		key := s[start:i]
		if key == "" {
			i++
			continue
		}

		if i >= n || s[i] != '=' {
			// Bare key: removal.
			set = append(set, observation.DataSetEntry{Key: key, Removed: true})
			continue
		}
		i++ // consume '='

		if i >= n || s[i] == ' ' || s[i] == '\t' {
			// Empty value: removal.
			set = append(set, observation.DataSetEntry{Key: key, Removed: true})
			continue
		}

		var raw string
		switch s[i] {
		case '{':
			depth := 0
			vs := i
			for ; i < n; i++ {
				if s[i] == '{' {
					depth++
				} else if s[i] == '}' {
					depth--
					if depth == 0 {
						i++
						break
					}
				}
			}
			raw = s[vs:i]
		case '\'', '"':
			q := s[i]
			vs := i + 1
			i++
			for i < n && s[i] != q {
				i++
			}
			raw = s[vs:i]
			if i < n {
				i++
			}
		default:
			vs := i
			for i < n && s[i] != ' ' && s[i] != '\t' {
				i++
			}
			raw = s[vs:i]
		}

		entry := observation.DataSetEntry{Key: key}
		if table && strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
			entry.Value = parseDataSet(strings.TrimSpace(raw[1 : len(raw)-1]), false)
		} else if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
			entry.Value = strings.TrimSpace(raw[1 : len(raw)-1])
		} else {
			entry.Value = typeSetValue(raw)
		}
		set = append(set, entry)
	}

	return set
}

// typeSetValue types a set value: integer, then float, then string.
func typeSetValue(raw string) any {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return raw
}
