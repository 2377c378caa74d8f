package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clock supplies the current time, injectable for tests.
type Clock func() time.Time

// ShdrTokenizer splits a pipe-delimited SHDR record into a Tokens entity
// preserving order. Pipes inside quotes or braces belong to the value and do
// not split.
type ShdrTokenizer struct{}

// Name implements Transform.
func (ShdrTokenizer) Name() string { return "ShdrTokenizer" }

// Guard implements Transform: tokenizes raw records that are not commands.
func (ShdrTokenizer) Guard(e Entity) bool {
	d, ok := e.(*Data)
	return ok && !strings.HasPrefix(strings.TrimSpace(d.Value), "*")
}

// Apply implements Transform.
func (ShdrTokenizer) Apply(e Entity, next NextFunc) (Entity, error) {
	d := e.(*Data)
	tokens := &Tokens{
		Source: d.Source,
		Device: d.Device,
		Tokens: splitTokens(d.Value),
	}
	if err := next(tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// splitTokens splits on '|' outside quotes and braces, trimming each token.
func splitTokens(line string) []string {
	var tokens []string
	var sb strings.Builder
	depth := 0
	var quote byte

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			sb.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			sb.WriteByte(c)
		case c == '{':
			depth++
			sb.WriteByte(c)
		case c == '}':
			if depth > 0 {
				depth--
			}
			sb.WriteByte(c)
		case c == '|' && depth == 0:
			tokens = append(tokens, strings.TrimSpace(sb.String()))
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}
	tokens = append(tokens, strings.TrimSpace(sb.String()))
	return tokens
}

// timestampRe matches an ISO 8601 timestamp with optional fractional seconds
// and an optional @duration suffix.
var timestampRe = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)(?:@([0-9.]+))?$`)

// TimestampExtractor consumes the leading timestamp field of a Tokens
// entity. The field is always consumed; when it does not parse as an ISO
// 8601 timestamp the record is stamped with the current agent time instead.
// A trailing @seconds suffix is stored separately as the duration.
type TimestampExtractor struct {
	// Now supplies the agent time for unstamped records. Defaults to
	// time.Now in UTC.
	Now Clock

	logger Logger
}

// SetLogger sets the logger for the extractor.
func (x *TimestampExtractor) SetLogger(logger Logger) { x.logger = logger }

// Name implements Transform.
func (*TimestampExtractor) Name() string { return "TimestampExtractor" }

// Guard implements Transform.
func (*TimestampExtractor) Guard(e Entity) bool {
	t, ok := e.(*Tokens)
	return ok && t.Timestamp.IsZero()
}

// Apply implements Transform.
func (x *TimestampExtractor) Apply(e Entity, next NextFunc) (Entity, error) {
	t := e.(*Tokens)

	stamped := false
	if len(t.Tokens) > 0 {
		first := t.Tokens[0]
		t.Tokens = t.Tokens[1:]
		if m := timestampRe.FindStringSubmatch(first); m != nil {
			if ts, err := parseTimestamp(m[1]); err == nil {
				t.Timestamp = ts
				if m[2] != "" {
					if dur, err := strconv.ParseFloat(m[2], 64); err == nil {
						t.Duration = dur
					}
				}
				stamped = true
			}
		}
		if !stamped && x.logger != nil {
			x.logger.Debug("cannot parse timestamp, using agent time", "token", first)
		}
	}
	if !stamped {
		t.Timestamp = x.now()
	}

	if err := next(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (x *TimestampExtractor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now().UTC()
}

// parseTimestamp parses an ISO 8601 timestamp, tolerating a missing zone
// (read as UTC).
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999999", s)
}

// commandRe matches `*<name>: <value>` adapter command lines.
var commandRe = regexp.MustCompile(`^\*\s*([^:]+):\s*(.+)$`)

// CommandParser turns `*<name>: <value>` records into Command entities.
type CommandParser struct {
	logger Logger
}

// NewCommandParser creates a command parser.
func NewCommandParser(logger Logger) *CommandParser {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandParser{logger: logger}
}

// Name implements Transform.
func (*CommandParser) Name() string { return "CommandParser" }

// Guard implements Transform.
func (*CommandParser) Guard(e Entity) bool {
	d, ok := e.(*Data)
	return ok && strings.HasPrefix(strings.TrimSpace(d.Value), "*")
}

// Apply implements Transform.
func (c *CommandParser) Apply(e Entity, next NextFunc) (Entity, error) {
	d := e.(*Data)
	m := commandRe.FindStringSubmatch(strings.TrimSpace(d.Value))
	if m == nil {
		c.logger.Warn("cannot parse command", "value", d.Value, "source", d.Source)
		return nil, nil
	}

	cmd := &Command{
		Source: d.Source,
		Device: d.Device,
		Name:   strings.ToLower(strings.TrimSpace(m[1])),
		Value:  strings.TrimSpace(m[2]),
	}
	if err := next(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}
