package device

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSchemaVersion is the highest schema version this agent supports.
const DefaultSchemaVersion = "2.2"

// SchemaVersion is a parsed MTConnect schema version.
type SchemaVersion struct {
	Major int
	Minor int
}

// ParseSchemaVersion parses a "major.minor" version string.
func ParseSchemaVersion(s string) (SchemaVersion, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return SchemaVersion{}, fmt.Errorf("invalid schema version %q", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid schema version %q: %w", s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid schema version %q: %w", s, err)
	}
	return SchemaVersion{Major: major, Minor: minor}, nil
}

// MustParseSchemaVersion parses a version string known to be valid.
func MustParseSchemaVersion(s string) SchemaVersion {
	v, err := ParseSchemaVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the "major.minor" form.
func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether the version is >= major.minor.
func (v SchemaVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}
