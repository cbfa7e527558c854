// Package artifact defines the coordinate of a build artifact as used by
// the trust map and the verify pipeline.
package artifact

import (
	"regexp"
	"strings"
)

// defaultType is used when Coordinate.Type is empty, per spec.md §3.
const defaultType = "jar"

// Coordinate identifies an artifact by group, name, version and optional
// type/classifier, mirroring a Maven coordinate. Group and name are
// matched case-insensitively.
type Coordinate struct {
	Group      string
	Name       string
	Version    string
	Type       string // defaults to "jar" when empty
	Classifier string // "" means no classifier
}

// EffectiveType returns Type, defaulting to "jar".
func (c Coordinate) EffectiveType() string {
	if c.Type == "" {
		return defaultType
	}
	return c.Type
}

// Equal compares two coordinates on all five fields, case-insensitively on
// group/name/type, exactly on version and classifier.
func (c Coordinate) Equal(other Coordinate) bool {
	return strings.EqualFold(c.Group, other.Group) &&
		strings.EqualFold(c.Name, other.Name) &&
		c.Version == other.Version &&
		strings.EqualFold(c.EffectiveType(), other.EffectiveType()) &&
		c.Classifier == other.Classifier
}

// snapshotTimestamp matches a Maven unique-snapshot version suffix such as
// "-20230102.030405-6", which BaseVersion normalizes back to "-SNAPSHOT".
var snapshotTimestamp = regexp.MustCompile(`-\d{8}\.\d{6}-\d+$`)

// BaseVersion normalizes a resolved unique-snapshot version (e.g.
// "1.0-20230102.030405-6") back to its declared snapshot form
// ("1.0-SNAPSHOT"). Non-snapshot versions are returned unchanged. This is
// the only version-normalization rule used by pattern matching (spec.md
// §4.5).
func (c Coordinate) BaseVersion() string {
	if snapshotTimestamp.MatchString(c.Version) {
		return snapshotTimestamp.ReplaceAllString(c.Version, "") + "-SNAPSHOT"
	}
	return c.Version
}

// IsSnapshot reports whether the artifact's base version is a (possibly
// timestamped) snapshot.
func (c Coordinate) IsSnapshot() bool {
	return strings.HasSuffix(c.BaseVersion(), "-SNAPSHOT")
}

// String renders "group:name:type:version[:classifier]" for logging.
func (c Coordinate) String() string {
	s := c.Group + ":" + c.Name + ":" + c.EffectiveType() + ":" + c.Version
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	return s
}
