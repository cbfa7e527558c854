package keysmap

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/s4u/pgpverify-go/artifact"
)

// ErrInvalidArtifactPattern is returned when a trust-map pattern cannot be
// parsed.
type ErrInvalidArtifactPattern string

func (e ErrInvalidArtifactPattern) Error() string { return string(e) }

// ArtifactPattern matches artifacts by glob on group/name/type and a
// Maven-style version range, per spec.md §4.5.
type ArtifactPattern struct {
	source string // the original "group[:name[:type[:version]]]" string

	group   *regexp.Regexp
	name    *regexp.Regexp
	typ     *regexp.Regexp
	version versionRange
}

// ParseArtifactPattern parses "group[:name[:type[:version]]]", defaulting
// missing fields to "*" (match any).
func ParseArtifactPattern(source string) (ArtifactPattern, error) {
	fields := strings.SplitN(source, ":", 4)
	for len(fields) < 4 {
		fields = append(fields, "*")
	}
	group, name, typ, version := fields[0], fields[1], fields[2], fields[3]
	if group == "" {
		group = "*"
	}
	if name == "" {
		name = "*"
	}
	if typ == "" {
		typ = "*"
	}

	groupRe, err := compileGlob(group)
	if err != nil {
		return ArtifactPattern{}, fmt.Errorf("invalid artifact definition: %s: %w", source, err)
	}
	nameRe, err := compileGlob(name)
	if err != nil {
		return ArtifactPattern{}, fmt.Errorf("invalid artifact definition: %s: %w", source, err)
	}
	typeRe, err := compileGlob(typ)
	if err != nil {
		return ArtifactPattern{}, fmt.Errorf("invalid artifact definition: %s: %w", source, err)
	}
	vr, err := parseVersionRange(version)
	if err != nil {
		return ArtifactPattern{}, fmt.Errorf("invalid artifact definition: %s: %w", source, err)
	}

	return ArtifactPattern{
		source:  source,
		group:   groupRe,
		name:    nameRe,
		typ:     typeRe,
		version: vr,
	}, nil
}

// CompileGlob compiles a pattern where "*" is the only metacharacter and
// every other character (including ".") is literal, anchored on both
// ends, case-insensitive. Exported so other packages that need the same
// restricted glob syntax (keyserver's nonProxyHosts, per spec.md §4.3)
// share this one implementation instead of a second copy.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	return compileGlob(pattern)
}

// compileGlob is the unexported implementation behind CompileGlob and
// ParseArtifactPattern.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Source returns the original pattern string.
func (p ArtifactPattern) Source() string { return p.source }

// Equal compares two patterns by their source string, per spec.md §3.
func (p ArtifactPattern) Equal(other ArtifactPattern) bool {
	return p.source == other.source
}

// Matches reports whether c is matched by p: case-insensitive regex match
// of group, name and type, then version-range containment on the
// artifact's base version (spec.md §4.5).
func (p ArtifactPattern) Matches(c artifact.Coordinate) bool {
	if !p.group.MatchString(c.Group) {
		return false
	}
	if !p.name.MatchString(c.Name) {
		return false
	}
	if !p.typ.MatchString(c.EffectiveType()) {
		return false
	}
	return p.version.containsVersion(c.BaseVersion())
}
