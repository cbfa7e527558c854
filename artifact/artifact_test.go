package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveTypeDefaultsToJar(t *testing.T) {
	c := Coordinate{Group: "junit", Name: "junit", Version: "4.12"}
	assert.Equal(t, "jar", c.EffectiveType())
}

func TestEqualIsCaseInsensitiveOnGroupNameType(t *testing.T) {
	a := Coordinate{Group: "JUnit", Name: "JUNIT", Version: "4.12", Type: "JAR"}
	b := Coordinate{Group: "junit", Name: "junit", Version: "4.12", Type: "jar"}
	assert.True(t, a.Equal(b))
}

func TestEqualIsExactOnVersionAndClassifier(t *testing.T) {
	a := Coordinate{Group: "g", Name: "n", Version: "1.0", Classifier: "sources"}
	b := Coordinate{Group: "g", Name: "n", Version: "1.0"}
	assert.False(t, a.Equal(b))
}

func TestBaseVersionNormalizesTimestampedSnapshot(t *testing.T) {
	c := Coordinate{Version: "1.0-20230102.030405-6"}
	assert.Equal(t, "1.0-SNAPSHOT", c.BaseVersion())
	assert.True(t, c.IsSnapshot())
}

func TestBaseVersionLeavesReleaseVersionUnchanged(t *testing.T) {
	c := Coordinate{Version: "1.0.3"}
	assert.Equal(t, "1.0.3", c.BaseVersion())
	assert.False(t, c.IsSnapshot())
}

func TestBaseVersionLeavesDeclaredSnapshotUnchanged(t *testing.T) {
	c := Coordinate{Version: "1.0-SNAPSHOT"}
	assert.Equal(t, "1.0-SNAPSHOT", c.BaseVersion())
	assert.True(t, c.IsSnapshot())
}
