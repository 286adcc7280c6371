package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAgentID(t *testing.T) {
	cases := map[string]string{
		"agent2-cua": "agent2",
		"Agent3-CUA": "agent3",
		"agent1":     "agent1",
		"  agent4  ": "agent4",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeAgentID(in), "normalizing %q", in)
	}
}

func TestObjectPathHasNoDoublePrefix(t *testing.T) {
	// Screenshots live directly in the screenshots bucket, so callers pass
	// subcategory "" rather than repeating the bucket name in the path.
	path := ObjectPath("agent2-CUA", "", "abc123.png")
	assert.Equal(t, "agent2/abc123.png", path)
	assert.NotContains(t, path, "screenshots")
}

func TestObjectPathWithSubcategory(t *testing.T) {
	path := ObjectPath("agent1", "exports", "report.pdf")
	assert.Equal(t, "agent1/exports/report.pdf", path)
}
