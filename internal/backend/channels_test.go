package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCategoryOf verifies the closed prefix mapping
func TestCategoryOf(t *testing.T) {
	cases := []struct {
		channel  string
		category Category
	}{
		{"machine:getAll", CategoryCollection},
		{"policy:getRules", CategoryCollection},
		{"policy:createRule", CategoryCollection},
		{"ad:getUsers", CategoryCollection},
		{"evidence:getAll", CategoryCollection},
		{"rule:validate", CategoryCollection},
		{"scan:start", CategoryStatus},
		{"deploy:status", CategoryStatus},
		{"system:health", CategoryStatus},
		{"telemetry:push", CategoryUnknown},
		{"noprefix", CategoryUnknown},
		{"", CategoryUnknown},
		{":empty", CategoryUnknown},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.category, CategoryOf(tc.channel), "channel %q", tc.channel)
	}
}

// TestFallbackValue verifies the typed default payloads
func TestFallbackValue(t *testing.T) {
	assert.JSONEq(t, `[]`, string(FallbackValue(CategoryCollection)))
	assert.JSONEq(t, `{"state":"unknown"}`, string(FallbackValue(CategoryStatus)))
	assert.Equal(t, `null`, string(FallbackValue(CategoryUnknown)))
}

// TestIsLongRunning verifies the fixed allow-list
func TestIsLongRunning(t *testing.T) {
	long := []string{"scan:start", "scan:full", "policy:deploy", "evidence:generate", "evidence:collect"}
	for _, ch := range long {
		assert.True(t, IsLongRunning(ch), "channel %q", ch)
	}

	short := []string{"machine:getAll", "scan:status", "policy:getRules", "deploy:status"}
	for _, ch := range short {
		assert.False(t, IsLongRunning(ch), "channel %q", ch)
	}
}

// TestCategoryString verifies log names
func TestCategoryString(t *testing.T) {
	assert.Equal(t, "collection", CategoryCollection.String())
	assert.Equal(t, "status", CategoryStatus.String())
	assert.Equal(t, "unknown", CategoryUnknown.String())
}
