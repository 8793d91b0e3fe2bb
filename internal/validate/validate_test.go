package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampartlabs/rampart/internal/domain"
)

// TestUntrustedText_Accepts verifies clean values pass
func TestUntrustedText_Accepts(t *testing.T) {
	cases := []string{
		"Chrome",
		"O=GOOGLE LLC, L=MOUNTAIN VIEW, S=CA, C=US",
		"C:\\Program Files\\App\\app.exe",
		"名前 with unicode ✓",
		strings.Repeat("a", MaxTextLen),
	}

	for _, c := range cases {
		assert.NoError(t, UntrustedText("name", c), "value %q should pass", c)
	}
}

// TestUntrustedText_RejectsEmpty verifies the non-empty rule
func TestUntrustedText_RejectsEmpty(t *testing.T) {
	err := UntrustedText("name", "")

	require.Error(t, err)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Field)
}

// TestUntrustedText_RejectsOverlong verifies the length cap
func TestUntrustedText_RejectsOverlong(t *testing.T) {
	err := UntrustedText("publisher", strings.Repeat("x", MaxTextLen+1))

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "publisher", verr.Field)
}

// TestUntrustedText_CountsRunesNotBytes verifies multibyte text is measured
// in characters
func TestUntrustedText_CountsRunesNotBytes(t *testing.T) {
	// 1024 three-byte runes: over the byte count, within the char limit.
	assert.NoError(t, UntrustedText("name", strings.Repeat("あ", MaxTextLen)))
}

// TestUntrustedText_RejectsControlChars verifies the control character rule
func TestUntrustedText_RejectsControlChars(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"nul byte", "app\x00name"},
		{"newline", "app\nname"},
		{"tab", "app\tname"},
		{"escape", "app\x1bname"},
		{"unit separator", "app\x1fname"},
		{"delete", "app\x7fname"},
		{"leading control", "\x01app"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := UntrustedText("name", tc.value)

			require.Error(t, err)
			var verr *domain.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

// TestStruct_UntrustedAlias verifies the combined tag on struct fields
func TestStruct_UntrustedAlias(t *testing.T) {
	type form struct {
		Name string `validate:"untrusted"`
	}

	assert.NoError(t, Struct(form{Name: "clean"}))

	err := Struct(form{Name: "bad\x00value"})
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))

	err = Struct(form{Name: ""})
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
}

// TestStruct_ReportsFieldAndTag verifies the converted error carries context
func TestStruct_ReportsFieldAndTag(t *testing.T) {
	type cfg struct {
		BackendURL string `validate:"required,url"`
	}

	err := Struct(cfg{BackendURL: "not a url"})

	require.Error(t, err)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "backendurl", verr.Field)
	assert.Contains(t, verr.Reason, "url")
}
