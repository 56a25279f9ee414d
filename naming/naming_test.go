package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeURI(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  string
	}{
		{"public", Public("net", "#Chan"), "net/chan"},
		{"public without hash", Public("net", "chan"), "net/chan"},
		{"public double hash", Public("net", "##chan"), "net/chan"},
		{"private", Private("net", "Alice"), "net/conversation/alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.URI())
		})
	}
}

func TestParseURIRoundTrip(t *testing.T) {
	for _, s := range []Scope{Public("net", "#chan"), Private("net", "bob"), Public("twitch", "#some_streamer")} {
		got, err := ParseURI(s.URI())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestParseURIInvalid(t *testing.T) {
	for _, in := range []string{"", "net", "/chan", "net/", "a/b/c", "net/conversation/", "a/b/c/d"} {
		_, err := ParseURI(in)
		assert.ErrorIs(t, err, ErrInvalidURI, in)
	}
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "#chan", Public("net", "chan").Target())
	assert.Equal(t, "bob", Private("net", "Bob").Target())
	assert.True(t, IsChannel("#chan"))
	assert.False(t, IsChannel("bob"))
}
