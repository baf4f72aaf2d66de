package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageID_RoundTrip(t *testing.T) {
	at := time.UnixMilli(1719400000123)
	id := NewMessageID("alice", "bob", at)

	assert.Equal(t, "alice-bob-1719400000123", id.String())

	parsed, err := ParseMessageID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseMessageID_Malformed(t *testing.T) {
	cases := []string{
		"",
		"alice",
		"alice-bob",
		"alice-bob-carol-123",
		"alice-bob-notanumber",
		"-bob-123",
		"alice--123",
	}
	for _, raw := range cases {
		_, err := ParseMessageID(raw)
		assert.Error(t, err, "expected parse failure for %q", raw)
	}
}
