package ytresolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubResolver_ReturnsInputAsStream(t *testing.T) {
	r := NewStub()
	s, err := r.ResolveAudioStream(context.Background(), "https://youtu.be/abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/abc123", s.URL)
	assert.Equal(t, "audio/mpeg", s.MimeType)
}
