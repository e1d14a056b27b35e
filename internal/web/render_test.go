package web

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "dashboard", map[string]any{
		"Active":    int64(2),
		"BytesUp":   int64(3 << 20),
		"BytesDown": int64(0),
		"Mappings":  []struct{ Listen, Dest string }{{"http://0.0.0.0:7000", "https://backend:443"}},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "<title>tcprelay</title>")
	assert.Contains(t, out, "3.0 MiB")
	assert.Contains(t, out, "https://backend:443")
	assert.Contains(t, out, "rendered ")
}

func TestRenderUnknownTemplate(t *testing.T) {
	assert.Error(t, Render(&bytes.Buffer{}, "missing", nil))
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "1.0 GiB", humanBytes(1<<30))
}
