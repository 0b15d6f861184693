package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfig_Accessors tests typed extraction with defaults.
func TestConfig_Accessors(t *testing.T) {
	c := New(map[string]any{
		"name":    "svc",
		"count":   3,
		"ratio":   0.5,
		"whole":   float64(4), // yaml/json numbers arrive as float64
		"frac":    4.5,
		"on":      true,
		"wait":    "2s",
		"seconds": 30,
		"tags":    []any{"a", "b"},
		"typed":   []string{"x"},
		"nested":  map[string]any{"k": "v"},
	})

	assert.Equal(t, "svc", c.String("name", "dflt"))
	assert.Equal(t, "dflt", c.String("ghost", "dflt"))
	assert.Equal(t, "dflt", c.String("count", "dflt"), "wrong type falls back")

	assert.Equal(t, 3, c.Int("count", 0))
	assert.Equal(t, 4, c.Int("whole", 0), "integral floats convert")
	assert.Equal(t, 9, c.Int("frac", 9), "fractional floats do not")

	assert.Equal(t, 0.5, c.Float("ratio", 0))
	assert.Equal(t, 3.0, c.Float("count", 0))

	assert.True(t, c.Bool("on", false))
	assert.False(t, c.Bool("ghost", false))

	assert.Equal(t, 2*time.Second, c.Duration("wait", 0))
	assert.Equal(t, 30*time.Second, c.Duration("seconds", 0), "bare numbers are seconds")
	assert.Equal(t, time.Minute, c.Duration("ghost", time.Minute))

	assert.Equal(t, []string{"a", "b"}, c.StringSlice("tags", nil))
	assert.Equal(t, []string{"x"}, c.StringSlice("typed", nil))

	assert.Equal(t, map[string]any{"k": "v"}, c.Map("nested"))
	assert.Nil(t, c.Map("ghost"))

	assert.True(t, c.Has("name"))
	assert.False(t, c.Has("ghost"))
	assert.Equal(t, "svc", c.Any("name", nil))
}

// TestConfig_NilMap tests the nil-map zero value behaves.
func TestConfig_NilMap(t *testing.T) {
	c := New(nil)

	assert.Equal(t, "d", c.String("k", "d"))
	assert.False(t, c.Has("k"))
	assert.NotNil(t, c.Raw())
}

// TestFromYAML tests YAML parsing.
func TestFromYAML(t *testing.T) {
	c, err := FromYAML([]byte("name: svc\ncount: 3\nnested:\n  k: v\n"))

	require.NoError(t, err)
	assert.Equal(t, "svc", c.String("name", ""))
	assert.Equal(t, 3, c.Int("count", 0))
	assert.Equal(t, "v", c.Map("nested")["k"])

	_, err = FromYAML([]byte("a: ["))
	assert.Error(t, err)
}

// TestFromJSON tests JSON parsing.
func TestFromJSON(t *testing.T) {
	c, err := FromJSON([]byte(`{"name": "svc", "count": 3}`))

	require.NoError(t, err)
	assert.Equal(t, "svc", c.String("name", ""))
	assert.Equal(t, 3, c.Int("count", 0))

	_, err = FromJSON([]byte("{"))
	assert.Error(t, err)
}

// TestFromFile tests extension-based format detection.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("k: 1"), 0o600))
	c, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Int("k", 0))

	jsonPath := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"k": 2}`), 0o600))
	c, err = FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Int("k", 0))

	txtPath := filepath.Join(dir, "c.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("k"), 0o600))
	_, err = FromFile(txtPath)
	assert.Error(t, err)

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
