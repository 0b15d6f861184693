package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpand_Styles tests the supported placeholder styles.
func TestExpand_Styles(t *testing.T) {
	vars := map[string]any{
		"name": "ada",
		"port": 8080,
		"doc":  map[string]any{"title": "notes"},
	}

	tests := []struct {
		in   string
		want string
	}{
		{"hi ${name}", "hi ada"},
		{"hi $name", "hi ada"},
		{"hi {{name}}", "hi ada"},
		{"hi {{ name }}", "hi ada"},
		{"port=$port", "port=8080"},
		{"title: {{doc.title}}", "title: notes"},
		{"$port/$portNumber", "8080/$portNumber"},
		{"no placeholders", "no placeholders"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Expand(tt.in, vars), "%q", tt.in)
	}
}

// TestExpand_MissingActions tests the three missing-variable policies.
func TestExpand_MissingActions(t *testing.T) {
	vars := map[string]any{"known": "v"}

	keep := NewExpander(WithMissingAction(MissingKeep))
	out, err := keep.Expand("${known} ${ghost}", vars)
	require.NoError(t, err)
	assert.Equal(t, "v ${ghost}", out)

	empty := NewExpander(WithMissingAction(MissingEmpty))
	out, err = empty.Expand("${known} ${ghost}", vars)
	require.NoError(t, err)
	assert.Equal(t, "v ", out)

	strict := NewExpander(WithMissingAction(MissingError))
	_, err = strict.Expand("${ghost} and {{phantom}}", vars)
	require.Error(t, err)
	var uve *UndefinedVariableError
	require.ErrorAs(t, err, &uve)
	assert.ElementsMatch(t, []string{"ghost", "phantom"}, uve.Names)
}

// TestExpand_StyleToggles tests disabling individual styles.
func TestExpand_StyleToggles(t *testing.T) {
	vars := map[string]any{"v": "x"}

	noDollar := NewExpander(WithDollarStyle(false))
	out, err := noDollar.Expand("$v {{v}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "$v x", out)

	noMustache := NewExpander(WithMustacheStyle(false))
	out, err = noMustache.Expand("$v {{v}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "x {{v}}", out)
}

// TestExpandMap tests recursive expansion over nested maps.
func TestExpandMap(t *testing.T) {
	vars := map[string]any{"env": "prod"}

	in := map[string]any{
		"url":   "https://${env}.example.com",
		"count": 3,
		"nested": map[string]any{
			"label": "{{env}}-worker",
		},
	}

	out := ExpandMap(in, vars)

	assert.Equal(t, "https://prod.example.com", out["url"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, "prod-worker", out["nested"].(map[string]any)["label"])
}

// TestMustExpand tests the panicking variant.
func TestMustExpand(t *testing.T) {
	strict := NewExpander(WithMissingAction(MissingError))

	assert.Equal(t, "v", strict.MustExpand("${k}", map[string]any{"k": "v"}))
	assert.Panics(t, func() {
		strict.MustExpand("${ghost}", nil)
	})
}
