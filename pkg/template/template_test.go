package template

import (
	"testing"

	"github.com/burrowq/burrow/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected []string
	}{
		{
			name:     "no placeholders",
			template: "plain text",
			expected: nil,
		},
		{
			name:     "single placeholder",
			template: "do {{x}}",
			expected: []string{"x"},
		},
		{
			name:     "order of first appearance",
			template: "{{b}} then {{a}} then {{b}} again",
			expected: []string{"b", "a"},
		},
		{
			name:     "whitespace inside braces",
			template: "run {{ cmd }} on {{host}}",
			expected: []string{"cmd", "host"},
		},
		{
			name:     "underscore and digits",
			template: "{{file_1}} {{_tmp}}",
			expected: []string{"file_1", "_tmp"},
		},
		{
			name:     "single braces ignored",
			template: "not {a} a {placeholder}",
			expected: nil,
		},
		{
			name:     "invalid identifier ignored",
			template: "{{1bad}} {{ok}}",
			expected: []string{"ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractVariables(tt.template))
		})
	}
}

func TestInterpolate(t *testing.T) {
	out, err := Interpolate("do {{x}} and {{y}} and {{x}}", map[string]string{"x": "A", "y": "B"})
	require.NoError(t, err)
	assert.Equal(t, "do A and B and A", out)
}

func TestInterpolateExtraVariablesAllowed(t *testing.T) {
	out, err := Interpolate("do {{x}}", map[string]string{"x": "A", "unused": "z"})
	require.NoError(t, err)
	assert.Equal(t, "do A", out)
}

func TestInterpolateMissingVariables(t *testing.T) {
	_, err := Interpolate("{{a}} {{b}} {{c}}", map[string]string{"b": "ok"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "a, c")
}

func TestInterpolateNoPlaceholders(t *testing.T) {
	out, err := Interpolate("verbatim", nil)
	require.NoError(t, err)
	assert.Equal(t, "verbatim", out)
}

func TestReconcileVariables(t *testing.T) {
	t.Run("derived when nil", func(t *testing.T) {
		vars, err := ReconcileVariables("do {{x}} {{y}}", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, vars)
	})

	t.Run("explicit match keeps declared order", func(t *testing.T) {
		vars, err := ReconcileVariables("do {{x}} {{y}}", []string{"y", "x"})
		require.NoError(t, err)
		assert.Equal(t, []string{"y", "x"}, vars)
	})

	t.Run("extra declared rejected", func(t *testing.T) {
		_, err := ReconcileVariables("do {{x}}", []string{"x", "z"})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
		assert.Contains(t, err.Error(), "z")
	})

	t.Run("undeclared placeholder rejected", func(t *testing.T) {
		_, err := ReconcileVariables("do {{x}} {{y}}", []string{"x"})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
		assert.Contains(t, err.Error(), "y")
	})

	t.Run("duplicate declared rejected", func(t *testing.T) {
		_, err := ReconcileVariables("do {{x}}", []string{"x", "x"})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("empty template with empty list", func(t *testing.T) {
		vars, err := ReconcileVariables("", []string{})
		require.NoError(t, err)
		assert.Empty(t, vars)
	})
}
