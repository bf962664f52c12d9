package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/burrowq/burrow/pkg/errors"
)

func TestName(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"billing", true},
		{"task-42", true},
		{"Review_Queue", true},
		{"9lives", true},
		{"", false},
		{"-leading", false},
		{"_leading", false},
		{"has spaces", false},
		{"emoji🐇", false},
		{strings.Repeat("x", MaxNameLength), true},
		{strings.Repeat("x", MaxNameLength+1), false},
	}
	for _, tt := range tests {
		err := Name("name", tt.value)
		if tt.ok {
			assert.NoError(t, err, "value %q", tt.value)
		} else {
			assert.True(t, errors.IsValidation(err), "value %q", tt.value)
		}
	}
}

func TestText(t *testing.T) {
	assert.NoError(t, Text("body", ""))
	assert.NoError(t, Text("body", strings.Repeat("x", MaxTextLength)))
	assert.True(t, errors.IsValidation(Text("body", strings.Repeat("x", MaxTextLength+1))))
}

func TestBounds(t *testing.T) {
	assert.NoError(t, NonNegative("retries", 0))
	assert.True(t, errors.IsValidation(NonNegative("retries", -1)))
	assert.NoError(t, MinOne("minutes", 1))
	assert.True(t, errors.IsValidation(MinOne("minutes", 0)))
}
