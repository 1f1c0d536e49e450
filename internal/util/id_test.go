package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("req")
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.Len(t, id, len("req_")+32)
	assert.NotContains(t, strings.TrimPrefix(id, "req_"), "-")
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := NewID("")
		assert.Len(t, id, 32)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
