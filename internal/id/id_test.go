// ABOUTME: Tests for ULID generation
// ABOUTME: Covers format, uniqueness, and sort order of generated identifiers

package id

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGenerator_Format(t *testing.T) {
	gen := NewULIDGenerator()

	id := gen.New()
	assert.Len(t, id, 26)
	for _, c := range id {
		assert.Contains(t, "0123456789ABCDEFGHJKMNPQRSTVWXYZ", string(c))
	}
}

func TestULIDGenerator_Unique(t *testing.T) {
	gen := NewULIDGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.New()
		require.False(t, seen[id], "duplicate identifier %s", id)
		seen[id] = true
	}
}

func TestULIDGenerator_SortableByCreation(t *testing.T) {
	gen := NewULIDGenerator()

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = gen.New()
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	assert.Equal(t, sorted, ids, "identifiers should already be in lexicographic order")
}
