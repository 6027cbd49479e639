// ABOUTME: Tests for field validators
// ABOUTME: Covers handle/subject/body/tag/description/display-name rules and tag dedup

package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	tests := []struct {
		name   string
		handle string
		ok     bool
	}{
		{"simple", "alice", true},
		{"minimum length", "ab", true},
		{"digits and separators", "agent-7.sub_1", true},
		{"max length", strings.Repeat("a", 64), true},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"too short", "a", false},
		{"too long", strings.Repeat("a", 65), false},
		{"uppercase", "Alice", false},
		{"space inside", "al ice", false},
		{"leading dot", ".alice", false},
		{"trailing dot", "alice.", false},
		{"leading dash", "-alice", false},
		{"trailing dash", "alice-", false},
		{"leading underscore ok", "_alice", true},
		{"leading space", " bob", false},
		{"trailing space", "bob ", false},
		{"padded", " bob ", false},
		{"tab padded", "\tbob\t", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Handle(tt.handle)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	assert.NoError(t, Subject("Deployment window"))
	assert.NoError(t, Subject(strings.Repeat("s", 200)))
	assert.Error(t, Subject(""))
	assert.Error(t, Subject("  \t "))
	assert.Error(t, Subject(strings.Repeat("s", 201)))
}

func TestSubject_CountsRunesNotBytes(t *testing.T) {
	// 200 two-byte runes is 400 bytes but exactly at the limit.
	assert.NoError(t, Subject(strings.Repeat("é", 200)))
	assert.Error(t, Subject(strings.Repeat("é", 201)))
}

func TestBody(t *testing.T) {
	assert.NoError(t, Body("hello"))
	assert.NoError(t, Body(strings.Repeat("b", 50000)))
	assert.Error(t, Body(""))
	assert.Error(t, Body("   "))
	assert.Error(t, Body(strings.Repeat("b", 50001)))
}

func TestBody_CountsRunesNotBytes(t *testing.T) {
	assert.NoError(t, Body(strings.Repeat("本", 50000)))
}

func TestTags_Dedup(t *testing.T) {
	got, err := Tags([]string{"urgent", "urgent"})
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent"}, got)
}

func TestTags_DedupPreservesFirstSeenOrder(t *testing.T) {
	got, err := Tags([]string{"b", "a", "b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestTags_TooMany(t *testing.T) {
	tags := make([]string, 21)
	for i := range tags {
		tags[i] = "tag-" + string(rune('a'+i))
	}
	_, err := Tags(tags)
	assert.Error(t, err)
}

func TestTags_TwentyDistinctAllowed(t *testing.T) {
	tags := make([]string, 20)
	for i := range tags {
		tags[i] = "tag-" + string(rune('a'+i))
	}
	got, err := Tags(tags)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestTags_BadCharacters(t *testing.T) {
	_, err := Tags([]string{"Urgent"})
	assert.Error(t, err)
	_, err = Tags([]string{"has space"})
	assert.Error(t, err)
	_, err = Tags([]string{""})
	assert.Error(t, err)
	_, err = Tags([]string{strings.Repeat("t", 31)})
	assert.Error(t, err)
}

func TestTags_EmptyListOK(t *testing.T) {
	got, err := Tags(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDescription(t *testing.T) {
	assert.NoError(t, Description("triage bot for the infra team"))
	assert.Error(t, Description(""))
	assert.Error(t, Description(strings.Repeat("d", 501)))
}

func TestDisplayName(t *testing.T) {
	assert.NoError(t, DisplayName("Alice (ops)"))
	assert.NoError(t, DisplayName(strings.Repeat("ü", 100)))
	assert.Error(t, DisplayName(" "))
	assert.Error(t, DisplayName(strings.Repeat("n", 101)))
	assert.Error(t, DisplayName(strings.Repeat("ü", 101)))
}

func TestValidationError_Message(t *testing.T) {
	err := Handle("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handle")
}
