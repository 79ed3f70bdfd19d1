package bookmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	b, err := New("https://example.com/post", "  A Post  ")
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "A Post", b.Title)
	assert.Equal(t, StatusUnread, b.ReadingStatus)
	assert.False(t, b.BookmarkedDate.IsZero())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("https://example.com", "   ")
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = New("not-a-url", "Title")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = New("/relative/path", "Title")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestValidatePriority(t *testing.T) {
	assert.NoError(t, ValidatePriority(1))
	assert.NoError(t, ValidatePriority(5))
	assert.ErrorIs(t, ValidatePriority(0), ErrInvalidPriority)
	assert.ErrorIs(t, ValidatePriority(6), ErrInvalidPriority)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Reading ")
	require.NoError(t, err)
	assert.Equal(t, StatusReading, st)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Go ", "rust", "go", "", "Rust"})
	assert.Equal(t, []string{"go", "rust"}, got)
}

func TestHasTag(t *testing.T) {
	b := Bookmark{Tags: []string{"go", "crdt"}}
	assert.True(t, b.HasTag("crdt"))
	assert.False(t, b.HasTag("rust"))
}

func TestAmbiguousIDError(t *testing.T) {
	err := &AmbiguousIDError{
		Input:   "ab",
		Matches: []string{"abcdefgh1234", "abxyz"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "abcdefgh")
	assert.Contains(t, msg, "abxyz")
	assert.NotContains(t, msg, "abcdefgh1234")
}
