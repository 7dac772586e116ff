package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyText(t *testing.T) {
	assert.Nil(t, Split("", 1000, 200))
	assert.Nil(t, Split("   \n\t  ", 1000, 200))
}

func TestSplitShortText(t *testing.T) {
	chunks := Split("short letter", 1000, 200)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, "short letter", chunks[0].Text)
}

func TestSplitOverlappingWindows(t *testing.T) {
	text := strings.Repeat("a", 2300)
	chunks := Split(text, 1000, 200)

	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 800, chunks[1].Start)
	assert.Equal(t, 1600, chunks[2].Start)
	assert.Len(t, chunks[0].Text, 1000)
	assert.Len(t, chunks[1].Text, 1000)
	assert.Len(t, chunks[2].Text, 700)
}

func TestSplitIndicesAreSequential(t *testing.T) {
	chunks := Split(strings.Repeat("x", 5000), 1000, 200)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

// Adjacent chunks must share exactly overlap runes and together cover the
// whole text with no gaps.
func TestSplitCoverage(t *testing.T) {
	cases := []struct {
		length, size, overlap int
	}{
		{1, 1000, 200},
		{999, 1000, 200},
		{1000, 1000, 200},
		{1001, 1000, 200},
		{2300, 1000, 200},
		{10000, 1000, 200},
		{5000, 500, 0},
		{5000, 512, 128},
	}

	for _, tc := range cases {
		text := randomishText(tc.length)
		chunks := Split(text, tc.size, tc.overlap)
		require.NotEmpty(t, chunks)

		step := tc.size - tc.overlap
		expected := (tc.length - tc.overlap + step - 1) / step
		if tc.length <= tc.overlap {
			expected = 1
		}
		assert.Len(t, chunks, expected, "length=%d size=%d overlap=%d", tc.length, tc.size, tc.overlap)

		runes := []rune(text)
		for i, c := range chunks {
			assert.Equal(t, i*step, c.Start)
			assert.Equal(t, string(runes[c.Start:c.Start+len([]rune(c.Text))]), c.Text)
		}
		last := chunks[len(chunks)-1]
		assert.Equal(t, len(runes), last.Start+len([]rune(last.Text)), "last chunk must reach the end")
	}
}

func TestSplitMultibyteRunes(t *testing.T) {
	text := strings.Repeat("é", 250) // 2-byte runes
	chunks := Split(text, 100, 20)

	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 100)
	}
	assert.Equal(t, 160, chunks[2].Start)
}

func TestSplitInvalidOverlapDegradesToZero(t *testing.T) {
	text := strings.Repeat("a", 300)

	chunks := Split(text, 100, 100)
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, chunks[1].Start)

	chunks = Split(text, 100, -5)
	require.Len(t, chunks, 3)
}

func TestSplitInvalidChunkSize(t *testing.T) {
	assert.Nil(t, Split("some text", 0, 0))
	assert.Nil(t, Split("some text", -10, 0))
}

func randomishText(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	return sb.String()
}
