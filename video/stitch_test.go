package video

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStretchFactorClamps(t *testing.T) {
	require.InDelta(t, 1.0, StretchFactor(10, 10), 1e-9)
	require.InDelta(t, 2.0, StretchFactor(20, 10), 1e-9)
	require.InDelta(t, 0.5, StretchFactor(5, 10), 1e-9)

	// extreme ratios are clamped
	require.InDelta(t, 10.0, StretchFactor(500, 10), 1e-9)
	require.InDelta(t, 0.1, StretchFactor(0.1, 10), 1e-9)

	// degenerate source falls back to untouched speed
	require.InDelta(t, 1.0, StretchFactor(10, 0), 1e-9)
}

func TestFormatTime(t *testing.T) {
	require.Equal(t, "00:00:00.000", formatTime(0))
	require.Equal(t, "00:01:05.500", formatTime(65.5))
	require.Equal(t, "01:00:00.000", formatTime(3600))
}

func TestWriteConcatListEscapesQuotes(t *testing.T) {
	listPath := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, writeConcatList(listPath, []string{
		"/tmp/plain.mp4",
		"/tmp/it's here.mp4",
	}))
	content, err := os.ReadFile(listPath)
	require.NoError(t, err)
	require.Equal(t, "file '/tmp/plain.mp4'\nfile '/tmp/it'\\''s here.mp4'\n", string(content))
}

func TestPostTransformFilter(t *testing.T) {
	f := PostTransform{Brightness: 1.02, Saturation: 0.98, Contrast: 1.0, HueDegrees: -1.5}.filter()
	require.Equal(t, "eq=brightness=0.020:saturation=0.980:contrast=1.000,hue=h=-1.50", f)
}

func TestChunkRanges(t *testing.T) {
	ranges := ChunkRanges(6.0)
	require.Len(t, ranges, 3)
	require.Equal(t, [2]float64{0, 2.5}, ranges[0])
	require.Equal(t, [2]float64{2.5, 5.0}, ranges[1])
	require.Equal(t, [2]float64{5.0, 6.0}, ranges[2])

	require.Empty(t, ChunkRanges(0))
}
