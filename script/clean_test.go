package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanStripsMetaLanguage(t *testing.T) {
	in := "In this scene, we see Ada confront her brother. The camera pans away as she leaves."
	out := Clean(in)
	require.NotContains(t, strings.ToLower(out), "the camera")
	require.NotContains(t, strings.ToLower(out), "we see")
	require.NotContains(t, strings.ToLower(out), "in this scene")
	require.Contains(t, out, "Ada")
}

func TestCleanRemovesChapterLabel(t *testing.T) {
	require.Equal(t, "Ada finds the letter.", Clean("Chapter 3: Ada finds the letter."))
}

func TestCleanPreservesMarker(t *testing.T) {
	in := "Ada speaks her mind. [ORIGINAL_AUDIO:30.0:33.5:Ada]"
	out := Clean(in)
	require.True(t, HasMarker(out))
	text, marker := ParseMarker(out)
	require.Equal(t, "Ada speaks her mind.", text)
	require.Equal(t, 30.0, marker.Start)
}

func TestCleanFallsBackWhenGutted(t *testing.T) {
	// a long narration consisting almost entirely of blacklisted phrases
	in := "We see the scene. The camera is shown. On screen the shot is displayed, we see the video and the screen."
	out := Clean(in)
	// fallback keeps the (normalized) original rather than near-empty text
	require.GreaterOrEqual(t, len(out), cleanFallbackMinLen)
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	require.Equal(t, "One two three.", Clean("One   two\n\nthree ."))
}

func TestHasMetaLanguage(t *testing.T) {
	require.True(t, HasMetaLanguage("Then we see the hero fall."))
	require.True(t, HasMetaLanguage("The camera follows her."))
	require.False(t, HasMetaLanguage("Ada runs through the forest."))
}

func TestWordCountIgnoresMarker(t *testing.T) {
	require.Equal(t, 3, WordCount("one two three [ORIGINAL_AUDIO:1.0:2.0:Bo]"))
	require.Zero(t, WordCount(""))
}
