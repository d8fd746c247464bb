package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badespider/videoeditor-sub000/script"
)

func TestAcceptMatch(t *testing.T) {
	chapterStart, chapterDur := 100.0, 40.0

	ok := AcceptMatch(MatchResult{Start: 110, Confidence: 0.6, Source: matchSourceTranscript}, chapterStart, chapterDur, 0.55)
	require.True(t, ok)

	// full-video windows need extra confidence
	ok = AcceptMatch(MatchResult{Start: 110, Confidence: 0.6, Source: matchSourceFullVideo}, chapterStart, chapterDur, 0.55)
	require.False(t, ok)
	ok = AcceptMatch(MatchResult{Start: 110, Confidence: 0.7, Source: matchSourceFullVideo}, chapterStart, chapterDur, 0.55)
	require.True(t, ok)

	// too far from the chapter's own position
	ok = AcceptMatch(MatchResult{Start: 400, Confidence: 0.9, Source: matchSourceTranscript}, chapterStart, chapterDur, 0.55)
	require.False(t, ok)

	// drift window never collapses below two minutes
	ok = AcceptMatch(MatchResult{Start: 210, Confidence: 0.9, Source: matchSourceTranscript}, chapterStart, 10, 0.55)
	require.True(t, ok)
}

func buildTestScenes() []ChapterScene {
	chapters := []script.Chapter{
		{Title: "Act One", Start: 10, End: 70},
		{Title: "Act Two", Start: 70, End: 150},
	}
	narrations := []string{"first narration", "second narration"}
	intro := BookendAudio{Text: "intro", Path: "intro.mp3", Duration: 4}
	outro := BookendAudio{Text: "outro", Path: "outro.mp3", Duration: 4}
	audio := []ChapterAudio{{Path: "c0.mp3", Duration: 20}, {Path: "c1.mp3", Duration: 25}}
	return BuildScenes("job-1", chapters, narrations, 200, intro, outro, audio, nil, 0.55)
}

func TestBuildScenesBookends(t *testing.T) {
	scenes := buildTestScenes()
	require.Len(t, scenes, 4)

	require.Equal(t, introSceneID, scenes[0].ID)
	require.Equal(t, 0.0, scenes[0].VideoStart)
	require.Equal(t, 6.0, scenes[0].VideoEnd) // 4s audio stretched 1.5x

	require.Equal(t, 1, scenes[1].ID)
	require.Equal(t, 10.0, scenes[1].VideoStart)
	require.Equal(t, 70.0, scenes[1].VideoEnd)

	require.Equal(t, outroSceneID, scenes[3].ID)
	require.Equal(t, 194.0, scenes[3].VideoStart)
	require.Equal(t, 200.0, scenes[3].VideoEnd)
}

func TestBuildScenesIntroVideoCapped(t *testing.T) {
	intro := BookendAudio{Text: "intro", Duration: 30}
	scenes := BuildScenes("job-1", []script.Chapter{{Title: "A", Start: 0, End: 60}}, []string{"n"},
		600, intro, BookendAudio{}, []ChapterAudio{{}}, nil, 0.55)
	require.Equal(t, maxIntroVideoLen, scenes[0].VideoEnd)
}

func TestBuildScenesAppliesAcceptedMatch(t *testing.T) {
	chapters := []script.Chapter{{Title: "Act One", Start: 10, End: 70}}
	matches := map[int]MatchResult{
		0: {Start: 30, End: 95, Confidence: 0.8, Source: matchSourceTranscript},
	}
	scenes := BuildScenes("job-1", chapters, []string{"n"}, 200,
		BookendAudio{}, BookendAudio{}, []ChapterAudio{{}}, matches, 0.55)

	require.Equal(t, 30.0, scenes[1].VideoStart)
	require.Equal(t, 95.0, scenes[1].VideoEnd)

	// low confidence keeps the chapter's own range
	matches[0] = MatchResult{Start: 30, End: 95, Confidence: 0.2, Source: matchSourceTranscript}
	scenes = BuildScenes("job-1", chapters, []string{"n"}, 200,
		BookendAudio{}, BookendAudio{}, []ChapterAudio{{}}, matches, 0.55)
	require.Equal(t, 10.0, scenes[1].VideoStart)
}

func TestFitDurationTrimsOvershoot(t *testing.T) {
	scenes := []ChapterScene{
		{ID: introSceneID, AudioLen: 5},
		{ID: 1, AudioLen: 60},
		{ID: 2, AudioLen: 60},
		{ID: 3, AudioLen: 60},
		{ID: outroSceneID, AudioLen: 5},
	}

	kept := FitDuration("job-1", scenes, 100)
	require.Less(t, len(kept), len(scenes))

	// bookends always survive
	require.Equal(t, introSceneID, kept[0].ID)
	require.Equal(t, outroSceneID, kept[len(kept)-1].ID)
	require.True(t, hasChapterScene(kept))
}

func TestFitDurationKeepsAtLeastOneChapter(t *testing.T) {
	scenes := []ChapterScene{
		{ID: introSceneID, AudioLen: 50},
		{ID: 1, AudioLen: 300},
		{ID: outroSceneID, AudioLen: 50},
	}
	kept := FitDuration("job-1", scenes, 60)
	require.True(t, hasChapterScene(kept))
}

func TestFitDurationLeavesShortfallAlone(t *testing.T) {
	scenes := []ChapterScene{
		{ID: introSceneID, AudioLen: 5},
		{ID: 1, AudioLen: 20},
		{ID: outroSceneID, AudioLen: 5},
	}
	require.Len(t, FitDuration("job-1", scenes, 300), 3)
	require.Len(t, FitDuration("job-1", scenes, 0), 3)
}
