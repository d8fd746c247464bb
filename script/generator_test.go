package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badespider/videoeditor-sub000/clients"
)

type stubCompleter struct {
	mu      sync.Mutex
	prompts []string
	answer  func(userPrompt string) (string, error)
}

func (s *stubCompleter) Complete(_ context.Context, _, userPrompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, userPrompt)
	s.mu.Unlock()
	return s.answer(userPrompt)
}

func newTestGenerator(answer func(string) (string, error)) (*Generator, *stubCompleter) {
	stub := &stubCompleter{answer: answer}
	g := NewGenerator(stub)
	g.structuredGap = 0
	g.parallelGap = 0
	return g, stub
}

func longNarration(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = "word"
	}
	return strings.Join(parts, " ") + "."
}

func TestStoryPhase(t *testing.T) {
	total := 20
	require.Equal(t, "intro", StoryPhase(0, total))
	require.Equal(t, "conflict", StoryPhase(4, total))
	require.Equal(t, "rising action", StoryPhase(10, total))
	require.Equal(t, "climax", StoryPhase(17, total))
	require.Equal(t, "resolution", StoryPhase(19, total))
}

func TestWordTargetsWithTarget(t *testing.T) {
	chapters := chaptersWithDurations(100, 100, 100)
	targets := WordTargets(chapters, 300)
	// (300-30)/3*2.2 = 198
	require.Equal(t, []int{198, 198, 198}, targets)

	// short targets are floored at 120 words
	targets = WordTargets(chapters, 60)
	require.Equal(t, []int{120, 120, 120}, targets)
}

func TestWordTargetsWithoutTarget(t *testing.T) {
	targets := WordTargets(chaptersWithDurations(100, 10), 0)
	require.Equal(t, 250, targets[0])
	// chapters under 30s are budgeted as 30s
	require.Equal(t, 75, targets[1])
}

func TestBoostedWordTargetClamps(t *testing.T) {
	// predicted barely short: boost lands inside the clamp range
	boosted := BoostedWordTarget(600, 450, 4)
	require.GreaterOrEqual(t, boosted, minBoostedWords)
	require.LessOrEqual(t, boosted, maxBoostedWords)

	// grossly short prediction clamps to the ceiling
	require.Equal(t, maxBoostedWords, BoostedWordTarget(1200, 60, 2))
}

func TestPassesQualityGate(t *testing.T) {
	good := longNarration(40)
	require.True(t, passesQualityGate([]string{good, good, good}))
	require.True(t, passesQualityGate([]string{good, "short", "we see things happen on screen"}))
	require.False(t, passesQualityGate([]string{"short", "tiny", "the camera pans over everything slowly now"}))
	require.False(t, passesQualityGate(nil))
}

func TestParseNarrationListJSON(t *testing.T) {
	answer := "Here you go:\n[\"First narration.\", \"Second narration.\"]"
	got := parseNarrationList(answer, 2)
	require.Equal(t, []string{"First narration.", "Second narration."}, got)
}

func TestParseNarrationListLines(t *testing.T) {
	answer := "1. First narration line.\n\n2) Second narration line.\n- Third narration line."
	got := parseNarrationList(answer, 3)
	require.Equal(t, []string{"First narration line.", "Second narration line.", "Third narration line."}, got)
}

func TestGenerateStructuredPath(t *testing.T) {
	g, stub := newTestGenerator(func(prompt string) (string, error) {
		// answer every batch with a JSON array of substantial narrations
		count := strings.Count(prompt, "Chapter ")
		arr := make([]string, 0, count)
		for i := 0; i < 3; i++ {
			arr = append(arr, longNarration(50))
		}
		b, _ := json.Marshal(arr)
		return string(b), nil
	})

	req := GenerateRequest{
		Chapters: chaptersWithDurations(100, 100, 100, 100),
		Movie: clients.MovieData{
			Title:       "The Keep",
			PlotSummary: "A siege and its aftermath.",
			Characters:  []clients.MovieCharacter{{Name: "Ada", Role: "lead"}},
		},
	}
	narrations, err := g.Generate(context.Background(), "job-1", req)
	require.NoError(t, err)
	require.Len(t, narrations, 4)
	for _, n := range narrations {
		require.Greater(t, WordCount(n), qualityMinWords)
	}
	// 4 chapters at batch size 3 = 2 structured calls
	require.Len(t, stub.prompts, 2)
	require.Contains(t, stub.prompts[0], "The Keep")
}

func TestGenerateFallsBackToParallel(t *testing.T) {
	var structured int
	g, _ := newTestGenerator(func(prompt string) (string, error) {
		if strings.Contains(prompt, "JSON array") {
			structured++
			return `["we see on screen", "the camera shows"]`, nil
		}
		return longNarration(60), nil
	})

	req := GenerateRequest{
		Chapters: chaptersWithDurations(100, 100),
		Movie:    clients.MovieData{PlotSummary: "A story."},
	}
	narrations, err := g.Generate(context.Background(), "job-1", req)
	require.NoError(t, err)
	require.Greater(t, structured, 0)
	for _, n := range narrations {
		require.False(t, HasMetaLanguage(n))
		require.Greater(t, WordCount(n), qualityMinWords)
	}
}

func TestGenerateWithoutMovieDataUsesParallel(t *testing.T) {
	// answers meet the word budget so no expansion round-trip happens
	g, stub := newTestGenerator(func(string) (string, error) {
		return longNarration(250), nil
	})
	req := GenerateRequest{Chapters: chaptersWithDurations(100, 100)}
	narrations, err := g.Generate(context.Background(), "job-1", req)
	require.NoError(t, err)
	require.Len(t, narrations, 2)
	for _, p := range stub.prompts {
		require.Contains(t, p, "Retell this part")
	}
}

func TestGenerateAppendsKeyMomentMarker(t *testing.T) {
	g, _ := newTestGenerator(func(string) (string, error) {
		return longNarration(250), nil
	})
	req := GenerateRequest{
		Chapters: chaptersWithDurations(100, 100),
		KeyMoments: map[int][]clients.KeyMoment{
			0: {{ChapterIndex: 0, Start: 42, End: 45.5, Speaker: "Ada", LeadIn: "Then Ada speaks:"}},
		},
	}
	narrations, err := g.Generate(context.Background(), "job-1", req)
	require.NoError(t, err)
	require.Len(t, narrations, 2)

	text, marker := ParseMarker(narrations[0])
	require.NotNil(t, marker)
	require.Equal(t, 42.0, marker.Start)
	require.Equal(t, 45.5, marker.End)
	require.Equal(t, "Ada", marker.Speaker)
	// lead-in keeps its own ellipsis, punctuation is normalized before it
	require.True(t, strings.HasSuffix(text, "Then Ada speaks..."))

	// chapters without a key moment stay marker-free
	require.False(t, HasMarker(narrations[1]))
}

func TestAppendOriginalAudioDefaults(t *testing.T) {
	got := appendOriginalAudio("The gate falls", clients.KeyMoment{Start: 10, End: 13})
	require.Equal(t, "The gate falls. And then Unknown says... [ORIGINAL_AUDIO:10.00:13.00:Unknown]", got)

	// inverted ranges never produce a marker
	require.Equal(t, "text", appendOriginalAudio("text", clients.KeyMoment{Start: 5, End: 2}))
}

func TestGenerateErrorFallsBackToSummary(t *testing.T) {
	g, _ := newTestGenerator(func(string) (string, error) {
		return "", fmt.Errorf("llm down")
	})
	req := GenerateRequest{
		Chapters: []Chapter{{Title: "One", Summary: "Ada storms the keep.", Start: 0, End: 100}},
	}
	narrations, err := g.Generate(context.Background(), "job-1", req)
	require.NoError(t, err)
	require.Equal(t, "Ada storms the keep.", narrations[0])
}

func TestIntroFallbackOnError(t *testing.T) {
	g, _ := newTestGenerator(func(string) (string, error) {
		return "", fmt.Errorf("llm down")
	})
	intro := g.Intro(context.Background(), "job-1", "The Keep", "")
	require.Contains(t, intro, "The Keep")
}

func TestOutroUsesTemplates(t *testing.T) {
	g, _ := newTestGenerator(func(string) (string, error) { return "", nil })
	outro := g.Outro()
	require.NotEmpty(t, outro)

	var foundOpener bool
	for _, opener := range outroOpeners {
		if strings.HasPrefix(outro, opener) {
			foundOpener = true
		}
	}
	require.True(t, foundOpener)
}
