package pipeline

import (
	"math"

	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/script"
)

// Scene indices reserved for the synthetic bookends.
const (
	introSceneID = 0
	outroSceneID = 999

	maxIntroVideoLen = 15.0
	bookendStretch   = 1.5
)

// ChapterScene pairs a chapter with its narration audio and the video range
// chosen for it, ready for stitching.
type ChapterScene struct {
	ID         int
	Title      string
	Narration  string
	VideoStart float64
	VideoEnd   float64
	AudioPath  string
	AudioLen   float64
}

// MatchResult is the clip matcher's proposal for a chapter.
type MatchResult struct {
	Start      float64
	End        float64
	Confidence float64
	Source     string
}

// AcceptMatch applies the acceptance rule: enough confidence for the match
// source, and a plausible distance from the chapter's own position.
func AcceptMatch(m MatchResult, chapterStart, chapterDuration, threshold float64) bool {
	required := threshold
	if m.Source == matchSourceFullVideo {
		required += 0.10
	}
	if m.Confidence < required {
		return false
	}
	maxDrift := math.Max(chapterDuration*2, 120)
	return math.Abs(m.Start-chapterStart) <= maxDrift
}

// BuildScenes assembles the stitch list: an intro bookend over the source's
// opening, one scene per chapter, and an outro bookend over the ending.
// Matches are only consulted when provided (user-script jobs with the
// matcher enabled).
func BuildScenes(jobID string, chapters []script.Chapter, narrations []string, sourceDuration float64,
	intro, outro BookendAudio, chapterAudio []ChapterAudio, matches map[int]MatchResult, matchThreshold float64) []ChapterScene {

	scenes := make([]ChapterScene, 0, len(chapters)+2)

	introVideoLen := math.Min(intro.Duration*bookendStretch, maxIntroVideoLen)
	scenes = append(scenes, ChapterScene{
		ID:         introSceneID,
		Title:      "Intro",
		Narration:  intro.Text,
		VideoStart: 0,
		VideoEnd:   introVideoLen,
		AudioPath:  intro.Path,
		AudioLen:   intro.Duration,
	})

	for i, c := range chapters {
		start, end := c.Start, c.End
		if match, ok := matches[i]; ok {
			if AcceptMatch(match, c.Start, c.Duration(), matchThreshold) {
				start, end = match.Start, match.End
				log.Log(jobID, "using matched range", "chapter", i, "start", start, "confidence", match.Confidence, "source", match.Source)
			} else {
				log.Log(jobID, "rejecting clip match", "chapter", i, "confidence", match.Confidence, "source", match.Source)
			}
		}
		scenes = append(scenes, ChapterScene{
			ID:         i + 1,
			Title:      c.Title,
			Narration:  narrations[i],
			VideoStart: start,
			VideoEnd:   end,
			AudioPath:  chapterAudio[i].Path,
			AudioLen:   chapterAudio[i].Duration,
		})
	}

	outroStart := math.Max(0, sourceDuration-outro.Duration*bookendStretch)
	scenes = append(scenes, ChapterScene{
		ID:         outroSceneID,
		Title:      "Outro",
		Narration:  outro.Text,
		VideoStart: outroStart,
		VideoEnd:   sourceDuration,
		AudioPath:  outro.Path,
		AudioLen:   outro.Duration,
	})

	return scenes
}

// BookendAudio is the synthesized intro or outro.
type BookendAudio struct {
	Text     string
	Path     string
	Duration float64
}

// ChapterAudio is one chapter's finished narration audio.
type ChapterAudio struct {
	Path     string
	Duration float64
}

// FitDuration trims chapter scenes when total audio overshoots the target.
// Bookends always survive; at least one chapter survives. A shortfall is
// only logged.
func FitDuration(jobID string, scenes []ChapterScene, targetSeconds float64) []ChapterScene {
	if targetSeconds <= 0 || len(scenes) <= 2 {
		return scenes
	}

	var total float64
	for _, s := range scenes {
		total += s.AudioLen
	}

	if total > targetSeconds*1.1 {
		budget := targetSeconds * 1.1
		kept := make([]ChapterScene, 0, len(scenes))
		running := 0.0

		for _, s := range scenes {
			if s.ID == introSceneID || s.ID == outroSceneID {
				kept = append(kept, s)
				running += s.AudioLen
				continue
			}
			if running+s.AudioLen <= budget || !hasChapterScene(kept) {
				kept = append(kept, s)
				running += s.AudioLen
			}
		}
		log.Log(jobID, "trimmed scenes to fit target", "total", total, "target", targetSeconds, "kept", len(kept), "dropped", len(scenes)-len(kept))
		return kept
	}

	if total < targetSeconds*0.8 {
		log.Log(jobID, "recap will run short of target", "total", total, "target", targetSeconds)
	}
	return scenes
}

func hasChapterScene(scenes []ChapterScene) bool {
	for _, s := range scenes {
		if s.ID != introSceneID && s.ID != outroSceneID {
			return true
		}
	}
	return false
}
