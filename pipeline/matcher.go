package pipeline

import (
	"math"
	"regexp"
	"strings"

	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/script"
)

const (
	matchSourceTranscript = "transcript"
	matchSourceFullVideo  = "full_video"
)

// SceneMatcher refines chapter video ranges by locating where in the source
// the user's script text is actually spoken. Only consulted for jobs that
// supplied their own script.
type SceneMatcher struct {
	Threshold float64
}

func NewSceneMatcher(threshold float64) *SceneMatcher {
	return &SceneMatcher{Threshold: threshold}
}

// Match proposes a video range per chapter by sliding a window over the
// transcript and scoring word overlap against the chapter's script chunk.
func (m *SceneMatcher) Match(jobID string, chapters []script.Chapter, chunks []string, transcript []clients.TranscriptSegment) map[int]MatchResult {
	if len(transcript) == 0 {
		return nil
	}

	results := map[int]MatchResult{}
	for i, c := range chapters {
		if i >= len(chunks) || strings.TrimSpace(chunks[i]) == "" {
			continue
		}
		best, ok := m.bestWindow(chunks[i], c, transcript)
		if !ok {
			continue
		}
		results[i] = best
		log.Log(jobID, "clip match candidate", "chapter", i, "start", best.Start, "confidence", best.Confidence, "source", best.Source)
	}
	return results
}

// bestWindow scans contiguous transcript windows roughly the chapter's
// length and keeps the best-scoring one.
func (m *SceneMatcher) bestWindow(chunk string, chapter script.Chapter, transcript []clients.TranscriptSegment) (MatchResult, bool) {
	chunkTokens := tokenSet(chunk)
	if len(chunkTokens) == 0 {
		return MatchResult{}, false
	}
	windowLen := chapter.Duration()
	if windowLen <= 0 {
		windowLen = 60
	}

	var best MatchResult
	found := false
	for start := 0; start < len(transcript); start++ {
		var text strings.Builder
		windowStart := transcript[start].Start
		windowEnd := windowStart

		for end := start; end < len(transcript); end++ {
			text.WriteString(" ")
			text.WriteString(transcript[end].Text)
			windowEnd = transcript[end].End
			if windowEnd-windowStart >= windowLen {
				break
			}
		}

		score := overlapScore(chunkTokens, tokenSet(text.String()))
		if !found || score > best.Confidence {
			source := matchSourceTranscript
			drift := math.Abs(windowStart - chapter.Start)
			if drift > math.Max(windowLen*2, 120) {
				source = matchSourceFullVideo
			}
			best = MatchResult{
				Start:      windowStart,
				End:        math.Max(windowEnd, windowStart+1),
				Confidence: score,
				Source:     source,
			}
			found = true
		}
	}
	return best, found
}

var tokenRe = regexp.MustCompile(`[a-z0-9']+`)

func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(tok) > 2 {
			set[tok] = true
		}
	}
	return set
}

// overlapScore is the share of chunk tokens found in the window.
func overlapScore(chunk, window map[string]bool) float64 {
	if len(chunk) == 0 {
		return 0
	}
	hits := 0
	for tok := range chunk {
		if window[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(chunk))
}
