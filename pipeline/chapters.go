package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/script"
)

// Chapter normalization parameters.
const (
	overlapTolerance  = 1.0
	maxChapterSeconds = 180.0
	minChapterSeconds = 3.0
	mergeTargetLen    = 60.0
)

var creditsTitleWords = []string{"credit", "credits", "end credits", "closing"}
var creditsSummaryPhrases = []string{"credits roll", "end credits", "closing credits"}

// ParseTime accepts plain seconds ("95.5") or clock syntax ("HH:MM:SS" /
// "MM:SS").
func ParseTime(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty time value")
	}
	if !strings.Contains(value, ":") {
		return strconv.ParseFloat(value, 64)
	}
	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time value %q", value)
	}
	var total float64
	for _, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time value %q: %w", value, err)
		}
		total = total*60 + n
	}
	return total, nil
}

// NormalizeChapters turns the raw summary response into an ordered,
// non-overlapping, merged chapter list bounded by the probed duration.
func NormalizeChapters(jobID string, raw []clients.ChapterSummary, sourceDuration float64) ([]script.Chapter, error) {
	chapters := make([]script.Chapter, 0, len(raw))
	for _, r := range raw {
		start, err := ParseTime(r.Start)
		if err != nil {
			log.Log(jobID, "dropping chapter with unparseable start", "title", r.Title, "start", r.Start)
			continue
		}
		end := 0.0
		if r.End != "" {
			if parsed, err := ParseTime(r.End); err == nil {
				end = parsed
			}
		}
		chapters = append(chapters, script.Chapter{
			Title:   strings.TrimSpace(r.Title),
			Summary: strings.TrimSpace(r.Summary),
			Start:   start,
			End:     end,
		})
	}
	if len(chapters) == 0 {
		return nil, errors.NewInputInvalidError("no usable chapters in summary response")
	}

	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].Start < chapters[j].Start
	})

	chapters = dedupeOverlaps(chapters)
	fillEndTimes(chapters, sourceDuration)
	chapters = filterChapters(jobID, chapters, sourceDuration)
	if len(chapters) == 0 {
		return nil, errors.NewInputInvalidError("chapter list empty after filtering")
	}

	chapters = mergeShortChapters(chapters)
	return chapters, nil
}

// dedupeOverlaps keeps the first occurrence wherever a chapter starts more
// than the tolerance before the previous one ends.
func dedupeOverlaps(chapters []script.Chapter) []script.Chapter {
	out := chapters[:1]
	for _, c := range chapters[1:] {
		prev := out[len(out)-1]
		if prev.End > 0 && c.Start < prev.End-overlapTolerance {
			continue
		}
		out = append(out, c)
	}
	return out
}

// fillEndTimes derives missing ends from the next chapter's start, or the
// source duration for the last chapter, and clamps to the source bounds.
func fillEndTimes(chapters []script.Chapter, sourceDuration float64) {
	for i := range chapters {
		if chapters[i].End <= chapters[i].Start {
			if i+1 < len(chapters) {
				chapters[i].End = chapters[i+1].Start
			} else {
				chapters[i].End = sourceDuration
			}
		}
		if sourceDuration > 0 && chapters[i].End > sourceDuration {
			chapters[i].End = sourceDuration
		}
	}
}

func filterChapters(jobID string, chapters []script.Chapter, sourceDuration float64) []script.Chapter {
	out := make([]script.Chapter, 0, len(chapters))
	for _, c := range chapters {
		if isCreditsChapter(c) {
			log.Log(jobID, "dropping credits chapter", "title", c.Title)
			continue
		}
		if c.Duration() > maxChapterSeconds {
			c.End = c.Start + maxChapterSeconds
		}
		if c.Duration() < minChapterSeconds {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isCreditsChapter(c script.Chapter) bool {
	title := strings.ToLower(c.Title)
	for _, word := range creditsTitleWords {
		if title == word || strings.Contains(title, word) {
			return true
		}
	}
	summary := strings.ToLower(c.Summary)
	for _, phrase := range creditsSummaryPhrases {
		if strings.Contains(summary, phrase) {
			return true
		}
	}
	return false
}

// mergeShortChapters greedily concatenates consecutive chapters until each
// merged group spans at least the merge target, except possibly the last.
func mergeShortChapters(chapters []script.Chapter) []script.Chapter {
	var merged []script.Chapter
	var current *script.Chapter
	for _, c := range chapters {
		if current == nil {
			copied := c
			current = &copied
			continue
		}
		if current.Duration() >= mergeTargetLen {
			merged = append(merged, *current)
			copied := c
			current = &copied
			continue
		}
		current.End = c.End
		if c.Summary != "" {
			if current.Summary != "" {
				current.Summary += " "
			}
			current.Summary += c.Summary
		}
	}
	if current != nil {
		merged = append(merged, *current)
	}
	return merged
}

// CapTargetSeconds limits the requested runtime to twice the source
// duration. Returns the target actually used and whether it was capped.
func CapTargetSeconds(targetSeconds, sourceDuration float64) (float64, bool) {
	if targetSeconds <= 0 || sourceDuration <= 0 {
		return targetSeconds, false
	}
	max := sourceDuration * 2
	if targetSeconds > max {
		return max, true
	}
	return targetSeconds, false
}
