package script

import (
	"regexp"
	"sort"
	"strings"

	"github.com/badespider/videoeditor-sub000/errors"
)

// Chapter is a normalized time interval with its summary, the unit the
// narration generator works over.
type Chapter struct {
	Title   string
	Summary string
	Start   float64
	End     float64
}

func (c Chapter) Duration() float64 { return c.End - c.Start }

var (
	chapterDelimiterRe = regexp.MustCompile(`(?mi)^===\s*chapter[^\n]*$`)
	sentenceRe         = regexp.MustCompile(`[^.!?]+[.!?]+["']?|[^.!?]+$`)
)

// SplitUserScript divides a user-provided narration script into one chunk
// per chapter. Explicit "=== Chapter" delimiters take precedence; otherwise
// sentences are allocated proportionally to chapter durations, at least one
// per chapter, preserving order.
func SplitUserScript(scriptText string, chapters []Chapter) ([]string, error) {
	scriptText = strings.TrimSpace(scriptText)
	if scriptText == "" {
		return nil, errors.NewInputInvalidError("user script is empty")
	}
	if len(chapters) == 0 {
		return nil, errors.NewInputInvalidError("no chapters to split the script into")
	}

	if chapterDelimiterRe.MatchString(scriptText) {
		return splitByDelimiters(scriptText, len(chapters)), nil
	}
	return splitBySentences(scriptText, chapters)
}

func splitByDelimiters(scriptText string, chapterCount int) []string {
	parts := chapterDelimiterRe.Split(scriptText, -1)
	chunks := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	// pad or fold to exactly one chunk per chapter
	for len(chunks) < chapterCount {
		chunks = append(chunks, "")
	}
	if len(chunks) > chapterCount {
		tail := strings.Join(chunks[chapterCount-1:], " ")
		chunks = append(chunks[:chapterCount-1], tail)
	}
	return chunks
}

func splitBySentences(scriptText string, chapters []Chapter) ([]string, error) {
	sentences := SplitSentences(scriptText)
	if len(sentences) == 0 {
		return nil, errors.NewInputInvalidError("user script has no sentences")
	}

	counts := allocateProportionally(len(sentences), chapterWeights(chapters))

	chunks := make([]string, len(chapters))
	cursor := 0
	for i, count := range counts {
		end := cursor + count
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks[i] = strings.TrimSpace(strings.Join(sentences[cursor:end], " "))
		cursor = end
	}
	// any rounding leftovers land in the final chapter
	if cursor < len(sentences) {
		rest := strings.Join(sentences[cursor:], " ")
		chunks[len(chunks)-1] = strings.TrimSpace(chunks[len(chunks)-1] + " " + rest)
	}
	return chunks, nil
}

// SplitSentences breaks text on sentence-ending punctuation.
func SplitSentences(text string) []string {
	matches := sentenceRe.FindAllString(whitespaceRe.ReplaceAllString(text, " "), -1)
	sentences := make([]string, 0, len(matches))
	for _, m := range matches {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

func chapterWeights(chapters []Chapter) []float64 {
	weights := make([]float64, len(chapters))
	for i, c := range chapters {
		d := c.Duration()
		if d <= 0 {
			d = 1
		}
		weights[i] = d
	}
	return weights
}

// allocateProportionally distributes total items across weights using
// largest-remainder rounding, guaranteeing at least one per slot when the
// total allows it.
func allocateProportionally(total int, weights []float64) []int {
	n := len(weights)
	counts := make([]int, n)
	if n == 0 || total <= 0 {
		return counts
	}
	if total <= n {
		for i := 0; i < total; i++ {
			counts[i] = 1
		}
		return counts
	}

	var weightSum float64
	for _, w := range weights {
		weightSum += w
	}

	type remainder struct {
		index int
		frac  float64
	}
	remainders := make([]remainder, n)
	assigned := 0
	for i, w := range weights {
		exact := float64(total) * w / weightSum
		counts[i] = int(exact)
		remainders[i] = remainder{index: i, frac: exact - float64(counts[i])}
		assigned += counts[i]
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].frac > remainders[b].frac
	})
	for i := 0; assigned < total; i++ {
		counts[remainders[i%n].index]++
		assigned++
	}

	// lift empty slots by borrowing from the largest allocation
	for i := range counts {
		if counts[i] > 0 {
			continue
		}
		largest := 0
		for j := range counts {
			if counts[j] > counts[largest] {
				largest = j
			}
		}
		if counts[largest] > 1 {
			counts[largest]--
			counts[i]++
		}
	}
	return counts
}
