package script

import (
	"regexp"
	"strings"
)

// MetaPhrases are references to the medium itself. Narration that talks
// about "the camera" or "the scene" breaks the storytelling voice, so these
// both fail the quality gate and get stripped at post-process.
var MetaPhrases = []string{
	"the scene",
	"the camera",
	"the video",
	"the screen",
	"the shot",
	"the footage",
	"the clip",
	"we see",
	"we can see",
	"on screen",
	"is shown",
	"is displayed",
	"in this scene",
	"in this chapter",
	"this segment",
}

// ClichePhrases are overwrought dramatic fillers the models reach for.
var ClichePhrases = []string{
	"suddenly",
	"shocked",
	"realizing",
	"determination",
	"heart pounding",
	"heart races",
	"feels the weight",
	"little did",
	"unbeknownst",
	"tension fills",
	"against all odds",
}

var (
	chapterLabelRe = regexp.MustCompile(`(?i)^\s*(chapter|scene|part)\s*\d+\s*[:.\-]\s*`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	multiDotRe     = regexp.MustCompile(`\.{4,}`)
	spacePunctRe   = regexp.MustCompile(`\s+([,.!?;:])`)

	phraseRes = compilePhraseRes()
)

func compilePhraseRes() []*regexp.Regexp {
	all := append(append([]string{}, MetaPhrases...), ClichePhrases...)
	res := make([]*regexp.Regexp, len(all))
	for i, phrase := range all {
		res[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b[,]?\s*`)
	}
	return res
}

const cleanFallbackMinLen = 20

// Clean strips meta-language and clichés from a narration, drops chapter
// labels, collapses whitespace and normalizes punctuation. Markers survive
// untouched. When cleaning guts a long narration down to almost nothing, the
// lightly-normalized original is returned instead.
func Clean(narration string) string {
	original := strings.TrimSpace(narration)
	if original == "" {
		return ""
	}

	text, marker := ParseMarker(original)
	cleaned := cleanText(text)

	if len(cleaned) < cleanFallbackMinLen && len(text) > 50 {
		cleaned = normalize(text)
	}
	if marker != nil {
		return RenderMarker(cleaned, *marker)
	}
	return cleaned
}

func cleanText(text string) string {
	text = chapterLabelRe.ReplaceAllString(text, "")
	for _, re := range phraseRes {
		text = re.ReplaceAllString(text, "")
	}
	return normalize(text)
}

func normalize(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = multiDotRe.ReplaceAllString(text, "...")
	text = spacePunctRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// HasMetaLanguage reports whether the narration contains any blacklisted
// meta phrase. Used by the structured-generation quality gate.
func HasMetaLanguage(narration string) bool {
	lower := strings.ToLower(narration)
	for _, phrase := range MetaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// WordCount counts whitespace-separated words, ignoring any marker.
func WordCount(narration string) int {
	text, _ := ParseMarker(narration)
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}
