package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Marker is an inline [ORIGINAL_AUDIO:start:end:speaker] annotation telling
// the audio stage to append a clip of the source's own audio after the
// narration.
type Marker struct {
	Start   float64
	End     float64
	Speaker string
}

var markerRe = regexp.MustCompile(`\[ORIGINAL_AUDIO:([\d.]+):([\d.]+):([^\]]+)\]`)

// ParseMarker splits a narration into its spoken text and an optional
// trailing marker. Returns nil when the narration has no marker.
func ParseMarker(narration string) (string, *Marker) {
	match := markerRe.FindStringSubmatch(narration)
	if match == nil {
		return strings.TrimSpace(narration), nil
	}
	start, err1 := strconv.ParseFloat(match[1], 64)
	end, err2 := strconv.ParseFloat(match[2], 64)
	if err1 != nil || err2 != nil || end <= start {
		// malformed markers are dropped from the text rather than spoken
		return strings.TrimSpace(markerRe.ReplaceAllString(narration, "")), nil
	}
	text := strings.TrimSpace(markerRe.ReplaceAllString(narration, ""))
	return text, &Marker{Start: start, End: end, Speaker: strings.TrimSpace(match[3])}
}

// RenderMarker appends a marker back onto narration text.
func RenderMarker(text string, m Marker) string {
	return fmt.Sprintf("%s [ORIGINAL_AUDIO:%s:%s:%s]",
		strings.TrimSpace(text), trimFloat(m.Start), trimFloat(m.End), m.Speaker)
}

// HasMarker reports whether a narration carries an original-audio marker.
func HasMarker(narration string) bool {
	return markerRe.MatchString(narration)
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	return s
}
