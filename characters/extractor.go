package characters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/log"
)

// Completer is the LLM operation used for transcript-based extraction.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// VisualChatter asks questions over an uploaded video.
type VisualChatter interface {
	Chat(ctx context.Context, videoNos []string, prompt string) (string, error)
}

// Extractor recognizes characters two ways at once: an LLM pass over the
// audio transcript and a visual pass over the uploaded video. Results merge
// with whatever the series already knows.
type Extractor struct {
	llm    Completer
	visual VisualChatter
	db     *SeriesDB
}

func NewExtractor(llm Completer, visual VisualChatter, db *SeriesDB) *Extractor {
	return &Extractor{llm: llm, visual: visual, db: db}
}

// ExtractInput bundles the extraction context for one job.
type ExtractInput struct {
	SeriesID    string
	VideoNo     string
	Transcript  []clients.TranscriptSegment
	PlotSummary string
}

// Extract runs both extraction passes concurrently, merges with the stored
// series characters (existing > visual > AI) and persists the result. Either
// pass failing degrades to the other; both failing returns what the series
// already had.
func (e *Extractor) Extract(ctx context.Context, jobID string, in ExtractInput) ([]Character, error) {
	existing, err := e.db.Load(ctx, in.SeriesID)
	if err != nil {
		log.LogError(jobID, "could not load series characters", err, "series_id", in.SeriesID)
		existing = nil
	}

	var aiChars, visualChars []Character
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		aiChars, err = e.extractFromTranscript(groupCtx, in)
		if err != nil {
			log.LogError(jobID, "transcript character extraction failed", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		visualChars, err = e.extractVisual(groupCtx, in.VideoNo)
		if err != nil {
			log.LogError(jobID, "visual character extraction failed", err)
		}
		return nil
	})
	_ = group.Wait()

	merged := MergeAll(existing, visualChars, aiChars)
	log.Log(jobID, "characters merged", "existing", len(existing), "visual", len(visualChars), "ai", len(aiChars), "merged", len(merged))

	if err := e.db.Save(ctx, in.SeriesID, merged); err != nil {
		log.LogError(jobID, "could not persist series characters", err, "series_id", in.SeriesID)
	}
	return merged, nil
}

const extractorSystemPrompt = "You identify characters in stories. Answer only with JSON."

func (e *Extractor) extractFromTranscript(ctx context.Context, in ExtractInput) ([]Character, error) {
	if len(in.Transcript) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("From the dialogue transcript below, list every named character as a JSON array of ")
	sb.WriteString(`{"name","aliases","role","confidence","first_appearance"} objects. `)
	sb.WriteString("confidence is 0-1, first_appearance the timestamp in seconds of their first line.\n")
	if in.PlotSummary != "" {
		sb.WriteString("Plot context: " + in.PlotSummary + "\n")
	}
	sb.WriteString("\nTranscript:\n")
	for _, seg := range in.Transcript {
		speaker := seg.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		fmt.Fprintf(&sb, "[%.0fs] %s: %s\n", seg.Start, speaker, seg.Text)
	}

	answer, err := e.llm.Complete(ctx, extractorSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	chars, err := parseCharacterList(answer)
	if err != nil {
		return nil, err
	}
	for i := range chars {
		chars[i].Source = SourceAI
	}
	return chars, nil
}

func (e *Extractor) extractVisual(ctx context.Context, videoNo string) ([]Character, error) {
	if videoNo == "" {
		return nil, nil
	}
	prompt := "List every distinct person or character visible in this video as a JSON array of " +
		`{"name","visual_traits","appearance","confidence","first_appearance"} objects. ` +
		"visual_traits are short physical descriptors (hair, clothing, build). " +
		"confidence is 0-1, first_appearance the timestamp in seconds they first appear."

	answer, err := e.visual.Chat(ctx, []string{videoNo}, prompt)
	if err != nil {
		return nil, err
	}
	chars, err := parseCharacterList(answer)
	if err != nil {
		return nil, err
	}
	for i := range chars {
		chars[i].Source = SourceVisual
	}
	return chars, nil
}

// parseCharacterList slices the JSON array out of a possibly-prosey answer.
func parseCharacterList(answer string) ([]Character, error) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in extraction answer")
	}
	var chars []Character
	if err := json.Unmarshal([]byte(answer[start:end+1]), &chars); err != nil {
		return nil, err
	}
	return chars, nil
}

// Guide renders a character roster as a prose guide for narration prompts.
func Guide(chars []Character) string {
	if len(chars) == 0 {
		return ""
	}
	parts := make([]string, 0, len(chars))
	for _, c := range chars {
		desc := c.Name
		if c.Role != "" {
			desc += " (" + c.Role + ")"
		}
		if len(c.Aliases) > 0 {
			desc += ", also called " + strings.Join(c.Aliases, ", ")
		}
		parts = append(parts, desc)
	}
	return strings.Join(parts, "; ")
}
