package script

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/log"
)

// Completer is the single LLM operation the generator needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	structuredBatchSize = 3
	structuredBatchGap  = 2 * time.Second
	parallelBatchSize   = 5
	parallelBatchGap    = 5 * time.Second

	wordsPerSecond   = 2.5
	reserveSeconds   = 25.0
	qualityGateRatio = 0.30
	qualityMinWords  = 10

	minBoostedWords = 160
	maxBoostedWords = 420

	// narration floor for chapters that also carry an original-audio clip
	minMarkerWords = 25
)

const narratorSystemPrompt = "You are a professional movie-recap narrator. Write vivid, flowing " +
	"third-person narration that retells the story as if to a friend. Never mention " +
	"cameras, scenes, screens, or footage. Use character names. No headings, no labels."

// GenerateRequest carries everything the generator can ground narration on.
type GenerateRequest struct {
	Chapters       []Chapter
	Movie          clients.MovieData
	Transcript     []clients.TranscriptSegment
	KeyMoments     map[int][]clients.KeyMoment
	TargetSeconds  float64
	CharacterGuide string
}

// Generator produces one narration per chapter via the LLM, with a
// structured strategy grounded on extracted movie data and a plain parallel
// fallback.
type Generator struct {
	llm Completer

	structuredGap time.Duration
	parallelGap   time.Duration
	rng           *rand.Rand
}

func NewGenerator(llm Completer) *Generator {
	return &Generator{
		llm:           llm,
		structuredGap: structuredBatchGap,
		parallelGap:   parallelBatchGap,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate runs the structured strategy when movie data exists, falls back
// to the parallel strategy when structured output fails the quality gate,
// and retries once with boosted word budgets when the predicted runtime
// lands short of the target.
func (g *Generator) Generate(ctx context.Context, jobID string, req GenerateRequest) ([]string, error) {
	if len(req.Chapters) == 0 {
		return nil, fmt.Errorf("no chapters to narrate")
	}

	targets := WordTargets(req.Chapters, req.TargetSeconds)
	moments := chapterMoments(req.KeyMoments, len(req.Chapters))
	for i, m := range moments {
		if m == nil {
			continue
		}
		// make room for the original-audio clip and its lead-in
		reduced := targets[i] - int((m.End-m.Start+3)*wordsPerSecond)
		if reduced < minMarkerWords {
			reduced = minMarkerWords
		}
		targets[i] = reduced
	}

	var narrations []string
	if !req.Movie.Empty() {
		narrations = g.generateStructured(ctx, jobID, req, targets)
		if !passesQualityGate(narrations) {
			log.Log(jobID, "structured narration failed quality gate, falling back to parallel strategy")
			narrations = nil
		}
	}
	if narrations == nil {
		narrations = g.generateParallel(ctx, jobID, req, targets)
	}

	for i := range narrations {
		narrations[i] = Clean(narrations[i])
		if narrations[i] == "" {
			narrations[i] = strings.TrimSpace(req.Chapters[i].Summary)
		}
	}

	if req.TargetSeconds > 0 {
		narrations = g.retryIfShort(ctx, jobID, req, narrations)
	}

	for i, m := range moments {
		if m == nil || strings.TrimSpace(narrations[i]) == "" {
			continue
		}
		narrations[i] = appendOriginalAudio(narrations[i], *m)
	}
	return narrations, nil
}

// chapterMoments picks the key moment honored per chapter; when several land
// in the same chapter the last one wins.
func chapterMoments(byChapter map[int][]clients.KeyMoment, total int) []*clients.KeyMoment {
	out := make([]*clients.KeyMoment, total)
	for idx, moments := range byChapter {
		if idx < 0 || idx >= total || len(moments) == 0 {
			continue
		}
		m := moments[len(moments)-1]
		out[idx] = &m
	}
	return out
}

// appendOriginalAudio closes a narration with the moment's lead-in and the
// marker the audio stage later turns into a clip of the source's own sound.
func appendOriginalAudio(narration string, m clients.KeyMoment) string {
	if m.End <= m.Start {
		return narration
	}
	speaker := strings.TrimSpace(m.Speaker)
	if speaker == "" {
		speaker = "Unknown"
	}
	leadIn := strings.TrimRight(strings.TrimSpace(m.LeadIn), ".,!?:;")
	if leadIn == "" {
		leadIn = fmt.Sprintf("And then %s says", speaker)
	}
	narration = strings.TrimSpace(narration)
	if narration != "" && !strings.ContainsAny(narration[len(narration)-1:], ".!?") {
		narration += "."
	}
	return fmt.Sprintf("%s %s... [ORIGINAL_AUDIO:%.2f:%.2f:%s]", narration, leadIn, m.Start, m.End, speaker)
}

// WordTargets computes the per-chapter word budget. With a target runtime
// the budget divides the speakable time across chapters; without one it
// tracks each chapter's own duration.
func WordTargets(chapters []Chapter, targetSeconds float64) []int {
	n := len(chapters)
	targets := make([]int, n)
	if targetSeconds > 0 {
		per := (targetSeconds - 30) / float64(n) * 2.2
		if per < 120 {
			per = 120
		}
		for i := range targets {
			targets[i] = int(per)
		}
		return targets
	}
	for i, c := range chapters {
		dur := c.Duration()
		if dur < 30 {
			dur = 30
		}
		targets[i] = int(dur * wordsPerSecond)
	}
	return targets
}

// StoryPhase labels a chapter's position in classic story structure.
func StoryPhase(index, total int) string {
	if total <= 1 {
		return "resolution"
	}
	pos := float64(index) / float64(total)
	switch {
	case pos < 0.15:
		return "intro"
	case pos < 0.40:
		return "conflict"
	case pos < 0.80:
		return "rising action"
	case pos < 0.95:
		return "climax"
	default:
		return "resolution"
	}
}

// PredictedSeconds estimates spoken runtime from total word count plus a
// fixed reserve for intro, outro and pauses.
func PredictedSeconds(narrations []string) float64 {
	total := 0
	for _, n := range narrations {
		total += WordCount(n)
	}
	return float64(total)/wordsPerSecond + reserveSeconds
}

// BoostedWordTarget computes the enlarged per-chapter budget for the
// one-shot retry when the first pass came out short.
func BoostedWordTarget(targetSeconds, predictedSeconds float64, chapterCount int) int {
	base := (targetSeconds - 30) / float64(chapterCount)
	if base < 10 {
		base = 10
	}
	baseWords := base * 2.8
	minAcceptable := targetSeconds * 0.8
	scale := minAcceptable / predictedSeconds * 1.15
	boosted := int(baseWords * scale)
	if boosted < minBoostedWords {
		boosted = minBoostedWords
	}
	if boosted > maxBoostedWords {
		boosted = maxBoostedWords
	}
	return boosted
}

func (g *Generator) retryIfShort(ctx context.Context, jobID string, req GenerateRequest, narrations []string) []string {
	predicted := PredictedSeconds(narrations)
	if predicted >= req.TargetSeconds*0.8 {
		return narrations
	}

	boosted := BoostedWordTarget(req.TargetSeconds, predicted, len(req.Chapters))
	log.Log(jobID, "narration predicted short, retrying with boosted budgets",
		"predicted", fmt.Sprintf("%.0fs", predicted), "target", fmt.Sprintf("%.0fs", req.TargetSeconds), "words_per_chapter", boosted)

	targets := make([]int, len(req.Chapters))
	for i := range targets {
		targets[i] = boosted
	}
	retried := g.generateStructured(ctx, jobID, req, targets)
	for i := range retried {
		retried[i] = Clean(retried[i])
	}

	// keep the retry only where it actually says more
	for i := range narrations {
		if i < len(retried) && WordCount(retried[i]) > WordCount(narrations[i]) {
			narrations[i] = retried[i]
		}
	}
	return narrations
}

// generateStructured walks chapters in small batches, each batch one prompt
// grounded on the extracted movie data.
func (g *Generator) generateStructured(ctx context.Context, jobID string, req GenerateRequest, targets []int) []string {
	narrations := make([]string, len(req.Chapters))
	for base := 0; base < len(req.Chapters); base += structuredBatchSize {
		end := base + structuredBatchSize
		if end > len(req.Chapters) {
			end = len(req.Chapters)
		}

		prompt := g.buildBatchPrompt(req, targets, base, end)
		answer, err := g.llm.Complete(ctx, narratorSystemPrompt, prompt)
		if err != nil {
			log.LogError(jobID, "narration batch failed", err, "from", base, "to", end)
		} else {
			batch := parseNarrationList(answer, end-base)
			for i, text := range batch {
				narrations[base+i] = text
			}
		}

		for i := base; i < end; i++ {
			if strings.TrimSpace(narrations[i]) == "" {
				narrations[i] = req.Chapters[i].Summary
			}
		}

		if end < len(req.Chapters) {
			select {
			case <-ctx.Done():
				return fillRemaining(narrations, req.Chapters)
			case <-time.After(g.structuredGap):
			}
		}
	}
	return narrations
}

func (g *Generator) buildBatchPrompt(req GenerateRequest, targets []int, from, to int) string {
	var sb strings.Builder
	total := len(req.Chapters)

	if req.Movie.Title != "" {
		fmt.Fprintf(&sb, "Story: %s\n", req.Movie.Title)
	}
	if req.Movie.PlotSummary != "" {
		fmt.Fprintf(&sb, "Plot: %s\n", req.Movie.PlotSummary)
	}
	if guide := firstNonEmpty(req.CharacterGuide, req.Movie.CharacterGuide); guide != "" {
		fmt.Fprintf(&sb, "Characters: %s\n", guide)
	} else if len(req.Movie.Characters) > 0 {
		names := make([]string, 0, len(req.Movie.Characters))
		for _, c := range req.Movie.Characters {
			names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Role))
		}
		fmt.Fprintf(&sb, "Characters: %s\n", strings.Join(names, ", "))
	}
	if len(req.Movie.Locations) > 0 {
		fmt.Fprintf(&sb, "Locations: %s\n", strings.Join(req.Movie.Locations, ", "))
	}
	if len(req.Movie.Relationships) > 0 {
		fmt.Fprintf(&sb, "Relationships: %s\n", strings.Join(req.Movie.Relationships, "; "))
	}
	for _, scene := range req.Movie.Scenes {
		if scene.Chapter >= from && scene.Chapter < to {
			fmt.Fprintf(&sb, "Chapter %d context: at %s with %s: %s\n",
				scene.Chapter+1, scene.Location, strings.Join(scene.CharactersPresent, ", "), scene.Action)
		}
	}

	sb.WriteString("\nWrite one narration per chapter below. Answer with a JSON array of strings, one element per chapter, in order.\n")
	for i := from; i < to; i++ {
		c := req.Chapters[i]
		fmt.Fprintf(&sb, "\nChapter %d of %d (%s, aim for %d words): %s",
			i+1, total, StoryPhase(i, total), targets[i], strings.TrimSpace(c.Title+". "+c.Summary))
		for _, km := range req.KeyMoments[i] {
			fmt.Fprintf(&sb, "\n  Key line by %s: %q", km.Speaker, km.Dialogue)
		}
	}
	return sb.String()
}

// generateParallel rewrites each chapter summary independently, batched to
// respect rate limits.
func (g *Generator) generateParallel(ctx context.Context, jobID string, req GenerateRequest, targets []int) []string {
	narrations := make([]string, len(req.Chapters))
	total := len(req.Chapters)

	for base := 0; base < total; base += parallelBatchSize {
		end := base + parallelBatchSize
		if end > total {
			end = total
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for i := base; i < end; i++ {
			i := i
			group.Go(func() error {
				narrations[i] = g.rewriteChapter(groupCtx, jobID, req.Chapters[i], i, total, targets[i])
				return nil
			})
		}
		_ = group.Wait()

		if end < total {
			select {
			case <-ctx.Done():
				return fillRemaining(narrations, req.Chapters)
			case <-time.After(g.parallelGap):
			}
		}
	}
	return narrations
}

func (g *Generator) rewriteChapter(ctx context.Context, jobID string, c Chapter, index, total, targetWords int) string {
	prompt := fmt.Sprintf(
		"Retell this part of the story (%s phase, aim for %d words):\n%s",
		StoryPhase(index, total), targetWords, strings.TrimSpace(c.Title+". "+c.Summary))

	answer, err := g.llm.Complete(ctx, narratorSystemPrompt, prompt)
	if err != nil {
		log.LogError(jobID, "chapter rewrite failed", err, "chapter", index)
		return c.Summary
	}
	answer = strings.TrimSpace(answer)

	// one bounded retry when the model underdelivers
	if got := len(strings.Fields(answer)); got > 0 && float64(got) < float64(targetWords)*0.8 {
		more := targetWords - got
		longer, err := g.llm.Complete(ctx, narratorSystemPrompt,
			fmt.Sprintf("Expand the following narration with about %d more words of story detail, keeping the same voice:\n%s", more, answer))
		if err == nil && len(strings.Fields(longer)) > got {
			answer = strings.TrimSpace(longer)
		}
	}
	if answer == "" {
		return c.Summary
	}
	return answer
}

// passesQualityGate requires a minimum share of narrations that are both
// substantial and free of meta-language.
func passesQualityGate(narrations []string) bool {
	if len(narrations) == 0 {
		return false
	}
	good := 0
	for _, n := range narrations {
		if WordCount(n) > qualityMinWords && !HasMetaLanguage(n) {
			good++
		}
	}
	return float64(good)/float64(len(narrations)) >= qualityGateRatio
}

var listItemRe = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s*`)

// parseNarrationList extracts per-chapter narrations from an LLM answer:
// a JSON string array when possible, otherwise one narration per non-empty
// line with list numbering stripped.
func parseNarrationList(answer string, expected int) []string {
	out := make([]string, expected)

	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start >= 0 && end > start {
		var arr []string
		if err := json.Unmarshal([]byte(answer[start:end+1]), &arr); err == nil {
			for i := 0; i < expected && i < len(arr); i++ {
				out[i] = strings.TrimSpace(arr[i])
			}
			return out
		}
	}

	idx := 0
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(listItemRe.ReplaceAllString(line, ""))
		if line == "" || idx >= expected {
			continue
		}
		out[idx] = line
		idx++
	}
	return out
}

func fillRemaining(narrations []string, chapters []Chapter) []string {
	for i := range narrations {
		if strings.TrimSpace(narrations[i]) == "" {
			narrations[i] = chapters[i].Summary
		}
	}
	return narrations
}

// Intro asks the LLM for a 20-30 word hook; on failure a template stands in.
func (g *Generator) Intro(ctx context.Context, jobID, title, plotSummary string) string {
	subject := title
	if subject == "" {
		subject = "this story"
	}
	prompt := fmt.Sprintf("Write a 20-30 word spoken intro hook for a recap of %s. One or two sentences, no greeting, no spoilers of the ending.", subject)
	if plotSummary != "" {
		prompt += "\nStory background: " + plotSummary
	}
	answer, err := g.llm.Complete(ctx, narratorSystemPrompt, prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		log.Log(jobID, "intro generation fell back to template")
		return fmt.Sprintf("What happens when everything goes wrong at once? This is the story of %s, and it does not go the way anyone expected.", subject)
	}
	return Clean(answer)
}

var outroOpeners = []string{
	"And that is where the story leaves us.",
	"And so the story comes to its end.",
	"That was the whole story, start to finish.",
}

var outroClosers = []string{
	"If you enjoyed this recap, stick around for the next one.",
	"There is always another story waiting.",
	"Thanks for watching to the end.",
}

// Outro builds a short template-based closer with randomized structure.
func (g *Generator) Outro() string {
	opener := outroOpeners[g.rng.Intn(len(outroOpeners))]
	closer := outroClosers[g.rng.Intn(len(outroClosers))]
	return opener + " " + closer
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
