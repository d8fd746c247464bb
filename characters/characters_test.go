package characters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/state"
)

func TestNameSimilarity(t *testing.T) {
	require.Equal(t, 1.0, nameSimilarity("Ada", "ada"))
	require.Equal(t, 0.9, nameSimilarity("Ada", "Ada Lovelace"))
	require.Greater(t, nameSimilarity("Jonathan", "Johnathan"), 0.5)
	require.Less(t, nameSimilarity("Ada", "Bob"), 0.3)
	require.Zero(t, nameSimilarity("", "Bob"))
}

func TestMatchesSameFigure(t *testing.T) {
	a := Character{Name: "Ada", VisualTraits: []string{"red coat", "short hair"}}
	b := Character{Name: "Ada Lovelace", VisualTraits: []string{"red coat"}}
	require.True(t, Matches(a, b))

	c := Character{Name: "Bob", VisualTraits: []string{"beard"}}
	require.False(t, Matches(a, c))
}

func TestMergeLongerNameWins(t *testing.T) {
	a := Character{Name: "Ada", Confidence: 0.6, Source: SourceAI}
	b := Character{Name: "Ada Lovelace", Confidence: 0.5, Source: SourceAI}

	merged := Merge(a, b)
	require.Equal(t, "Ada Lovelace", merged.Name)
	require.Contains(t, merged.Aliases, "Ada")
	require.Equal(t, 0.6, merged.Confidence)
}

func TestMergeVisualConfidenceBoost(t *testing.T) {
	a := Character{Name: "Ada", Confidence: 0.6, Source: SourceAI}
	b := Character{Name: "Ada", Confidence: 0.6, Source: SourceVisual}

	merged := Merge(a, b)
	require.InDelta(t, 0.66, merged.Confidence, 1e-9)

	// the boost never pushes past 1.0
	b.Confidence = 0.95
	merged = Merge(a, b)
	require.Equal(t, 1.0, merged.Confidence)
}

func TestMergeEarliestFirstAppearance(t *testing.T) {
	a := Character{Name: "Ada", FirstAppearance: 120}
	b := Character{Name: "Ada", FirstAppearance: 45}
	require.Equal(t, 45.0, Merge(a, b).FirstAppearance)

	// zero means unknown, not earliest
	c := Character{Name: "Ada", FirstAppearance: 0}
	require.Equal(t, 120.0, Merge(a, c).FirstAppearance)
}

func TestMergeSourcePriority(t *testing.T) {
	existing := Character{Name: "Ada", Source: SourceExisting}
	visual := Character{Name: "Ada", Source: SourceVisual}
	require.Equal(t, SourceExisting, Merge(existing, visual).Source)
	require.Equal(t, SourceExisting, Merge(visual, existing).Source)
	require.Equal(t, SourceVisual, Merge(visual, Character{Name: "Ada", Source: SourceAI}).Source)
}

func TestMergeAllPriorityOrder(t *testing.T) {
	existing := []Character{{Name: "Ada Lovelace", Confidence: 0.9, Source: SourceExisting}}
	visual := []Character{
		{Name: "Ada", Confidence: 0.7, Source: SourceVisual, VisualTraits: []string{"red coat"}},
		{Name: "Stranger", Confidence: 0.4, Source: SourceVisual},
	}
	ai := []Character{{Name: "Ada", Confidence: 0.5, Source: SourceAI, Aliases: []string{"the Countess"}}}

	merged := MergeAll(existing, visual, ai)
	require.Len(t, merged, 2)

	var ada Character
	for _, c := range merged {
		if c.Name == "Ada Lovelace" {
			ada = c
		}
	}
	require.Equal(t, SourceExisting, ada.Source)
	require.Contains(t, ada.Aliases, "Ada")
	require.Contains(t, ada.Aliases, "the Countess")
	require.Contains(t, ada.VisualTraits, "red coat")
}

func TestMergeAllSkipsUnnamed(t *testing.T) {
	merged := MergeAll([]Character{{Name: "  "}, {Name: "Ada"}})
	require.Len(t, merged, 1)
}

type stubLLM struct{ answer string }

func (s stubLLM) Complete(context.Context, string, string) (string, error) {
	return s.answer, nil
}

type stubVisual struct{ answer string }

func (s stubVisual) Chat(context.Context, []string, string) (string, error) {
	return s.answer, nil
}

func TestExtractorMergesAndPersists(t *testing.T) {
	store := state.NewMemoryStore()
	db := NewSeriesDB(store)
	ctx := context.Background()

	require.NoError(t, db.Save(ctx, "series-1", []Character{
		{Name: "Ada Lovelace", Confidence: 0.9},
	}))

	extractor := NewExtractor(
		stubLLM{answer: `[{"name":"Ada","confidence":0.5,"first_appearance":30}]`},
		stubVisual{answer: `Here: [{"name":"Ada","visual_traits":["red coat"],"confidence":0.7}]`},
		db,
	)

	merged, err := extractor.Extract(ctx, "job-1", ExtractInput{
		SeriesID: "series-1",
		VideoNo:  "vn-1",
		Transcript: []clients.TranscriptSegment{
			{Start: 30, Text: "I am Ada.", Speaker: "Speaker 1"},
		},
	})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Equal(t, "Ada Lovelace", merged[0].Name)
	require.Equal(t, SourceExisting, merged[0].Source)
	require.Contains(t, merged[0].VisualTraits, "red coat")

	// persisted set reloads as existing
	reloaded, err := db.Load(ctx, "series-1")
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	require.Equal(t, SourceExisting, reloaded[0].Source)
}

func TestGuide(t *testing.T) {
	guide := Guide([]Character{
		{Name: "Ada", Role: "lead", Aliases: []string{"the Countess"}},
		{Name: "Bob"},
	})
	require.Equal(t, "Ada (lead), also called the Countess; Bob", guide)
	require.Empty(t, Guide(nil))
}

func TestParseCharacterListRejectsProse(t *testing.T) {
	_, err := parseCharacterList("no characters found")
	require.Error(t, err)
}
