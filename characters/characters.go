package characters

import (
	"sort"
	"strings"
)

// Character sources, in merge priority order.
const (
	SourceExisting = "existing"
	SourceVisual   = "visual"
	SourceAI       = "ai"
)

const (
	matchThreshold  = 0.50
	nameWeight      = 0.60
	aliasWeight     = 0.20
	traitWeight     = 0.20
	visualConfBoost = 1.1
)

// Character is one recognized figure of a series, accumulated across jobs.
type Character struct {
	Name            string   `json:"name"`
	Aliases         []string `json:"aliases,omitempty"`
	VisualTraits    []string `json:"visual_traits,omitempty"`
	Appearance      string   `json:"appearance,omitempty"`
	Role            string   `json:"role,omitempty"`
	Confidence      float64  `json:"confidence"`
	Source          string   `json:"source"`
	FirstAppearance float64  `json:"first_appearance,omitempty"`
}

// MatchScore combines name similarity, alias overlap and visual-trait
// overlap into one score against the configured weights.
func MatchScore(a, b Character) float64 {
	name := nameSimilarity(a.Name, b.Name)

	alias := 0.0
	for _, x := range append(a.Aliases, a.Name) {
		for _, y := range append(b.Aliases, b.Name) {
			if x != a.Name || y != b.Name {
				if s := nameSimilarity(x, y); s > alias {
					alias = s
				}
			}
		}
	}

	trait := jaccard(a.VisualTraits, b.VisualTraits)
	return name*nameWeight + alias*aliasWeight + trait*traitWeight
}

// Matches reports whether two characters describe the same figure.
func Matches(a, b Character) bool {
	return MatchScore(a, b) >= matchThreshold
}

// Merge folds b into a: the longer, more specific name wins and the loser
// becomes an alias; aliases and traits are unioned; confidence takes the
// max with a boost for visually-confirmed characters; the earliest sighting
// is kept.
func Merge(a, b Character) Character {
	merged := a

	if len(strings.TrimSpace(b.Name)) > len(strings.TrimSpace(a.Name)) {
		merged.Name = b.Name
		merged.Aliases = appendUnique(merged.Aliases, a.Name)
	} else if !strings.EqualFold(a.Name, b.Name) {
		merged.Aliases = appendUnique(merged.Aliases, b.Name)
	}
	for _, alias := range b.Aliases {
		if !strings.EqualFold(alias, merged.Name) {
			merged.Aliases = appendUnique(merged.Aliases, alias)
		}
	}
	for _, trait := range b.VisualTraits {
		merged.VisualTraits = appendUnique(merged.VisualTraits, trait)
	}

	confA := boostedConfidence(a)
	confB := boostedConfidence(b)
	if confB > confA {
		merged.Confidence = confB
	} else {
		merged.Confidence = confA
	}

	if b.Appearance != "" && !strings.Contains(merged.Appearance, b.Appearance) {
		if merged.Appearance != "" {
			merged.Appearance += "; "
		}
		merged.Appearance += b.Appearance
	}
	if merged.Role == "" {
		merged.Role = b.Role
	}

	if b.FirstAppearance > 0 && (merged.FirstAppearance == 0 || b.FirstAppearance < merged.FirstAppearance) {
		merged.FirstAppearance = b.FirstAppearance
	}

	merged.Source = higherPrioritySource(a.Source, b.Source)
	return merged
}

func boostedConfidence(c Character) float64 {
	conf := c.Confidence
	if c.Source == SourceVisual {
		conf *= visualConfBoost
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

func sourcePriority(source string) int {
	switch source {
	case SourceExisting:
		return 3
	case SourceVisual:
		return 2
	default:
		return 1
	}
}

func higherPrioritySource(a, b string) string {
	if sourcePriority(b) > sourcePriority(a) {
		return b
	}
	return a
}

// MergeAll folds candidate sets into the base set in priority order. Each
// candidate either merges into its best match or joins as a new character.
func MergeAll(sets ...[]Character) []Character {
	var merged []Character
	for _, set := range sets {
		for _, candidate := range set {
			if strings.TrimSpace(candidate.Name) == "" {
				continue
			}
			bestIdx, bestScore := -1, 0.0
			for i, existing := range merged {
				if score := MatchScore(existing, candidate); score > bestScore {
					bestIdx, bestScore = i, score
				}
			}
			if bestIdx >= 0 && bestScore >= matchThreshold {
				merged[bestIdx] = Merge(merged[bestIdx], candidate)
			} else {
				candidate.Confidence = boostedConfidence(candidate)
				merged = append(merged, candidate)
			}
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}

// nameSimilarity scores two names in [0,1]: exact match, containment, then
// bigram overlap.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}
	return diceCoefficient(bigrams(a), bigrams(b))
}

func bigrams(s string) map[string]int {
	grams := map[string]int{}
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}

func diceCoefficient(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	totalA, totalB, overlap := 0, 0, 0
	for g, n := range a {
		totalA += n
		if m, ok := b[g]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	for _, n := range b {
		totalB += n
	}
	return 2 * float64(overlap) / float64(totalA+totalB)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := map[string]bool{}
	for _, x := range a {
		setA[strings.ToLower(strings.TrimSpace(x))] = true
	}
	intersection, union := 0, len(setA)
	seen := map[string]bool{}
	for _, x := range b {
		key := strings.ToLower(strings.TrimSpace(x))
		if seen[key] {
			continue
		}
		seen[key] = true
		if setA[key] {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func appendUnique(list []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, value) {
			return list
		}
	}
	return append(list, value)
}
