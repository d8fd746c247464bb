package characters

import (
	"context"
	"encoding/json"
	"time"

	"github.com/badespider/videoeditor-sub000/cache"
	"github.com/badespider/videoeditor-sub000/state"
)

const (
	seriesKeyPrefix = "characters:series:"
	seriesTTL       = 30 * 24 * time.Hour
)

// SeriesDB persists the merged character set per series so later episodes
// reuse and refine earlier recognitions.
type SeriesDB struct {
	store state.Store
	// in-process layer in front of the store; rosters are small and a
	// series is usually processed by the same instance back to back
	mem *cache.Cache[[]Character]
}

func NewSeriesDB(store state.Store) *SeriesDB {
	return &SeriesDB{store: store, mem: cache.New[[]Character]()}
}

func seriesKey(seriesID string) string {
	return seriesKeyPrefix + seriesID
}

// Load returns the known characters of a series, or nil when none are
// stored yet.
func (db *SeriesDB) Load(ctx context.Context, seriesID string) ([]Character, error) {
	if seriesID == "" {
		return nil, nil
	}
	if chars := db.mem.Get(seriesID); chars != nil {
		return chars, nil
	}
	raw, ok, err := db.store.Get(ctx, seriesKey(seriesID))
	if err != nil || !ok {
		return nil, err
	}
	var chars []Character
	if err := json.Unmarshal([]byte(raw), &chars); err != nil {
		return nil, err
	}
	for i := range chars {
		chars[i].Source = SourceExisting
	}
	db.mem.Store(seriesID, chars)
	return chars, nil
}

// Save writes the merged set, refreshing the TTL.
func (db *SeriesDB) Save(ctx context.Context, seriesID string, chars []Character) error {
	if seriesID == "" {
		return nil
	}
	raw, err := json.Marshal(chars)
	if err != nil {
		return err
	}
	if err := db.store.SetEX(ctx, seriesKey(seriesID), string(raw), seriesTTL); err != nil {
		return err
	}
	marked := make([]Character, len(chars))
	copy(marked, chars)
	for i := range marked {
		marked[i].Source = SourceExisting
	}
	db.mem.Store(seriesID, marked)
	return nil
}
