package ranking

import "sort"

// Ranked pairs a practice with its score and 1-based rank position.
type Ranked struct {
	Practice PracticeData `json:"practice"`
	Result   Result       `json:"result"`
	Position int          `json:"position"`
}

// Rank scores every practice against the specialty and orders them by total
// score descending. Ties keep input order (stable sort); discovery results
// arrive in a deterministic provider ordering, so equal-score ranks are
// reproducible across runs.
func (e *Engine) Rank(practices []PracticeData, specialty string) []Ranked {
	ranked := make([]Ranked, len(practices))
	for i, p := range practices {
		ranked[i] = Ranked{Practice: p, Result: e.Score(p, specialty)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Result.TotalScore > ranked[j].Result.TotalScore
	})
	for i := range ranked {
		ranked[i].Position = i + 1
	}
	return ranked
}

// PositionOf returns the rank entry whose practice matches the given place
// id, or the entry at the given name when the id is empty. Returns nil when
// not present.
func PositionOf(ranked []Ranked, placeID, name string) *Ranked {
	for i := range ranked {
		if placeID != "" && ranked[i].Practice.PlaceID == placeID {
			return &ranked[i]
		}
		if placeID == "" && ranked[i].Practice.Name == name {
			return &ranked[i]
		}
	}
	return nil
}
