package ranking

import (
	"fmt"
	"math"
	"strings"
)

// Factor weights. Fixed constants summing to 1.0; each factor's maximum
// score is weight * 100, so a practice's total lies in [0, 100].
const (
	WeightCategoryMatch  = 0.25
	WeightReviewCount    = 0.20
	WeightStarRating     = 0.15
	WeightKeywordName    = 0.10
	WeightReviewVelocity = 0.10
	WeightNAPConsistency = 0.08
	WeightGBPActivity    = 0.07
	WeightSentiment      = 0.05
)

// genericCategoryCredit is the partial credit a generic "dentist"-type
// category earns against a specific specialty.
const genericCategoryCredit = 0.6

// Benchmarks holds the scaling ceilings for the volume-based factors.
type Benchmarks struct {
	ReviewCountMax    int // diminishing returns above this many reviews
	VelocityPerMonth  int // reviews/30d considered "excellent"
	PostsPer90Days    int
	PhotoCap          int
	DescriptionCap    int
}

// DefaultBenchmarks returns the standard factor ceilings.
func DefaultBenchmarks() Benchmarks {
	return Benchmarks{
		ReviewCountMax:   800,
		VelocityPerMonth: 20,
		PostsPer90Days:   12,
		PhotoCap:         50,
		DescriptionCap:   750,
	}
}

func (b Benchmarks) withDefaults() Benchmarks {
	d := DefaultBenchmarks()
	if b.ReviewCountMax <= 0 {
		b.ReviewCountMax = d.ReviewCountMax
	}
	if b.VelocityPerMonth <= 0 {
		b.VelocityPerMonth = d.VelocityPerMonth
	}
	if b.PostsPer90Days <= 0 {
		b.PostsPer90Days = d.PostsPer90Days
	}
	if b.PhotoCap <= 0 {
		b.PhotoCap = d.PhotoCap
	}
	if b.DescriptionCap <= 0 {
		b.DescriptionCap = d.DescriptionCap
	}
	return b
}

// PracticeData is the value-object input to the scoring engine. Missing
// fields degrade to worst-case factor scores; scoring never errors.
type PracticeData struct {
	PlaceID           string   `json:"place_id,omitempty"`
	Name              string   `json:"name"`
	PrimaryCategory   string   `json:"primary_category"`
	Categories        []string `json:"categories,omitempty"`
	TotalReviews      int      `json:"total_reviews"`
	AverageRating     float64  `json:"average_rating"`
	ReviewsLast30Days int      `json:"reviews_last_30_days"`
	HasWebsite        bool     `json:"has_website"`
	HasPhone          bool     `json:"has_phone"`
	HoursEntries      int      `json:"hours_entries"` // weekly hours rows; 7 = complete
	PostsLast90Days   int      `json:"posts_last_90_days"`
	PhotoCount        int      `json:"photo_count"`
	DescriptionLength int      `json:"description_length"`
	SentimentScore    *float64 `json:"sentiment_score,omitempty"` // [0,1] when supplied
}

// FactorScore is one factor's contribution with its ceiling and a
// human-readable explanation for the dashboard.
type FactorScore struct {
	Score       float64 `json:"score"`
	Max         float64 `json:"max"`
	Explanation string  `json:"explanation"`
}

// Factors is the full eight-factor breakdown embedded in a run record.
type Factors struct {
	CategoryMatch  FactorScore `json:"category_match"`
	ReviewCount    FactorScore `json:"review_count"`
	StarRating     FactorScore `json:"star_rating"`
	KeywordName    FactorScore `json:"keyword_name"`
	ReviewVelocity FactorScore `json:"review_velocity"`
	NAPConsistency FactorScore `json:"nap_consistency"`
	GBPActivity    FactorScore `json:"gbp_activity"`
	Sentiment      FactorScore `json:"sentiment"`
}

// Total returns the sum of the eight factor scores.
func (f Factors) Total() float64 {
	return f.CategoryMatch.Score + f.ReviewCount.Score + f.StarRating.Score +
		f.KeywordName.Score + f.ReviewVelocity.Score + f.NAPConsistency.Score +
		f.GBPActivity.Score + f.Sentiment.Score
}

// Result is the scoring output for one practice.
type Result struct {
	TotalScore float64            `json:"total_score"`
	Factors    Factors            `json:"factors"`
	Breakdown  map[string]float64 `json:"breakdown"`
}

// Engine computes ranking scores. It is pure and safe for concurrent use.
type Engine struct {
	bench Benchmarks
}

// NewEngine creates a scoring engine; zero-valued benchmark fields take
// their defaults.
func NewEngine(bench Benchmarks) *Engine {
	return &Engine{bench: bench.withDefaults()}
}

// Score computes the weighted multi-factor score for one practice against a
// target specialty. Identical inputs always yield identical results.
func (e *Engine) Score(p PracticeData, specialty string) Result {
	key := NormalizeSpecialty(specialty)

	f := Factors{
		CategoryMatch:  e.scoreCategoryMatch(p, key),
		ReviewCount:    e.scoreReviewCount(p),
		StarRating:     e.scoreStarRating(p),
		KeywordName:    e.scoreKeywordName(p, key),
		ReviewVelocity: e.scoreReviewVelocity(p),
		NAPConsistency: e.scoreNAPConsistency(p),
		GBPActivity:    e.scoreGBPActivity(p),
		Sentiment:      e.scoreSentiment(p),
	}

	total := round2(f.Total())
	return Result{
		TotalScore: total,
		Factors:    f,
		Breakdown: map[string]float64{
			"category_match":  f.CategoryMatch.Score,
			"review_count":    f.ReviewCount.Score,
			"star_rating":     f.StarRating.Score,
			"keyword_name":    f.KeywordName.Score,
			"review_velocity": f.ReviewVelocity.Score,
			"nap_consistency": f.NAPConsistency.Score,
			"gbp_activity":    f.GBPActivity.Score,
			"sentiment":       f.Sentiment.Score,
		},
	}
}

func (e *Engine) scoreCategoryMatch(p PracticeData, key string) FactorScore {
	maxScore := WeightCategoryMatch * 100

	categories := append([]string{p.PrimaryCategory}, p.Categories...)
	exact := specialtyCategories(key)

	for _, c := range categories {
		norm := normalizeTerm(c)
		for _, want := range exact {
			if norm == normalizeTerm(want) {
				return FactorScore{
					Score:       maxScore,
					Max:         maxScore,
					Explanation: fmt.Sprintf("category %q matches specialty %s", c, key),
				}
			}
		}
	}
	for _, c := range categories {
		if c != "" && isGenericCategory(c) {
			return FactorScore{
				Score:       round2(maxScore * genericCategoryCredit),
				Max:         maxScore,
				Explanation: fmt.Sprintf("generic category %q gives partial credit for %s", c, key),
			}
		}
	}
	return FactorScore{
		Score:       0,
		Max:         maxScore,
		Explanation: fmt.Sprintf("no category matches specialty %s", key),
	}
}

func (e *Engine) scoreReviewCount(p PracticeData) FactorScore {
	maxScore := WeightReviewCount * 100
	reviews := p.TotalReviews
	if reviews < 0 {
		reviews = 0
	}

	// Logarithmic scaling: diminishing returns above the benchmark ceiling.
	ratio := math.Log(float64(reviews)+1) / math.Log(float64(e.bench.ReviewCountMax)+1)
	score := round2(math.Min(ratio, 1) * maxScore)
	return FactorScore{
		Score:       score,
		Max:         maxScore,
		Explanation: fmt.Sprintf("%d reviews vs benchmark %d", reviews, e.bench.ReviewCountMax),
	}
}

func (e *Engine) scoreStarRating(p PracticeData) FactorScore {
	maxScore := WeightStarRating * 100
	rating := clamp(p.AverageRating, 0, 5)

	// Piecewise-linear scaling favoring ratings >= 4.5.
	var frac float64
	switch {
	case rating >= 4.8:
		frac = 1.0
	case rating >= 4.5:
		frac = 0.85 + (rating-4.5)/0.3*0.15
	case rating >= 4.0:
		frac = 0.60 + (rating-4.0)/0.5*0.25
	case rating >= 3.5:
		frac = 0.35 + (rating-3.5)/0.5*0.25
	default:
		frac = rating / 3.5 * 0.35
	}

	return FactorScore{
		Score:       round2(frac * maxScore),
		Max:         maxScore,
		Explanation: fmt.Sprintf("average rating %.1f", rating),
	}
}

func (e *Engine) scoreKeywordName(p PracticeData, key string) FactorScore {
	maxScore := WeightKeywordName * 100
	name := strings.ToLower(p.Name)

	for _, kw := range specialtyKeywords(key) {
		if kw != "" && strings.Contains(name, strings.ToLower(kw)) {
			return FactorScore{
				Score:       maxScore,
				Max:         maxScore,
				Explanation: fmt.Sprintf("name contains specialty keyword %q", kw),
			}
		}
	}
	return FactorScore{
		Score:       0,
		Max:         maxScore,
		Explanation: "name contains no specialty keyword",
	}
}

func (e *Engine) scoreReviewVelocity(p PracticeData) FactorScore {
	maxScore := WeightReviewVelocity * 100
	recent := p.ReviewsLast30Days
	if recent < 0 {
		recent = 0
	}

	ratio := math.Min(float64(recent)/float64(e.bench.VelocityPerMonth), 1)
	return FactorScore{
		Score:       round2(ratio * maxScore),
		Max:         maxScore,
		Explanation: fmt.Sprintf("%d reviews in last 30 days vs benchmark %d", recent, e.bench.VelocityPerMonth),
	}
}

func (e *Engine) scoreNAPConsistency(p PracticeData) FactorScore {
	maxScore := WeightNAPConsistency * 100

	var frac float64
	var parts []string
	if p.HasWebsite {
		frac += 0.3
		parts = append(parts, "website")
	}
	if p.HasPhone {
		frac += 0.3
		parts = append(parts, "phone")
	}
	switch {
	case p.HoursEntries >= 7:
		frac += 0.4
		parts = append(parts, "complete hours")
	case p.HoursEntries > 0:
		frac += 0.3
		parts = append(parts, "partial hours")
	}

	expl := "profile missing website, phone, and hours"
	if len(parts) > 0 {
		expl = "profile has " + strings.Join(parts, ", ")
	}
	return FactorScore{
		Score:       round2(frac * maxScore),
		Max:         maxScore,
		Explanation: expl,
	}
}

func (e *Engine) scoreGBPActivity(p PracticeData) FactorScore {
	maxScore := WeightGBPActivity * 100

	posts := math.Min(float64(max(p.PostsLast90Days, 0))/float64(e.bench.PostsPer90Days), 1)
	photos := math.Min(float64(max(p.PhotoCount, 0))/float64(e.bench.PhotoCap), 1)
	desc := math.Min(float64(max(p.DescriptionLength, 0))/float64(e.bench.DescriptionCap), 1)

	frac := posts*0.60 + photos*0.25 + desc*0.15
	return FactorScore{
		Score:       round2(frac * maxScore),
		Max:         maxScore,
		Explanation: fmt.Sprintf("%d posts/90d, %d photos, %d-char description", p.PostsLast90Days, p.PhotoCount, p.DescriptionLength),
	}
}

func (e *Engine) scoreSentiment(p PracticeData) FactorScore {
	maxScore := WeightSentiment * 100

	var frac float64
	var expl string
	switch {
	case p.SentimentScore != nil:
		frac = clamp(*p.SentimentScore, 0, 1)
		expl = fmt.Sprintf("explicit sentiment score %.2f", frac)
	case p.AverageRating > 0:
		frac = clamp((p.AverageRating-3)/2, 0, 1)
		expl = fmt.Sprintf("sentiment estimated from %.1f average rating", p.AverageRating)
	default:
		frac = 0.8
		expl = "no sentiment signal, using default"
	}

	return FactorScore{
		Score:       round2(frac * maxScore),
		Max:         maxScore,
		Explanation: expl,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
