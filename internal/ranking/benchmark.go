package ranking

import "sort"

// BenchmarkStats summarizes a competitor cohort for dashboard context.
// These figures never feed the scoring itself.
type BenchmarkStats struct {
	Competitors       int     `json:"competitors"`
	MeanReviewCount   float64 `json:"mean_review_count"`
	MedianReviewCount float64 `json:"median_review_count"`
	MeanRating        float64 `json:"mean_rating"`
	MeanVelocity      float64 `json:"mean_velocity"`
}

// ComputeBenchmarks derives cohort statistics from a competitor list.
func ComputeBenchmarks(competitors []PracticeData) BenchmarkStats {
	stats := BenchmarkStats{Competitors: len(competitors)}
	if len(competitors) == 0 {
		return stats
	}

	counts := make([]int, 0, len(competitors))
	var sumReviews, sumVelocity int
	var sumRating float64
	var rated int
	for _, c := range competitors {
		counts = append(counts, c.TotalReviews)
		sumReviews += c.TotalReviews
		sumVelocity += c.ReviewsLast30Days
		if c.AverageRating > 0 {
			sumRating += c.AverageRating
			rated++
		}
	}

	n := float64(len(competitors))
	stats.MeanReviewCount = round2(float64(sumReviews) / n)
	stats.MeanVelocity = round2(float64(sumVelocity) / n)
	if rated > 0 {
		stats.MeanRating = round2(sumRating / float64(rated))
	}

	sort.Ints(counts)
	mid := len(counts) / 2
	if len(counts)%2 == 1 {
		stats.MedianReviewCount = float64(counts[mid])
	} else {
		stats.MedianReviewCount = float64(counts[mid-1]+counts[mid]) / 2
	}
	return stats
}
