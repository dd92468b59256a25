package status

// Step names one stage of a run's pipeline progress.
type Step string

const (
	StepQueued               Step = "queued"
	StepFetchingProfile      Step = "fetching_client_profile"
	StepFetchingSearch       Step = "fetching_search_console"
	StepDiscovering          Step = "discovering_competitors"
	StepScraping             Step = "scraping_competitors"
	StepAuditing             Step = "auditing_website"
	StepCalculating          Step = "calculating_scores"
	StepAwaitingAnalysis     Step = "awaiting_external_analysis"
	StepDone                 Step = "done"
)

// steps is the canonical pipeline order; progress percentages are fixed per
// step rather than computed, so dashboards render stable increments.
var steps = []Step{
	StepQueued,
	StepFetchingProfile,
	StepFetchingSearch,
	StepDiscovering,
	StepScraping,
	StepAuditing,
	StepCalculating,
	StepAwaitingAnalysis,
	StepDone,
}

var progressByStep = map[Step]int{
	StepQueued:           0,
	StepFetchingProfile:  10,
	StepFetchingSearch:   25,
	StepDiscovering:      40,
	StepScraping:         55,
	StepAuditing:         70,
	StepCalculating:      85,
	StepAwaitingAnalysis: 95,
	StepDone:             100,
}

// Progress returns the fixed percentage for a step; unknown steps map to 0.
func Progress(s Step) int {
	return progressByStep[s]
}

// Index returns the step's position in the pipeline order, or -1 for an
// unknown step.
func Index(s Step) int {
	for i, step := range steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Completed returns the names of every step strictly before the given one.
func Completed(s Step) []string {
	idx := Index(s)
	if idx <= 0 {
		return nil
	}
	done := make([]string, 0, idx)
	for _, step := range steps[:idx] {
		done = append(done, string(step))
	}
	return done
}

// Steps returns the pipeline order.
func Steps() []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}
