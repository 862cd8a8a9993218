package procedural

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/cortex-mind/cortex/internal/domain"
)

// taskTypeKeywords maps inferred task types to the substrings that signal
// them in a free-text task description. Checked in order so more specific
// categories win over the generic "Task" fallback.
var taskTypeKeywords = []struct {
	taskType string
	keywords []string
}{
	{"BugFix", []string{"fix", "bug", "broken", "crash", "regression"}},
	{"Test", []string{"test", "spec", "coverage"}},
	{"Documentation", []string{"doc", "readme", "comment"}},
	{"Refactor", []string{"refactor", "cleanup", "reorganize", "simplify"}},
	{"Feature", []string{"add", "implement", "feature", "support", "introduce"}},
}

// inferTaskType keyword-matches a free-text description into one of the
// categories above, defaulting to "Task" when nothing matches.
func inferTaskType(description string) string {
	lower := strings.ToLower(description)
	for _, tt := range taskTypeKeywords {
		for _, kw := range tt.keywords {
			if strings.Contains(lower, kw) {
				return tt.taskType
			}
		}
	}
	return "Task"
}

// LearnResult summarizes one learn_from_episodes invocation.
type LearnResult struct {
	PatternsCreated int
	PatternsUpdated int
}

// LearnFromEpisodes groups episodes by inferred task type and, for every
// group of 2 or more, synthesizes (or re-synthesizes) a Procedure per spec
// section 4.4.
func (s *Store) LearnFromEpisodes(ctx context.Context, episodes []*domain.Episode) (LearnResult, error) {
	groups := make(map[string][]*domain.Episode)
	for _, e := range episodes {
		tt := inferTaskType(e.TaskDescription)
		groups[tt] = append(groups[tt], e)
	}

	var result LearnResult
	for taskType, group := range groups {
		if len(group) < 2 {
			continue
		}
		existing, _ := s.GetProcedure(ctx, taskType)
		proc := buildProcedure(taskType, group)
		if err := s.storeProcedure(ctx, proc); err != nil {
			return result, err
		}
		if existing != nil {
			result.PatternsUpdated++
		} else {
			result.PatternsCreated++
		}
	}
	return result, nil
}

func buildProcedure(taskType string, group []*domain.Episode) domain.Procedure {
	n := len(group)
	threshold := int(math.Ceil(float64(n) / 2))

	stepCounts := map[string]int{}
	for _, e := range group {
		for _, step := range tokenizeSteps(e.SolutionSummary) {
			stepCounts[step]++
		}
	}
	descriptions := make([]string, 0, len(stepCounts))
	for step := range stepCounts {
		descriptions = append(descriptions, step)
	}
	sort.Slice(descriptions, func(i, j int) bool {
		if stepCounts[descriptions[i]] != stepCounts[descriptions[j]] {
			return stepCounts[descriptions[i]] > stepCounts[descriptions[j]]
		}
		return descriptions[i] < descriptions[j]
	})
	steps := make([]domain.ProcedureStep, 0, len(descriptions))
	for _, desc := range descriptions {
		steps = append(steps, domain.ProcedureStep{
			Description: desc,
			Optional:    stepCounts[desc] < threshold,
		})
	}

	fileCounts := map[string]int{}
	for _, e := range group {
		seen := map[string]bool{}
		for _, f := range e.FilesTouched {
			if !seen[f] {
				seen[f] = true
				fileCounts[f]++
			}
		}
	}
	var requiredContext []string
	for f, c := range fileCounts {
		if c >= threshold {
			requiredContext = append(requiredContext, f)
		}
	}
	sort.Strings(requiredContext)

	queryCounts := map[string]int{}
	for _, e := range group {
		seen := map[string]bool{}
		for _, q := range e.QueriesMade {
			q = strings.ToLower(strings.TrimSpace(q))
			if q != "" && !seen[q] {
				seen[q] = true
				queryCounts[q]++
			}
		}
	}
	var typicalQueries []string
	for q, c := range queryCounts {
		if c >= 2 {
			typicalQueries = append(typicalQueries, q)
		}
	}
	sort.Strings(typicalQueries)

	var successCount int
	var totalTokens int64
	var pitfalls []string
	pitfallSeen := map[string]bool{}
	for _, e := range group {
		if e.Outcome == domain.OutcomeSuccess {
			successCount++
		} else {
			pitfall := "Failed at: " + e.SolutionSummary
			if !pitfallSeen[pitfall] {
				pitfallSeen[pitfall] = true
				pitfalls = append(pitfalls, pitfall)
			}
		}
		totalTokens += e.TokensUsed
	}

	return domain.Procedure{
		TaskType:        taskType,
		Steps:           steps,
		RequiredContext: requiredContext,
		TypicalQueries:  typicalQueries,
		SuccessRate:     float64(successCount) / float64(n),
		AverageTokens:   float64(totalTokens) / float64(n),
		CommonPitfalls:  pitfalls,
		EpisodeCount:    n,
	}
}

// tokenizeSteps splits a solution summary into steps on '.', ',' and ';',
// trimming whitespace and dropping empty fragments.
func tokenizeSteps(summary string) []string {
	fields := strings.FieldsFunc(summary, func(r rune) bool { return r == '.' || r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
