package engine

import (
	"math"

	"github.com/wudi/pdfmark/assembler"
)

// BatchStats aggregates a set of render results.
type BatchStats struct {
	Jobs      int `json:"jobs"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	// MeanPercentage averages generated jobs that had at least one matched
	// question, rounded to one decimal.
	MeanPercentage float64 `json:"mean_percentage"`
	Correct        int     `json:"total_correct"`
	Questions      int     `json:"total_questions"`
}

// Stats tallies generated and failed jobs and the mean score.
func Stats(results []assembler.RenderResult) BatchStats {
	var s BatchStats
	var sum float64
	scored := 0
	for _, r := range results {
		s.Jobs++
		if !r.Generated {
			s.Failed++
			continue
		}
		s.Generated++
		s.Correct += r.Correct
		s.Questions += r.Total
		if r.Total > 0 {
			sum += r.Percentage
			scored++
		}
	}
	if scored > 0 {
		s.MeanPercentage = math.Round(sum/float64(scored)*10) / 10
	}
	return s
}
