package evaluation

import (
	"gonum.org/v1/gonum/stat"

	"mriqa/internal/models"
)

// MetricSummary describes the distribution of one metric over the
// successfully evaluated subjects
type MetricSummary struct {
	Metric string
	N      int
	Mean   float64
	Std    float64
}

// Summarize computes mean and standard deviation per configured metric,
// ignoring failed rows and absent values
func Summarize(rows []models.MetricRow, metricNames []string) []MetricSummary {
	summaries := make([]MetricSummary, 0, len(metricNames))
	for _, name := range metricNames {
		var xs []float64
		for _, row := range rows {
			if row.Failed() {
				continue
			}
			if v := row.Value(name); v != nil {
				xs = append(xs, *v)
			}
		}

		s := MetricSummary{Metric: name, N: len(xs)}
		if len(xs) > 0 {
			s.Mean = stat.Mean(xs, nil)
		}
		if len(xs) > 1 {
			s.Std = stat.StdDev(xs, nil)
		}
		summaries = append(summaries, s)
	}
	return summaries
}
