// Package stats derives aggregate metrics from ingestion records.
package stats

import "github.com/jonathan/careercraft/internal/records"

// AggregateStats summarizes a record collection. It is never stored.
type AggregateStats struct {
	TotalRecords              int     `json:"totalRecords"`
	TotalIndexedUnits         int     `json:"totalIndexedUnits"`
	AverageProcessingDuration float64 `json:"averageProcessingDuration"`
	SuccessRatePercent        float64 `json:"successRatePercent"`
	ProcessingRecords         int     `json:"processingRecords"`
	FailedRecords             int     `json:"failedRecords"`
}

// Project computes AggregateStats. The average covers only records that
// carry a processing duration; the success rate counts analyzed records
// against all records, including ones still processing.
func Project(recs []records.Record) AggregateStats {
	var (
		s         AggregateStats
		analyzed  int
		durations int
		totalSecs float64
	)

	s.TotalRecords = len(recs)
	for _, r := range recs {
		if r.IndexedUnitCount != nil {
			s.TotalIndexedUnits += *r.IndexedUnitCount
		}
		if r.ProcessingDurationSeconds != nil {
			totalSecs += *r.ProcessingDurationSeconds
			durations++
		}

		switch r.Status {
		case records.StatusAnalyzed:
			analyzed++
		case records.StatusProcessing:
			s.ProcessingRecords++
		case records.StatusError:
			s.FailedRecords++
		}
	}

	if durations > 0 {
		s.AverageProcessingDuration = totalSecs / float64(durations)
	}
	if s.TotalRecords > 0 {
		s.SuccessRatePercent = 100 * float64(analyzed) / float64(s.TotalRecords)
	}
	return s
}
