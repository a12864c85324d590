package pipeline

// ProgressCap is the highest overall percentage reported before a run is
// finalized successfully.
const ProgressCap = 99.0

// ComputeOverall combines the current stage index and the fraction of the
// current stage into a 0-100 percentage. Every stage weighs 1/len(stages).
// The result never exceeds ProgressCap; only a finalized run reports 100.
func ComputeOverall(stages []Stage, currentIndex int, fraction float64) float64 {
	n := len(stages)
	if n == 0 {
		return 0
	}

	currentIndex = max(0, min(currentIndex, n-1))
	fraction = max(0, min(fraction, 1))

	overall := (float64(currentIndex)/float64(n) + fraction/float64(n)) * 100
	return min(overall, ProgressCap)
}
