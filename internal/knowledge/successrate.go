package knowledge

// UpdateSuccessRate folds one helpful/not-helpful outcome into a principle's
// cumulative success rate.
//
// This is an exact incremental mean: the result equals recomputing the mean
// of every historical 0/1 outcome including the new one, without keeping the
// outcome history itself.
//
//	newRate  = (rate*count + outcome) / (count + 1)
//	newCount = count + 1
//
// For any rate in [0,1] and any sequence of boolean outcomes the result
// stays in [0,1].
func UpdateSuccessRate(rate float64, count int, helpful bool) (float64, int) {
	outcome := 0.0
	if helpful {
		outcome = 1.0
	}
	newCount := count + 1
	newRate := (rate*float64(count) + outcome) / float64(newCount)
	return newRate, newCount
}
