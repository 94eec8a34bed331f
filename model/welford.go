/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package model

import "math"

// ObserveDailyLoginCount folds one more daily-login-count sample into
// the running mean/variance using Welford's online algorithm, per
// §4.5's "avg_daily_logins, stdev_daily_logins -- Welford's online
// algorithm over daily counts" rule.
func (b *UserBaseline) ObserveDailyLoginCount(count int) {
	b.welfordCount++
	x := float64(count)
	delta := x - b.welfordMean
	b.welfordMean += delta / float64(b.welfordCount)
	delta2 := x - b.welfordMean
	b.welfordM2 += delta * delta2

	b.AvgDailyLogins = b.welfordMean
	if b.welfordCount > 1 {
		b.StdevDailyLogins = math.Sqrt(b.welfordM2 / float64(b.welfordCount-1))
	} else {
		b.StdevDailyLogins = 0
	}
}

// ObserveFailureOutcome folds one auth outcome into the exponentially
// weighted failure rate, alpha = 0.1 per §4.5.
func (b *UserBaseline) ObserveFailureOutcome(failed bool, alpha float64) {
	if alpha <= 0 {
		alpha = 0.1
	}
	obs := 0.0
	if failed {
		obs = 1.0
	}
	if b.SampleCount == 0 {
		b.AvgFailureRate = obs
	} else {
		b.AvgFailureRate = alpha*obs + (1-alpha)*b.AvgFailureRate
	}
}

// WelfordState exposes the running mean/M2/count behind
// ObserveDailyLoginCount so a durable store can round-trip a baseline
// without losing the ability to keep folding in new samples after a
// restart.
func (b *UserBaseline) WelfordState() (mean, m2 float64, count int64) {
	return b.welfordMean, b.welfordM2, b.welfordCount
}

// RestoreWelfordState reloads a previously persisted running
// mean/M2/count, as returned by WelfordState.
func (b *UserBaseline) RestoreWelfordState(mean, m2 float64, count int64) {
	b.welfordMean = mean
	b.welfordM2 = m2
	b.welfordCount = count
}
