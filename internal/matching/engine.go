package matching

import (
	"math"
	"sort"

	"github.com/keppel-erp/keppel/internal/money"
)

// poScore computes variance and strength for PO matching. Strength falls
// linearly from 100 at zero variance to 0 at the tolerance boundary. A doc
// with zero total cannot be scored.
func poScore(docTotal, candidate money.Amount, tolerancePct float64) (variancePct, strength float64, ok bool) {
	if docTotal == 0 || tolerancePct <= 0 {
		return 0, 0, false
	}
	variancePct = math.Abs(float64(docTotal-candidate)) / math.Abs(float64(docTotal)) * 100
	if variancePct > tolerancePct {
		return round2(variancePct), 0, false
	}
	strength = math.Max(0, 100-variancePct/tolerancePct*100)
	return round2(variancePct), round2(strength), true
}

// grnScore uses a steeper penalty: bill-to-GRN matching is expected to be
// near-exact, so strength drops two points per variance point.
func grnScore(docTotal, candidate money.Amount) (variancePct, strength float64, ok bool) {
	if docTotal == 0 {
		return 0, 0, false
	}
	variancePct = math.Abs(float64(docTotal-candidate)) / math.Abs(float64(docTotal)) * 100
	strength = math.Max(0, 100-variancePct*2)
	return round2(variancePct), round2(strength), true
}

// rank orders candidates by variance ascending, ties broken by most recent
// document date.
func rank(docs []candidateDoc, scored []MatchCandidate) []MatchCandidate {
	dates := make(map[int64]int64, len(docs))
	for _, d := range docs {
		dates[d.ID] = d.DocDate.UnixNano()
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].VariancePct != scored[j].VariancePct {
			return scored[i].VariancePct < scored[j].VariancePct
		}
		return dates[scored[i].ID] > dates[scored[j].ID]
	})
	return scored
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
