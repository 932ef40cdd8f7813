package match

import "fmt"

const (
	reasonNoFingerprints = "no candidates: no fingerprints generated from audio"
	reasonNoPostings     = "no candidates: no matching fingerprints found in database"
	reasonNoCounts       = "corpus fingerprint counts unavailable"
)

// Decide applies the confidence gate to ranked scores (best first). It
// returns whether ranked[0] is accepted and, if not, one reason per failed
// check in a fixed order.
func Decide(ranked []Score, queryCount int, cfg Config) (bool, []string) {
	if len(ranked) == 0 {
		return false, []string{reasonNoPostings}
	}
	best := ranked[0]

	var reasons []string
	if best.AlignedMatches < cfg.MinAlignedMatches {
		reasons = append(reasons, fmt.Sprintf("Alignment score too low (%d < %d)", best.AlignedMatches, cfg.MinAlignedMatches))
	}
	if best.NormalizedScore < cfg.MinNormalizedScore {
		reasons = append(reasons, fmt.Sprintf("Normalized score too low (%.6f)", best.NormalizedScore))
	}
	if best.FinalScore < cfg.MinFinalScore {
		reasons = append(reasons, fmt.Sprintf("Final score too low (%.2f)", best.FinalScore))
	}
	if len(ranked) > 1 {
		second := ranked[1]
		if best.FinalScore < second.FinalScore*cfg.MinRelativeRatio {
			reasons = append(reasons, fmt.Sprintf("Not significantly better than second match (%.2f vs %.2f)", best.FinalScore, second.FinalScore))
		}
	}
	ratio := float64(best.AlignedMatches) / float64(maxInt(1, queryCount))
	if ratio < cfg.MinMatchRatio {
		reasons = append(reasons, fmt.Sprintf("Match ratio too low (%.4f)", ratio))
	}

	return len(reasons) == 0, reasons
}
