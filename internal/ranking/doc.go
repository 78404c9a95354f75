// Package ranking provides the scoring math used by the discovery feed:
// sub-score functions, the weighted composite, density penalty policies,
// and deploy-time calibration of weights and discovery modes.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	cal, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default calibration", "error", err)
//	}
//
//	factors := ranking.Factors{
//		Topical:   ranking.TopicalScore(profile.Affinities, record.CategoryMatch),
//		Language:  ranking.LocaleScore(profile.Language, record.Language, record.LanguageReach, record.SubScores.Language),
//		Region:    ranking.LocaleScore(profile.Region, record.Region, record.RegionReach, record.SubScores.Region),
//		Recency:   record.SubScores.Recency,
//		Retention: record.SubScores.Retention,
//		Safety:    record.SubScores.Safety,
//	}
//	score := ranking.WeightedSum(factors, cal.Weights)
//	score = ranking.ApplyDensityPenalty(score, penalty, cal.PenaltyPolicy)
//
// Weight Functions:
//
// All sub-score functions return values in the [0, 1] range. The six
// composite weights must sum to 1.0, so the unscaled weighted sum is also
// in [0, 1]. ScaleComposite maps it to [0, 100] for display.
//
// Calibration:
//
// Weights, modes and the penalty policy can be tuned via a JSON file loaded
// at startup. A file whose weights do not sum to 1.0 is rejected and the
// defaults are used instead.
package ranking
