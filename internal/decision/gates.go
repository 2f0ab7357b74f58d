package decision

import (
	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/types"
)

// admissionGates runs the static threshold gates over the event's own
// fields, in order, returning the first failure or nil. Gates that need a
// collaborator (mass estimate, plan statistics, coverage) live in the
// engine.
func admissionGates(event types.Event, cfg config.AdmissionConfig) *types.AppError {
	if event.Group != cfg.TargetGroup {
		return types.GateFailure(types.ErrCodeGateWrongGroup,
			"group %q is not %q", event.Group, cfg.TargetGroup)
	}
	if event.ProbBBH < cfg.MinProbBBH {
		return types.GateFailure(types.ErrCodeGateClassProb,
			"BBH probability %.2f below %.2f", event.ProbBBH, cfg.MinProbBBH)
	}
	if event.ProbTerrestrial > cfg.MaxProbTerrestrial {
		return types.GateFailure(types.ErrCodeGateClassProb,
			"terrestrial probability %.2f above %.2f", event.ProbTerrestrial, cfg.MaxProbTerrestrial)
	}
	if !event.DistanceOK {
		return types.GateFailure(types.ErrCodeGateNoDistance,
			"no usable distance estimate")
	}
	if event.Stage == types.StagePreliminary && event.SkymapName == "" {
		return types.GateFailure(types.ErrCodeGateLowConfidence,
			"preliminary alert without a localization map")
	}
	if event.FAR < cfg.MinFARYears {
		return types.GateFailure(types.ErrCodeGateFalseAlarmRate,
			"false-alarm rate %.1f yr below %.1f yr", event.FAR, cfg.MinFARYears)
	}
	if event.SkyAreaDeg2 > cfg.MaxSkyAreaDeg2 {
		return types.GateFailure(types.ErrCodeGateSkyArea,
			"localization area %.0f deg2 above %.0f deg2", event.SkyAreaDeg2, cfg.MaxSkyAreaDeg2)
	}
	return nil
}

// planStatsGate checks the computed plan against the acceptance thresholds.
func planStatsGate(stats *types.PlanStats, cfg config.PlanConfig) *types.AppError {
	if stats.TotalTimeSec > cfg.MaxTotalTimeSec {
		return types.GateFailure(types.ErrCodeGatePlanStats,
			"plan needs %.0fs, ceiling is %.0fs", stats.TotalTimeSec, cfg.MaxTotalTimeSec)
	}
	if stats.Probability < cfg.MinProbability {
		return types.GateFailure(types.ErrCodeGatePlanStats,
			"plan covers probability %.2f, floor is %.2f", stats.Probability, cfg.MinProbability)
	}
	return nil
}

// massGateFailure builds the gate failure for a below-threshold estimate.
func massGateFailure(kind string, value, threshold float64) *types.AppError {
	return types.GateFailure(types.ErrCodeGateMass, "%s %.1f below %.1f", kind, value, threshold)
}
