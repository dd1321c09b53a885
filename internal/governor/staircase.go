package governor

import (
	"time"

	"github.com/autovant/reflex/internal/domain"
)

// StaircaseCooldown is how long a demoted tier is pinned to Q0.
const StaircaseCooldown = 600 * time.Second

// WarmupLockout pins the tier to Q0 regardless of promotion progress for
// this long after process start.
const WarmupLockout = 5 * time.Minute

// StaircaseInputs is the per-cycle evidence the promotion/demotion rule
// evaluates, independent of how the cycle's trade was decided.
type StaircaseInputs struct {
	Entropy       float64
	Efficiency    float64
	Jerk          float64
	VetoFired     bool
	NuclearFired  bool
	DrawdownPct   float64
	DrawdownLimit float64
	DriftScore    float64
}

func stableCycle(in StaircaseInputs) bool {
	return in.Entropy < 0.3 && in.Efficiency > 0.85 && abs(in.Jerk) < 10 && !in.VetoFired
}

func shouldDemote(in StaircaseInputs) bool {
	if in.NuclearFired {
		return true
	}
	if in.DrawdownLimit > 0 && in.DrawdownPct > in.DrawdownLimit {
		return true
	}
	if in.DriftScore > 0.10 {
		return true
	}
	return false
}

// AdvanceStaircase applies one cycle's evidence to the ladder. nowUs and
// processStartUs gate the warm-up lockout; cooldown blocks any promotion
// progress until CooldownUntilUs has passed.
func AdvanceStaircase(s domain.StaircaseState, in StaircaseInputs, nowUs, processStartUs int64) domain.StaircaseState {
	if shouldDemote(in) {
		return domain.StaircaseState{
			Tier:            domain.TierQ0,
			Progress:        0,
			CooldownUntilUs: nowUs + StaircaseCooldown.Microseconds(),
		}
	}

	if nowUs < s.CooldownUntilUs {
		return s
	}

	warmupActive := time.Duration(nowUs-processStartUs)*time.Microsecond < WarmupLockout
	if warmupActive {
		s.Tier = domain.TierQ0
		return s
	}

	if !stableCycle(in) {
		s.Progress = 0
		return s
	}

	s.Progress++
	if s.Progress >= domain.PromotionThreshold {
		s.Tier = s.Tier.Promote()
		s.Progress = 0
	}
	return s
}
