// Package reveal drives the timed presentation of a committed draw.
//
// Every animation mode is a fixed sequence of timed states. The outcome of a
// draw is shown only once the last timer has elapsed and the backend has
// committed the result; a failed commit aborts the session to Idle.
package reveal

import (
	"time"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
	"lootfan/internal/services"
)

// State is a named state of a reveal session.
type State string

const (
	Idle          State = "IDLE"
	Spinning      State = "SPINNING"
	Settled       State = "SETTLED"
	Shaking       State = "SHAKING"
	Opened        State = "OPENED"
	FaceDown      State = "FACE_DOWN"
	Flipping      State = "FLIPPING"
	Revealed      State = "REVEALED"
	ReelsSpinning State = "REELS_SPINNING"
	BonusPending  State = "BONUS_PENDING"
)

// BonusSymbol is the wildcard shown on the third reel of a bonus spin.
const BonusSymbol = "BONUS"

const (
	wheelTurns      = 5
	reelCount       = 3
	reelBaseStop    = 3500 * time.Millisecond
	reelStagger     = 800 * time.Millisecond
	reelsSpinLength = 6000 * time.Millisecond
)

// Step is one timed state of a timeline.
type Step struct {
	State      State `json:"state"`
	DurationMs int64 `json:"durationMs"`
}

// Duration returns the step length.
func (s Step) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

func step(state State, d time.Duration) Step {
	return Step{State: state, DurationMs: d.Milliseconds()}
}

// Timeline returns the timed states of mode in order.
func Timeline(mode models.AnimationMode) ([]Step, error) {
	switch mode {
	case models.AnimationWheel:
		return []Step{step(Spinning, 4000*time.Millisecond)}, nil
	case models.AnimationBox:
		return []Step{step(Shaking, 3000*time.Millisecond)}, nil
	case models.AnimationLoot:
		return []Step{step(FaceDown, 1500*time.Millisecond), step(Flipping, 1000*time.Millisecond)}, nil
	case models.AnimationMachine:
		return []Step{step(ReelsSpinning, reelsSpinLength)}, nil
	}
	return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown animation mode",
		map[string]string{"mode": string(mode)})
}

// TerminalState is where a session of mode ends once the outcome is shown.
func TerminalState(mode models.AnimationMode, bonus bool) State {
	switch mode {
	case models.AnimationWheel:
		return Settled
	case models.AnimationBox:
		return Opened
	case models.AnimationLoot:
		return Revealed
	case models.AnimationMachine:
		if bonus {
			return BonusPending
		}
		return Settled
	}
	return Idle
}

// Outcome is the committed result a session reveals.
type Outcome struct {
	Prize            models.PrizeSnapshot `json:"prize"`
	BonusGranted     bool                 `json:"bonusGranted"`
	FreeSpinUsed     bool                 `json:"freeSpinUsed"`
	RemainingBalance int                  `json:"remainingBalance"`
}

// OutcomeOf converts a draw result.
func OutcomeOf(r *services.DrawResult) Outcome {
	return Outcome{
		Prize:            r.Prize,
		BonusGranted:     r.BonusGranted,
		FreeSpinUsed:     r.FreeSpinUsed,
		RemainingBalance: r.RemainingBalance,
	}
}

// Plan tells the client how to animate a committed draw.
type Plan struct {
	Mode     models.AnimationMode `json:"mode"`
	Steps    []Step               `json:"steps"`
	Terminal State                `json:"terminal"`

	// Wheel
	SliceID        string  `json:"sliceId,omitempty"`
	TargetRotation float64 `json:"targetRotation,omitempty"`

	// Machine
	ReelStopsMs []int64  `json:"reelStopsMs,omitempty"`
	ReelSymbols []string `json:"reelSymbols,omitempty"`
}

// BuildPlan computes the animation of a draw. wheel is the slice layout the
// draw was made against and is only used in wheel mode; when the prize has
// several slices one is picked at random.
func BuildPlan(mode models.AnimationMode, outcome Outcome, wheel []services.VisualSlice, rng services.RandomSource) (*Plan, error) {
	steps, err := Timeline(mode)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Mode: mode, Steps: steps, Terminal: TerminalState(mode, outcome.BonusGranted)}

	switch mode {
	case models.AnimationWheel:
		if err := plan.aimWheel(outcome.Prize.ID, wheel, rng); err != nil {
			return nil, err
		}
	case models.AnimationMachine:
		plan.ReelStopsMs = make([]int64, reelCount)
		plan.ReelSymbols = make([]string, reelCount)
		for i := range reelCount {
			plan.ReelStopsMs[i] = (reelBaseStop + time.Duration(i)*reelStagger).Milliseconds()
			plan.ReelSymbols[i] = outcome.Prize.ID
		}
		if outcome.BonusGranted {
			plan.ReelSymbols[reelCount-1] = BonusSymbol
		}
	}
	return plan, nil
}

// aimWheel sets the rotation that brings the center of one of the prize's
// slices under the pointer after the fixed number of full turns.
func (p *Plan) aimWheel(prizeID string, wheel []services.VisualSlice, rng services.RandomSource) error {
	var candidates []int
	for i, s := range wheel {
		if s.PrizeID == prizeID {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "prize has no slice on the wheel",
			map[string]string{"prize_id": prizeID})
	}
	target := candidates[int(rng.Float64()*float64(len(candidates)))%len(candidates)]

	start := 0.0
	for _, s := range wheel[:target] {
		start += s.Percentage / 100 * 360
	}
	center := start + wheel[target].Percentage/100*360/2

	p.SliceID = wheel[target].ID
	p.TargetRotation = 360*wheelTurns + (360 - center)
	return nil
}
