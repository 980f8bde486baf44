package session

import "github.com/pulsefit/groupsync/go/internal/models"

// Phase durations in seconds. Rest between exercises (round rest) is a
// product rule: deliberately longer than rest between sets, and not
// derived from any other parameter.
const (
	PrepareSeconds   = 10
	WorkSeconds      = 20
	RestSeconds      = 10
	RoundRestSeconds = 60

	// SetsPerExercise is fixed: sets are counted 0..7.
	SetsPerExercise = 8
)

// phaseDuration returns the table duration for a phase.
func phaseDuration(phase models.WorkoutPhase) int {
	switch phase {
	case models.PhasePrepare:
		return PrepareSeconds
	case models.PhaseWork:
		return WorkSeconds
	case models.PhaseRest:
		return RestSeconds
	case models.PhaseRoundRest:
		return RoundRestSeconds
	default:
		return 0
	}
}

// Advance computes the successor state of a phase whose countdown has
// reached zero. A transition into complete is terminal: the state is
// returned with status completed and no further transitions are valid.
func Advance(st models.WorkoutPhaseState, exerciseCount int) models.WorkoutPhaseState {
	switch st.Phase {
	case models.PhasePrepare:
		st.Phase = models.PhaseWork
		st.TimeRemainingSec = WorkSeconds

	case models.PhaseWork:
		switch {
		case st.CurrentSet < SetsPerExercise-1:
			st.Phase = models.PhaseRest
			st.TimeRemainingSec = RestSeconds
		case st.CurrentExercise < exerciseCount-1:
			st.Phase = models.PhaseRoundRest
			st.TimeRemainingSec = RoundRestSeconds
		default:
			st.Phase = models.PhaseComplete
			st.Status = models.SessionStatusCompleted
			st.TimeRemainingSec = 0
		}

	case models.PhaseRest:
		st.Phase = models.PhaseWork
		st.CurrentSet++
		st.TimeRemainingSec = WorkSeconds

	case models.PhaseRoundRest:
		st.Phase = models.PhaseWork
		st.CurrentSet = 0
		st.CurrentExercise++
		st.CurrentRound++
		st.TimeRemainingSec = WorkSeconds

	case models.PhaseComplete:
		// Terminal; nothing to advance.
	}
	return st
}

// TotalDurationSeconds returns the full session length for a workout of
// the given exercise count: one prepare, eight work sets per exercise
// with seven set rests between them, and a round rest between exercises.
func TotalDurationSeconds(exerciseCount int) int {
	if exerciseCount <= 0 {
		return 0
	}
	perExercise := SetsPerExercise*WorkSeconds + (SetsPerExercise-1)*RestSeconds
	return PrepareSeconds + exerciseCount*perExercise + (exerciseCount-1)*RoundRestSeconds
}

// InitialState returns the state every session starts from.
func InitialState(status models.SessionStatus) models.WorkoutPhaseState {
	return models.WorkoutPhaseState{
		Phase:            models.PhasePrepare,
		Status:           status,
		CurrentRound:     1,
		CurrentSet:       0,
		CurrentExercise:  0,
		TimeRemainingSec: PrepareSeconds,
	}
}
