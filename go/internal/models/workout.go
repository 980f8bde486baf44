package models

// ExerciseRef is a reference to one exercise in a generated workout.
// The full exercise catalog (descriptions, media) lives outside this core.
type ExerciseRef struct {
	ExerciseID string `json:"exercise_id"`
	Name       string `json:"name"`
}

// WorkoutData is the generated interval workout for a lobby. It is empty
// until generation runs and is discarded again if the lobby drops below
// the minimum member count before the workout starts.
type WorkoutData struct {
	Format            string        `json:"format"`
	Exercises         []ExerciseRef `json:"exercises"`
	EstimatedCalories float64       `json:"estimated_calories"`
}

// Empty reports whether no workout has been generated yet.
func (w WorkoutData) Empty() bool {
	return len(w.Exercises) == 0
}

// Clone returns a deep copy of the workout data.
func (w WorkoutData) Clone() WorkoutData {
	out := w
	out.Exercises = make([]ExerciseRef, len(w.Exercises))
	copy(out.Exercises, w.Exercises)
	return out
}

// WorkoutPhase is the current phase of an interval session
type WorkoutPhase string

const (
	PhasePrepare   WorkoutPhase = "prepare"
	PhaseWork      WorkoutPhase = "work"
	PhaseRest      WorkoutPhase = "rest"
	PhaseRoundRest WorkoutPhase = "round_rest"
	PhaseComplete  WorkoutPhase = "complete"
)

// SessionStatus is the run status of an interval session
type SessionStatus string

const (
	SessionStatusReady     SessionStatus = "ready"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
)

// WorkoutPhaseState is the per-device interval session state. In group
// mode it is reconciled against the authoritative copy; in solo mode the
// local clock owns it.
type WorkoutPhaseState struct {
	Phase            WorkoutPhase  `json:"phase"`
	Status           SessionStatus `json:"status"`
	CurrentRound     int           `json:"current_round"`
	CurrentSet       int           `json:"current_set"`
	CurrentExercise  int           `json:"current_exercise"`
	TimeRemainingSec int           `json:"time_remaining_seconds"`
	CaloriesBurned   float64       `json:"calories_burned"`
}

// Terminal reports whether the session has reached its terminal phase.
// No further phase transitions are valid once complete.
func (s WorkoutPhaseState) Terminal() bool {
	return s.Phase == PhaseComplete
}

// ValidateWorkoutPhase validates a workout phase value
func ValidateWorkoutPhase(phase WorkoutPhase) bool {
	switch phase {
	case PhasePrepare, PhaseWork, PhaseRest, PhaseRoundRest, PhaseComplete:
		return true
	default:
		return false
	}
}

// ValidateSessionStatus validates a session status value
func ValidateSessionStatus(status SessionStatus) bool {
	switch status {
	case SessionStatusReady, SessionStatusRunning, SessionStatusPaused, SessionStatusCompleted:
		return true
	default:
		return false
	}
}
