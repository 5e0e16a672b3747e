package models

import "time"

// Unbounded marks a fully relaxed rating or latency window.
const Unbounded = 1 << 30

// WideningStage is one row of the widening schedule.
type WideningStage struct {
	Dwell        time.Duration
	RatingWindow int
	MaxLatencyMs int
}

// DefaultWideningSchedule is the production relaxation table. Stage 0
// applies at enqueue time; the final stage accepts any opponent.
func DefaultWideningSchedule() []WideningStage {
	return []WideningStage{
		{Dwell: 0, RatingWindow: 50, MaxLatencyMs: 150},
		{Dwell: 5 * time.Second, RatingWindow: 100, MaxLatencyMs: 250},
		{Dwell: 15 * time.Second, RatingWindow: 200, MaxLatencyMs: 400},
		{Dwell: 30 * time.Second, RatingWindow: 400, MaxLatencyMs: 600},
		{Dwell: 60 * time.Second, RatingWindow: Unbounded, MaxLatencyMs: Unbounded},
	}
}

// InitialWideningState seeds a fresh ticket at stage 0.
func InitialWideningState(schedule []WideningStage, now time.Time) WideningState {
	stage := schedule[0]
	return WideningState{
		Stage:               0,
		CurrentRatingWindow: stage.RatingWindow,
		CurrentLatencyMs:    stage.MaxLatencyMs,
		LastWidenedAt:       now,
	}
}

// AdvanceWidening moves the state to the next stage once the ticket
// has dwelt long enough. Dwell values in the schedule are cumulative
// from enqueue, so the wait at stage n is dwell[n+1]-dwell[n] since
// the last advance. Windows only grow; an advance that would shrink a
// window keeps the larger value. Returns true when the state changed.
func AdvanceWidening(state *WideningState, schedule []WideningStage, now time.Time) bool {
	next := state.Stage + 1
	if next >= len(schedule) {
		return false
	}

	required := schedule[next].Dwell
	if state.Stage < len(schedule) {
		required -= schedule[state.Stage].Dwell
	}
	if now.Sub(state.LastWidenedAt) < required {
		return false
	}

	state.Stage = next
	if schedule[next].RatingWindow > state.CurrentRatingWindow {
		state.CurrentRatingWindow = schedule[next].RatingWindow
	}
	if schedule[next].MaxLatencyMs > state.CurrentLatencyMs {
		state.CurrentLatencyMs = schedule[next].MaxLatencyMs
	}
	state.LastWidenedAt = now
	return true
}
