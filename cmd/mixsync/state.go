package main

import (
	"sync"
	"time"
)

// StateSnapshot is the externally visible view of the engine.
//
// The watch loop is the only writer (through StateStore). Readers (websocket hub, status
// socket) always receive copies.
type StateSnapshot struct {
	Source    ControlState   `json:"source"`
	Target    ControlState   `json:"target"`
	Mode      MappingMode    `json:"mode"`
	MaxVolume int            `json:"max_volume"`
	Gain      GainParameters `json:"gain"`

	// Last observed source raw value and the value sent to the target for it.
	SourceRaw   int64   `json:"source_raw"`
	SourceKnown bool    `json:"source_known"`
	TargetValue float64 `json:"target_value"`

	Applied uint64 `json:"applied"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`

	LastAppliedAt time.Time `json:"last_applied_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// ControlState describes one side of the synchronization.
type ControlState struct {
	Device  string     `json:"device"`
	Control string     `json:"control"`
	Range   MixerRange `json:"range"`
}

// StateBroadcast is an event published to state subscribers.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastVolumeSynced is published after every successful target write.
type BroadcastVolumeSynced struct {
	SourceRaw   int64
	TargetValue float64
	At          time.Time
}

func (BroadcastVolumeSynced) broadcastMarker() {}

// BroadcastWriteFailed is published when a target write fails.
type BroadcastWriteFailed struct {
	SourceRaw int64
	Error     string
	At        time.Time
}

func (BroadcastWriteFailed) broadcastMarker() {}

// StateStore guards the current snapshot and fans apply outcomes out to one
// broadcast channel. All record methods are no-ops on a nil store.
type StateStore struct {
	mu   sync.Mutex
	snap StateSnapshot

	out chan StateBroadcast
}

// NewStateStore seeds a store with the static parts of the snapshot. buf sizes the
// broadcast channel; 0 disables broadcasting.
func NewStateStore(initial StateSnapshot, buf int) *StateStore {
	s := &StateStore{snap: initial}
	if buf > 0 {
		s.out = make(chan StateBroadcast, buf)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *StateStore) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Broadcasts returns the broadcast channel (nil when disabled).
func (s *StateStore) Broadcasts() <-chan StateBroadcast {
	return s.out
}

func (s *StateStore) recordApplied(raw int64, targetValue float64, at time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.snap.SourceRaw = raw
	s.snap.SourceKnown = true
	s.snap.TargetValue = targetValue
	s.snap.Applied++
	s.snap.LastAppliedAt = at
	s.snap.LastError = ""
	s.mu.Unlock()

	s.emit(BroadcastVolumeSynced{SourceRaw: raw, TargetValue: targetValue, At: at})
}

func (s *StateStore) recordSkipped() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.snap.Skipped++
	s.mu.Unlock()
}

func (s *StateStore) recordFailed(raw int64, err error, at time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.snap.SourceRaw = raw
	s.snap.SourceKnown = true
	s.snap.Failed++
	s.snap.LastError = err.Error()
	s.mu.Unlock()

	s.emit(BroadcastWriteFailed{SourceRaw: raw, Error: err.Error(), At: at})
}

// emit never blocks the watch loop; subscribers that fall behind lose events.
func (s *StateStore) emit(b StateBroadcast) {
	if s.out == nil {
		return
	}
	select {
	case s.out <- b:
	default:
	}
}
