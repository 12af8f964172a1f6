// Package live owns the per-connection conversation logic: the state
// machine that arbitrates between user speech and model speech, barge-in
// detection, and the session that ties the WebRTC leg to the upstream
// bridge.
package live

import (
	"sync"
	"time"

	"github.com/atelierlive/atelier/pkg/privacy"
)

// State is the conversation phase of one session.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateAnalyzing   State = "analyzing"
	StateSpeaking    State = "speaking"
	StateInterrupted State = "interrupted"
	StateFatal       State = "fatal"
)

// Action is what the session loop must do after feeding the FSM an
// event. The FSM decides; the session executes.
type Action int

const (
	ActionNone Action = iota
	// ActionOpenTurn starts forwarding user audio upstream.
	ActionOpenTurn
	// ActionCancelTurn cancels the in-flight upstream turn and flushes
	// queued egress audio.
	ActionCancelTurn
	// ActionCloseTurn marks the current turn finished.
	ActionCloseTurn
	// ActionTeardown ends the session.
	ActionTeardown
)

// interruptWindow is how long a detected interruption waits before it
// commits, so a near-simultaneous turn completion can win instead.
const interruptWindow = 50 * time.Millisecond

// Audio-forwarding gate thresholds: consecutive blocked verdicts before
// audio halts, and consecutive clean verdicts before it resumes.
const (
	blockedHaltCount = 3
	cleanResumeCount = 2
)

// FSM is the conversation state machine. All event methods take the
// observation time so the interrupt tie-break is testable without real
// clocks. Safe for concurrent use.
type FSM struct {
	mu    sync.Mutex
	state State

	// Pending interruption awaiting commit or a winning turn_complete.
	interruptPending bool
	interruptAt      time.Time

	// Privacy-wide audio halt bookkeeping.
	blockedRun int
	cleanRun   int
	halted     bool
}

// NewFSM starts in idle.
func NewFSM() *FSM {
	return &FSM{state: StateIdle}
}

// State reports the current phase.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// OnUserAudio records that ingress speech was observed.
func (f *FSM) OnUserAudio(now time.Time) Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateIdle {
		f.state = StateListening
		return ActionOpenTurn
	}
	return ActionNone
}

// OnAnalyze records a client spatial query or the start of an upstream
// response; audio forwarding is suspended until speech begins.
func (f *FSM) OnAnalyze(now time.Time) Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateListening {
		f.state = StateAnalyzing
	}
	return ActionNone
}

// OnUpstreamAudio records the first synthesized audio of a response.
func (f *FSM) OnUpstreamAudio(now time.Time) Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateListening, StateAnalyzing:
		f.state = StateSpeaking
	}
	return ActionNone
}

// OnInterrupt records barge-in or an explicit client interrupt. The
// transition is deferred by the tie-break window; the caller schedules
// CommitInterrupt after PendingInterruptDeadline.
func (f *FSM) OnInterrupt(now time.Time) Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateSpeaking || f.interruptPending {
		return ActionNone
	}
	f.interruptPending = true
	f.interruptAt = now
	return ActionNone
}

// PendingInterruptDeadline reports when a pending interruption commits.
func (f *FSM) PendingInterruptDeadline() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.interruptPending {
		return time.Time{}, false
	}
	return f.interruptAt.Add(interruptWindow), true
}

// CommitInterrupt finalizes a pending interruption once its window has
// passed without a turn completion.
func (f *FSM) CommitInterrupt(now time.Time) Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.interruptPending || f.state != StateSpeaking {
		f.interruptPending = false
		return ActionNone
	}
	if now.Sub(f.interruptAt) < interruptWindow {
		return ActionNone
	}
	f.interruptPending = false
	f.state = StateInterrupted
	return ActionCancelTurn
}

// OnTurnComplete records the upstream finishing a turn. A completion
// inside the interrupt window wins over the interruption.
func (f *FSM) OnTurnComplete(now time.Time) Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateSpeaking, StateAnalyzing:
		if f.interruptPending && now.Sub(f.interruptAt) <= interruptWindow {
			f.interruptPending = false
		}
		f.state = StateIdle
		return ActionCloseTurn
	case StateInterrupted:
		// Upstream confirmed the cancelled turn ended.
		f.state = StateListening
		return ActionOpenTurn
	}
	return ActionNone
}

// OnFatal moves to the terminal state.
func (f *FSM) OnFatal() Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFatal {
		return ActionNone
	}
	f.state = StateFatal
	return ActionTeardown
}

// OnVerdict folds one privacy verdict into the audio-forwarding gate.
// Three consecutive blocks halt audio; two consecutive clean verdicts
// resume it.
func (f *FSM) OnVerdict(kind privacy.VerdictKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == privacy.VerdictBlocked {
		f.blockedRun++
		f.cleanRun = 0
		if f.blockedRun >= blockedHaltCount {
			f.halted = true
		}
		return
	}
	f.cleanRun++
	f.blockedRun = 0
	if f.halted && f.cleanRun >= cleanResumeCount {
		f.halted = false
	}
}

// AudioHalted reports whether the privacy-wide halt is in force.
func (f *FSM) AudioHalted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted
}

// ForwardAudio reports whether ingress audio may go upstream right now:
// the conversation must be in an input phase and the privacy gate open.
func (f *FSM) ForwardAudio() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.halted {
		return false
	}
	switch f.state {
	case StateListening, StateInterrupted:
		return true
	}
	return false
}
