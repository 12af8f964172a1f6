package live

import (
	"testing"
	"time"

	"github.com/atelierlive/atelier/pkg/privacy"
)

func TestFSM_IdleToListeningOpensTurn(t *testing.T) {
	f := NewFSM()
	now := time.Now()

	if act := f.OnUserAudio(now); act != ActionOpenTurn {
		t.Fatalf("action=%v, want open turn", act)
	}
	if f.State() != StateListening {
		t.Fatalf("state=%s", f.State())
	}
	// Further audio while listening is a no-op.
	if act := f.OnUserAudio(now); act != ActionNone {
		t.Fatalf("repeat audio action=%v", act)
	}
}

func TestFSM_ListeningThroughSpeakingToIdle(t *testing.T) {
	f := NewFSM()
	now := time.Now()
	f.OnUserAudio(now)

	f.OnAnalyze(now)
	if f.State() != StateAnalyzing {
		t.Fatalf("state=%s, want analyzing", f.State())
	}
	f.OnUpstreamAudio(now)
	if f.State() != StateSpeaking {
		t.Fatalf("state=%s, want speaking", f.State())
	}
	if act := f.OnTurnComplete(now); act != ActionCloseTurn {
		t.Fatalf("action=%v, want close turn", act)
	}
	if f.State() != StateIdle {
		t.Fatalf("state=%s, want idle", f.State())
	}
}

func TestFSM_UpstreamAudioSkipsAnalyzing(t *testing.T) {
	f := NewFSM()
	now := time.Now()
	f.OnUserAudio(now)
	f.OnUpstreamAudio(now)
	if f.State() != StateSpeaking {
		t.Fatalf("state=%s, want speaking", f.State())
	}
}

func speakingFSM(t *testing.T, now time.Time) *FSM {
	t.Helper()
	f := NewFSM()
	f.OnUserAudio(now)
	f.OnUpstreamAudio(now)
	if f.State() != StateSpeaking {
		t.Fatalf("setup state=%s", f.State())
	}
	return f
}

func TestFSM_InterruptCommitsAfterWindow(t *testing.T) {
	now := time.Now()
	f := speakingFSM(t, now)

	f.OnInterrupt(now)
	if _, ok := f.PendingInterruptDeadline(); !ok {
		t.Fatal("no pending interrupt")
	}
	// Before the window elapses nothing happens.
	if act := f.CommitInterrupt(now.Add(10 * time.Millisecond)); act != ActionNone {
		t.Fatalf("early commit action=%v", act)
	}
	if f.State() != StateSpeaking {
		t.Fatalf("state=%s, want still speaking", f.State())
	}
	// After the window the turn is cancelled.
	if act := f.CommitInterrupt(now.Add(60 * time.Millisecond)); act != ActionCancelTurn {
		t.Fatalf("commit action=%v, want cancel turn", act)
	}
	if f.State() != StateInterrupted {
		t.Fatalf("state=%s, want interrupted", f.State())
	}
	// Upstream confirming the turn end reopens listening.
	if act := f.OnTurnComplete(now.Add(100 * time.Millisecond)); act != ActionOpenTurn {
		t.Fatalf("confirm action=%v, want open turn", act)
	}
	if f.State() != StateListening {
		t.Fatalf("state=%s, want listening", f.State())
	}
}

func TestFSM_TurnCompleteInsideWindowBeatsInterrupt(t *testing.T) {
	now := time.Now()
	f := speakingFSM(t, now)

	f.OnInterrupt(now)
	if act := f.OnTurnComplete(now.Add(30 * time.Millisecond)); act != ActionCloseTurn {
		t.Fatalf("action=%v, want close turn", act)
	}
	if f.State() != StateIdle {
		t.Fatalf("state=%s, want idle", f.State())
	}
	// The pending interruption was discarded.
	if act := f.CommitInterrupt(now.Add(time.Second)); act != ActionNone {
		t.Fatalf("late commit action=%v", act)
	}
	if f.State() != StateIdle {
		t.Fatalf("state=%s after late commit", f.State())
	}
}

func TestFSM_FatalIsTerminal(t *testing.T) {
	f := speakingFSM(t, time.Now())
	if act := f.OnFatal(); act != ActionTeardown {
		t.Fatalf("action=%v, want teardown", act)
	}
	if f.State() != StateFatal {
		t.Fatalf("state=%s", f.State())
	}
	if act := f.OnFatal(); act != ActionNone {
		t.Fatalf("repeat fatal action=%v", act)
	}
	if act := f.OnUserAudio(time.Now()); act != ActionNone {
		t.Fatalf("audio after fatal action=%v", act)
	}
}

func TestFSM_BlockedRunHaltsAndCleanRunResumes(t *testing.T) {
	f := NewFSM()
	f.OnUserAudio(time.Now())
	if !f.ForwardAudio() {
		t.Fatal("listening should forward audio")
	}

	f.OnVerdict(privacy.VerdictBlocked)
	f.OnVerdict(privacy.VerdictBlocked)
	if f.AudioHalted() {
		t.Fatal("halted after only two blocks")
	}
	f.OnVerdict(privacy.VerdictBlocked)
	if !f.AudioHalted() {
		t.Fatal("not halted after three consecutive blocks")
	}
	if f.ForwardAudio() {
		t.Fatal("audio forwarding should be halted")
	}

	f.OnVerdict(privacy.VerdictBlurred)
	if !f.AudioHalted() {
		t.Fatal("resumed after a single clean verdict")
	}
	f.OnVerdict(privacy.VerdictSafe)
	if f.AudioHalted() {
		t.Fatal("still halted after two clean verdicts")
	}
	if !f.ForwardAudio() {
		t.Fatal("audio should forward again")
	}
}

func TestFSM_BlockedRunResetByInterleavedClean(t *testing.T) {
	f := NewFSM()
	f.OnVerdict(privacy.VerdictBlocked)
	f.OnVerdict(privacy.VerdictBlocked)
	f.OnVerdict(privacy.VerdictSafe)
	f.OnVerdict(privacy.VerdictBlocked)
	f.OnVerdict(privacy.VerdictBlocked)
	if f.AudioHalted() {
		t.Fatal("non-consecutive blocks must not halt audio")
	}
}
