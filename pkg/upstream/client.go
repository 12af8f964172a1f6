// Package upstream owns the gateway's relationship with the generative
// service: a live bidirectional session per client (audio in, audio and
// text events out) and a request/response spatial analyzer for stills.
package upstream

import "context"

// EventKind tags an event received from the live service.
type EventKind string

const (
	// EventAudioChunk carries PCM16 audio destined for egress.
	EventAudioChunk EventKind = "audio_chunk"
	// EventTextDelta carries a token of the model's textual stream.
	EventTextDelta EventKind = "text_delta"
	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete EventKind = "turn_complete"
	// EventInterrupted reports that the service itself cut the turn
	// short (server-side voice-activity barge-in).
	EventInterrupted EventKind = "interrupted"
	// EventError carries a terminal session error.
	EventError EventKind = "error"
)

// OutputSampleRate is the PCM16 mono rate the live service synthesizes
// audio at. Egress reframes it to the 16 kHz track rate.
const OutputSampleRate = 24000

// Event is one upstream occurrence, delivered in source order.
type Event struct {
	Kind EventKind
	PCM  []byte
	Text string
	Err  error
}

// LiveSession is one open bidirectional stream with the generative
// service. Implementations must allow Send* and Receive to be called
// from different goroutines.
type LiveSession interface {
	// SendAudio streams one chunk of 16 kHz mono PCM16.
	SendAudio(ctx context.Context, pcm []byte) error
	// SendImage streams one JPEG still.
	SendImage(ctx context.Context, jpegBytes []byte) error
	// EndTurn signals end of user input for the current turn without
	// closing the session.
	EndTurn(ctx context.Context) error
	// Receive blocks until the next event arrives. It returns an error
	// when the session is broken or closed.
	Receive(ctx context.Context) (Event, error)
	Close() error
}

// LiveClient dials live sessions. One session per client connection.
type LiveClient interface {
	Connect(ctx context.Context) (LiveSession, error)
}
