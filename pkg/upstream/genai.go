package upstream

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// pcmMIMEType is the realtime audio format the live service expects.
const pcmMIMEType = "audio/pcm;rate=16000"

// GenAIConfig configures the generative-service client.
type GenAIConfig struct {
	APIKey       string
	LiveModel    string
	SpatialModel string
	// SystemInstruction seeds the live session's behavior.
	SystemInstruction string
}

// GenAI adapts the google genai SDK to the gateway's LiveClient and
// SurfaceAnalyzer interfaces. All SDK surface is contained here so the
// rest of the gateway depends only on the interfaces.
type GenAI struct {
	client *genai.Client
	cfg    GenAIConfig
}

// NewGenAI creates a client against the Gemini API backend.
func NewGenAI(ctx context.Context, cfg GenAIConfig) (*GenAI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: create client: %w", err)
	}
	return &GenAI{client: client, cfg: cfg}, nil
}

// Connect implements LiveClient.
func (g *GenAI) Connect(ctx context.Context) (LiveSession, error) {
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if g.cfg.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: g.cfg.SystemInstruction}},
		}
	}
	session, err := g.client.Live.Connect(ctx, g.cfg.LiveModel, config)
	if err != nil {
		return nil, fmt.Errorf("upstream: live connect: %w", err)
	}
	return &genaiSession{session: session}, nil
}

// genaiSession wraps one SDK live session behind the LiveSession
// interface. The SDK serializes its own writes; reads happen on the
// bridge's receive goroutine only.
type genaiSession struct {
	session *genai.Session

	// pending holds events decoded from a server message that carried
	// more than one (for example audio parts plus turn_complete); they
	// are replayed before the next Receive hits the wire.
	pending []Event
}

func (s *genaiSession) SendAudio(_ context.Context, pcm []byte) error {
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: pcmMIMEType},
	})
	if err != nil {
		return fmt.Errorf("upstream: send audio: %w", err)
	}
	return nil
}

func (s *genaiSession) SendImage(_ context.Context, jpegBytes []byte) error {
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: jpegBytes, MIMEType: "image/jpeg"},
	})
	if err != nil {
		return fmt.Errorf("upstream: send image: %w", err)
	}
	return nil
}

func (s *genaiSession) EndTurn(_ context.Context) error {
	if err := s.session.SendRealtimeInput(endOfTurnInput()); err != nil {
		return fmt.Errorf("upstream: end turn: %w", err)
	}
	return nil
}

// endOfTurnInput closes the user's audio stream for the current turn
// without tearing the session down.
func endOfTurnInput() genai.LiveRealtimeInput {
	return genai.LiveRealtimeInput{AudioStreamEnd: true}
}

func (s *genaiSession) Receive(ctx context.Context) (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		msg, err := s.session.Receive()
		if err != nil {
			return Event{}, fmt.Errorf("upstream: receive: %w", err)
		}
		s.pending = decodeServerMessage(msg)
	}
}

func (s *genaiSession) Close() error {
	return s.session.Close()
}

// decodeServerMessage flattens one server message into gateway events,
// preserving the order parts appear on the wire.
func decodeServerMessage(msg *genai.LiveServerMessage) []Event {
	if msg == nil || msg.ServerContent == nil {
		return nil
	}
	var events []Event
	content := msg.ServerContent

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				events = append(events, Event{Kind: EventAudioChunk, PCM: part.InlineData.Data})
			}
			if part.Text != "" {
				events = append(events, Event{Kind: EventTextDelta, Text: part.Text})
			}
		}
	}
	if content.Interrupted {
		events = append(events, Event{Kind: EventInterrupted})
	}
	if content.TurnComplete {
		events = append(events, Event{Kind: EventTurnComplete})
	}
	return events
}
