// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/dialcast/dialcast/pkg/audio"
	"github.com/dialcast/dialcast/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// maxLoggedDrops caps how many malformed chunks a session logs before
	// going quiet; the drop counter keeps counting.
	maxLoggedDrops = 5
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithUserAgent sets the User-Agent header sent on the WebSocket dial.
func WithUserAgent(ua string) Option {
	return func(p *Provider) {
		p.userAgent = ua
	}
}

// WithLogger sets the logger used by sessions for drop reporting.
func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) {
		p.log = log
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey    string
	model     string
	language  string
	userAgent string
	log       *slog.Logger
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Language, and cfg.Model.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	if p.userAgent != "" {
		headers.Set("User-Agent", p.userAgent)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	sess := &session{
		conn:       conn,
		sampleRate: sr,
		log:        p.log.With("component", "stt.deepgram"),
		events:     make(chan stt.Event, 64),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	// VAD events give us SpeechStarted, which drives barge-in.
	q.Set("vad_events", "true")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse covers the Results, SpeechStarted, and UtteranceEnd message
// shapes; Type discriminates.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn       *websocket.Conn
	sampleRate int
	log        *slog.Logger

	events chan stt.Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	dropMu  sync.Mutex
	dropped int
}

// SendAudio validates and queues a PCM audio chunk for delivery to Deepgram.
// Malformed chunks are dropped, not surfaced as errors: the stream must keep
// flowing even when a gateway misbehaves.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}

	if err := audio.ValidateChunk(chunk, s.sampleRate); err != nil {
		s.recordDrop(err, len(chunk))
		return nil
	}
	if len(chunk) == 0 {
		return nil
	}

	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// recordDrop counts a dropped chunk and logs the first few per session.
func (s *session) recordDrop(err error, size int) {
	s.dropMu.Lock()
	s.dropped++
	n := s.dropped
	s.dropMu.Unlock()
	if n <= maxLoggedDrops {
		s.log.Warn("dropping malformed audio chunk",
			"error", err, "bytes", size, "dropped_total", n)
	}
}

// DroppedChunks returns the number of chunks rejected by validation.
func (s *session) DroppedChunks() int {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	return s.dropped
}

// Events returns the session's ordered event stream.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before tearing down.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain queued audio before exiting so the flush is complete.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them as Events.
// When the connection drops it emits EventStreamClosed so the pipeline can
// finalise the current turn from the last partial.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.emit(stt.Event{Type: stt.EventStreamClosed})
			return
		}

		ev, ok := parseResponse(msg)
		if !ok {
			continue
		}
		s.emit(ev)
	}
}

// emit delivers an event unless the session is closing.
func (s *session) emit(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// parseResponse parses a raw Deepgram WebSocket message into an Event.
// Returns (Event, true) on success, or (zero, false) if the message should be
// ignored.
func parseResponse(data []byte) (stt.Event, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Event{}, false
	}

	switch resp.Type {
	case "SpeechStarted":
		return stt.Event{Type: stt.EventStartOfTurn}, true
	case "Results":
		if len(resp.Channel.Alternatives) == 0 {
			return stt.Event{}, false
		}
		text := resp.Channel.Alternatives[0].Transcript
		if text == "" {
			return stt.Event{}, false
		}
		if resp.IsFinal {
			return stt.Event{Type: stt.EventFinal, Text: text}, true
		}
		return stt.Event{Type: stt.EventPartial, Text: text}, true
	default:
		return stt.Event{}, false
	}
}

var _ stt.Provider = (*Provider)(nil)
var _ stt.SessionHandle = (*session)(nil)
