package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/dialcast/dialcast/pkg/audio"
)

// wsSampleRate is the fixed media rate for the WebSocket flavour:
// audio/l16; rate=16000, mono.
const wsSampleRate = 16000

// maxLoggedInvalidFrames caps per-call logging of dropped frames.
const maxLoggedInvalidFrames = 5

// ControlMessage is a JSON text frame on the media WebSocket.
type ControlMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Control message types exchanged with the telephony provider.
const (
	CtrlSessionStart    = "SESSION_START"
	CtrlSessionEnd      = "SESSION_END"
	CtrlTranscriptChunk = "TRANSCRIPT_CHUNK"
	CtrlTurnEnd         = "TURN_END"
	CtrlLLMStart        = "LLM_START"
	CtrlLLMEnd          = "LLM_END"
	CtrlTTSStart        = "TTS_START"
	CtrlTTSEnd          = "TTS_END"
	CtrlError           = "ERROR"
	CtrlPing            = "PING"
	CtrlPong            = "PONG"
	CtrlBargeIn         = "barge_in"
	CtrlTTSInterrupted  = "tts_interrupted"
)

// WSGateway implements Gateway over provider WebSocket media streams.
type WSGateway struct {
	log     *slog.Logger
	handler Handler
	table   *callTable

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewWSGateway creates a WebSocket media gateway.
func NewWSGateway(log *slog.Logger, handler Handler) *WSGateway {
	return &WSGateway{
		log:     log.With("component", "gateway.ws"),
		handler: handler,
		table:   newCallTable(),
		conns:   make(map[string]*websocket.Conn),
	}
}

// ServeCall owns an upgraded media connection for one call: it registers the
// call, notifies the handler, and runs the read and write pumps until the
// connection closes or ctx is cancelled. It blocks for the call's lifetime.
func (g *WSGateway) ServeCall(ctx context.Context, conn *websocket.Conn, meta CallMetadata) {
	cs := g.table.add(meta, wsSampleRate)
	g.mu.Lock()
	g.conns[meta.CallID] = conn
	g.mu.Unlock()

	g.handler.OnCallStarted(meta)
	g.sendControl(ctx, meta.CallID, ControlMessage{Type: CtrlSessionStart})
	g.log.Info("call media attached", "call_id", meta.CallID, "tenant_id", meta.TenantID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.writePump(ctx, conn, cs)
	}()

	reason := g.readPump(ctx, conn, cs)

	cancel()
	wg.Wait()

	g.mu.Lock()
	delete(g.conns, meta.CallID)
	g.mu.Unlock()
	g.table.remove(meta.CallID)

	g.handler.OnCallEnded(meta.CallID, reason)
	g.log.Info("call media detached", "call_id", meta.CallID, "reason", reason,
		"invalid_frames", cs.invalidFrames, "input_dropped", cs.input.Dropped())
}

// readPump consumes frames until the peer closes. Binary frames are validated
// L16/16k audio; invalid frames are dropped and counted, never fatal. Text
// frames are control messages.
func (g *WSGateway) readPump(ctx context.Context, conn *websocket.Conn, cs *callState) string {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "cancelled"
			}
			return "peer closed"
		}

		switch typ {
		case websocket.MessageBinary:
			if err := audio.ValidateChunk(data, wsSampleRate); err != nil || len(data) == 0 {
				if len(data) == 0 {
					continue // empty chunks are valid and ignored
				}
				cs.invalidFrames++
				if cs.invalidFrames <= maxLoggedInvalidFrames {
					g.log.Warn("dropping invalid media frame",
						"call_id", cs.meta.CallID, "bytes", len(data), "error", err)
				}
				continue
			}
			cs.recording.Append(data)
			cs.input.Push(data)

		case websocket.MessageText:
			var msg ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case CtrlSessionEnd:
				return "session end"
			case CtrlPing:
				g.sendControl(ctx, cs.meta.CallID, ControlMessage{Type: CtrlPong})
			case CtrlBargeIn:
				// The provider's own VAD spoke up before ours. The hook
				// aborts the active synthesis; without one, still flush
				// queued audio and tell the peer to dump its playout
				// buffer.
				if fn := g.table.bargeInHook(cs.meta.CallID); fn != nil {
					fn()
					continue
				}
				cs.output.Drain()
				g.sendControl(ctx, cs.meta.CallID, ControlMessage{Type: CtrlTTSInterrupted})
			}
		}
	}
}

// writePump streams queued outbound PCM to the peer as binary frames.
func (g *WSGateway) writePump(ctx context.Context, conn *websocket.Conn, cs *callState) {
	for {
		chunk, err := cs.output.Pop(ctx)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return
		}
	}
}

// SendAudio implements Gateway. The gateway-native rate already matches the
// pipeline rate, so chunks pass through unchanged.
func (g *WSGateway) SendAudio(callID string, pcm []byte) {
	cs := g.table.get(callID)
	if cs == nil || len(pcm) == 0 {
		return
	}
	cs.output.Push(pcm)
}

// SendControl implements Gateway, delivering a JSON control frame to the
// provider best-effort.
func (g *WSGateway) SendControl(ctx context.Context, callID string, msg ControlMessage) {
	g.sendControl(ctx, callID, msg)
}

// SetBargeIn implements Gateway.
func (g *WSGateway) SetBargeIn(callID string, fn func()) {
	g.table.setBargeIn(callID, fn)
}

func (g *WSGateway) sendControl(ctx context.Context, callID string, msg ControlMessage) {
	g.mu.Lock()
	conn := g.conns[callID]
	g.mu.Unlock()
	if conn == nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, raw)
}

// AudioQueue implements Gateway.
func (g *WSGateway) AudioQueue(callID string) *BoundedQueue {
	cs := g.table.get(callID)
	if cs == nil {
		return nil
	}
	return cs.input
}

// ClearOutbound implements Gateway.
func (g *WSGateway) ClearOutbound(callID string) {
	if cs := g.table.get(callID); cs != nil {
		cs.output.Drain()
	}
}

// RecordingBuffer implements Gateway.
func (g *WSGateway) RecordingBuffer(callID string) *audio.RecordingBuffer {
	cs := g.table.get(callID)
	if cs == nil {
		return nil
	}
	return cs.recording
}

// ClearRecordingBuffer implements Gateway.
func (g *WSGateway) ClearRecordingBuffer(callID string) {
	if cs := g.table.get(callID); cs != nil {
		cs.recording.Reset()
	}
}

// EndCall implements Gateway. Closing the connection unwinds ServeCall, which
// performs the actual cleanup.
func (g *WSGateway) EndCall(callID string, reason string) {
	g.mu.Lock()
	conn := g.conns[callID]
	g.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
}

// Live returns the number of attached calls.
func (g *WSGateway) Live() int { return g.table.len() }

var _ Gateway = (*WSGateway)(nil)
