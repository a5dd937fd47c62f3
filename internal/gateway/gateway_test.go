package gateway

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dialcast/dialcast/pkg/rtpkit"
)

// recordingHandler collects lifecycle notifications for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	started []CallMetadata
	ended   map[string]string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{ended: make(map[string]string)}
}

func (h *recordingHandler) OnCallStarted(meta CallMetadata) {
	h.mu.Lock()
	h.started = append(h.started, meta)
	h.mu.Unlock()
}

func (h *recordingHandler) OnCallEnded(callID, reason string) {
	h.mu.Lock()
	h.ended[callID] = reason
	h.mu.Unlock()
}

func testMeta(callID string) CallMetadata {
	return CallMetadata{
		CallID:      callID,
		TenantID:    "t1",
		CampaignID:  "camp1",
		LeadID:      "l1",
		PhoneNumber: "+15551234567",
	}
}

func TestUnknownCallIsIgnoredNotError(t *testing.T) {
	g := NewWSGateway(slog.Default(), newRecordingHandler())

	// None of these may panic or error for a call the gateway never saw.
	g.SendAudio("ghost", make([]byte, 640))
	g.ClearOutbound("ghost")
	g.ClearRecordingBuffer("ghost")
	g.SendControl(context.Background(), "ghost", ControlMessage{Type: CtrlPong})
	g.SetBargeIn("ghost", func() {})
	g.EndCall("ghost", "test")

	if q := g.AudioQueue("ghost"); q != nil {
		t.Error("unknown call should yield nil queue")
	}
	if b := g.RecordingBuffer("ghost"); b != nil {
		t.Error("unknown call should yield nil recording buffer")
	}
}

func TestRTPGatewayMediaRoundTrip(t *testing.T) {
	h := newRecordingHandler()
	g := NewRTPGateway(slog.Default(), h, 42000)

	// A local UDP socket plays the remote PBX.
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer socket: %v", err)
	}
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port, err := g.StartCall(ctx, testMeta("c1"), peer.LocalAddr().(*net.UDPAddr), CodecPCMU)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if port < 42000 {
		t.Errorf("allocated port %d below base", port)
	}
	if len(h.started) != 1 || h.started[0].CallID != "c1" {
		t.Fatalf("handler not notified of start: %+v", h.started)
	}

	// Send one 20 ms µ-law frame in; expect a decoded 16 kHz chunk queued.
	pk := rtpkit.NewPacketizer(rtpkit.PayloadTypePCMU, 160)
	frames, err := pk.BuildPackets(make([]byte, 160))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	if _, err := peer.WriteToUDP(frames[0], local); err != nil {
		t.Fatalf("send: %v", err)
	}

	popCtx, popCancel := context.WithTimeout(ctx, 2*time.Second)
	defer popCancel()
	chunk, err := g.AudioQueue("c1").Pop(popCtx)
	if err != nil {
		t.Fatalf("no decoded audio arrived: %v", err)
	}
	// 160 G.711 samples -> 160 PCM samples at 8k -> 320 samples at 16k.
	if len(chunk) != 640 {
		t.Errorf("decoded chunk = %d bytes, want 640", len(chunk))
	}

	// Recording stays at the gateway-native 8 kHz: 160 samples = 320 bytes.
	if got := g.RecordingBuffer("c1").Len(); got != 320 {
		t.Errorf("recording length = %d bytes, want 320", got)
	}
	if got := g.RecordingBuffer("c1").SampleRate(); got != 8000 {
		t.Errorf("recording rate = %d, want 8000", got)
	}

	// Outbound: queue a 16 kHz chunk and expect a valid RTP frame at the peer.
	g.SendAudio("c1", make([]byte, 640))
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("no outbound RTP arrived: %v", err)
	}
	pkt, err := rtpkit.Parse(buf[:n])
	if err != nil {
		t.Fatalf("parse outbound: %v", err)
	}
	if pkt.PayloadType != rtpkit.PayloadTypePCMU {
		t.Errorf("payload type = %d, want PCMU", pkt.PayloadType)
	}
	if len(pkt.Payload) != 160 {
		t.Errorf("payload = %d bytes, want 160 (20 ms)", len(pkt.Payload))
	}

	g.EndCall("c1", "test done")
	h.mu.Lock()
	reason := h.ended["c1"]
	h.mu.Unlock()
	if reason != "test done" {
		t.Errorf("end reason = %q", reason)
	}
	if g.Live() != 0 {
		t.Errorf("live = %d after end", g.Live())
	}
}

func TestRTPGatewayClearOutboundStopsResidualAudio(t *testing.T) {
	h := newRecordingHandler()
	g := NewRTPGateway(slog.Default(), h, 44000)

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer socket: %v", err)
	}
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := g.StartCall(ctx, testMeta("c3"), peer.LocalAddr().(*net.UDPAddr), CodecPCMU); err != nil {
		t.Fatalf("start call: %v", err)
	}

	// One second of 16 kHz audio packetises into 50 paced frames.
	g.SendAudio("c3", make([]byte, 32000))

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	if _, _, err := peer.ReadFromUDP(buf); err != nil {
		t.Fatalf("no outbound RTP arrived: %v", err)
	}
	g.ClearOutbound("c3")

	// Playback must stop within the 100 ms barge-in budget, i.e. at most a
	// few more 20 ms frames may leave after the clear.
	residual := 0
	for {
		_ = peer.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		if _, _, err := peer.ReadFromUDP(buf); err != nil {
			break
		}
		residual++
	}
	if residual > 5 {
		t.Errorf("residual frames after clear = %d (%d ms of audio), want <= 5", residual, residual*20)
	}

	g.EndCall("c3", "done")
}

func TestRTPGatewayRejectsUnknownCodec(t *testing.T) {
	g := NewRTPGateway(slog.Default(), newRecordingHandler(), 43000)
	_, err := g.StartCall(context.Background(), testMeta("c2"),
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}, Codec("OPUS"))
	if err == nil {
		t.Error("expected error for unsupported codec")
	}
}
