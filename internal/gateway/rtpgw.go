package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dialcast/dialcast/pkg/audio"
	"github.com/dialcast/dialcast/pkg/rtpkit"
)

// rtpSampleRate is the G.711 media rate; recordings on this path stay at 8 kHz.
const rtpSampleRate = 8000

// rtpFrameBytes is 20 ms of G.711 at 8 kHz.
const rtpFrameBytes = 160

// Codec selects the G.711 companding law for a call.
type Codec string

const (
	CodecPCMU Codec = "PCMU"
	CodecPCMA Codec = "PCMA"
)

// rtpCall is the runtime state of one RTP media session.
type rtpCall struct {
	state      *callState
	conn       *net.UDPConn
	remote     *net.UDPAddr
	codec      Codec
	packetizer *rtpkit.Packetizer
	cancel     context.CancelFunc

	// clearGen is bumped by ClearOutbound; the send loop drops its in-flight
	// packets when the generation it built them under is stale.
	clearGen atomic.Uint64

	packetsReceived uint64
}

// RTPGateway implements Gateway over per-call UDP media sockets.
type RTPGateway struct {
	log     *slog.Logger
	handler Handler
	table   *callTable

	mu       sync.Mutex
	calls    map[string]*rtpCall
	basePort int
	nextPort int
}

// NewRTPGateway creates an RTP media gateway allocating local media ports
// upward from basePort.
func NewRTPGateway(log *slog.Logger, handler Handler, basePort int) *RTPGateway {
	if basePort <= 0 {
		basePort = 10000
	}
	return &RTPGateway{
		log:      log.With("component", "gateway.rtp"),
		handler:  handler,
		table:    newCallTable(),
		calls:    make(map[string]*rtpCall),
		basePort: basePort,
		nextPort: basePort,
	}
}

// StartCall binds a local media port for the call and begins pumping media
// to/from the remote endpoint. It returns the allocated local port for the
// SDP answer. Non-blocking; media pumps run until EndCall or ctx cancel.
func (g *RTPGateway) StartCall(ctx context.Context, meta CallMetadata, remote *net.UDPAddr, codec Codec) (int, error) {
	if codec != CodecPCMU && codec != CodecPCMA {
		return 0, fmt.Errorf("gateway: unsupported codec %q", codec)
	}

	conn, port, err := g.bindNextPort()
	if err != nil {
		return 0, err
	}

	pt := uint8(rtpkit.PayloadTypePCMU)
	if codec == CodecPCMA {
		pt = rtpkit.PayloadTypePCMA
	}

	cs := g.table.add(meta, rtpSampleRate)
	ctx, cancel := context.WithCancel(ctx)
	rc := &rtpCall{
		state:      cs,
		conn:       conn,
		remote:     remote,
		codec:      codec,
		packetizer: rtpkit.NewPacketizer(pt, rtpFrameBytes),
		cancel:     cancel,
	}
	g.mu.Lock()
	g.calls[meta.CallID] = rc
	g.mu.Unlock()

	g.handler.OnCallStarted(meta)
	g.log.Info("rtp media started", "call_id", meta.CallID, "local_port", port,
		"remote", remote.String(), "codec", codec)

	go g.readLoop(ctx, rc)
	go g.sendLoop(ctx, rc)
	return port, nil
}

// bindNextPort scans upward from the rotating port cursor until a UDP bind
// succeeds. A small scan window tolerates ports still draining from recently
// ended calls.
func (g *RTPGateway) bindNextPort() (*net.UDPConn, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < 1000; i++ {
		port := g.nextPort
		g.nextPort++
		if g.nextPort >= g.basePort+10000 {
			g.nextPort = g.basePort
		}
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("gateway: no free media port above %d", g.basePort)
}

// readLoop pumps inbound datagrams: parse RTP, decode G.711, record at 8 kHz,
// resample to 16 kHz, queue for STT. Malformed datagrams are dropped.
func (g *RTPGateway) readLoop(ctx context.Context, rc *rtpCall) {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = rc.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := rc.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if n <= 12 { // below the RTP header minimum
			continue
		}

		pkt, err := rtpkit.Parse(buf[:n])
		if err != nil || len(pkt.Payload) == 0 {
			continue
		}
		rc.packetsReceived++

		var pcm8k []byte
		if rc.codec == CodecPCMA {
			pcm8k = audio.DecodeALaw(pkt.Payload)
		} else {
			pcm8k = audio.DecodeMuLaw(pkt.Payload)
		}

		rc.state.recording.Append(pcm8k)

		pcm16k, err := audio.Resample(pcm8k, rtpSampleRate, wsSampleRate)
		if err != nil {
			continue
		}
		rc.state.input.Push(pcm16k)
	}
}

// sendLoop drains the outbound queue: resample 16→8 kHz, encode G.711,
// packetise into 20 ms frames, and send them paced on the RTP clock so the
// remote jitter buffer is never flooded.
func (g *RTPGateway) sendLoop(ctx context.Context, rc *rtpCall) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var pending [][]byte
	var gen uint64
	for {
		if len(pending) == 0 {
			gen = rc.clearGen.Load()
			chunk, err := rc.state.output.Pop(ctx)
			if err != nil {
				return
			}
			encoded, err := g.encode(rc.codec, chunk)
			if err != nil {
				continue
			}
			rc.packetizer.MarkTalkSpurt()
			pkts, err := rc.packetizer.BuildPackets(encoded)
			if err != nil {
				continue
			}
			pending = pkts
		}

		select {
		case <-ticker.C:
			// A barge-in clear invalidates anything packetised before it.
			if rc.clearGen.Load() != gen {
				pending = nil
				continue
			}
			if _, err := rc.conn.WriteToUDP(pending[0], rc.remote); err != nil {
				return
			}
			pending = pending[1:]
		case <-ctx.Done():
			return
		}
	}
}

// encode converts 16 kHz pipeline PCM to G.711 at 8 kHz.
func (g *RTPGateway) encode(codec Codec, pcm16k []byte) ([]byte, error) {
	pcm8k, err := audio.Resample(pcm16k, wsSampleRate, rtpSampleRate)
	if err != nil {
		return nil, err
	}
	if codec == CodecPCMA {
		return audio.EncodeALaw(pcm8k)
	}
	return audio.EncodeMuLaw(pcm8k)
}

// SendAudio implements Gateway.
func (g *RTPGateway) SendAudio(callID string, pcm []byte) {
	cs := g.table.get(callID)
	if cs == nil || len(pcm) == 0 {
		return
	}
	cs.output.Push(pcm)
}

// AudioQueue implements Gateway.
func (g *RTPGateway) AudioQueue(callID string) *BoundedQueue {
	cs := g.table.get(callID)
	if cs == nil {
		return nil
	}
	return cs.input
}

// ClearOutbound implements Gateway. Invalidating the send loop's in-flight
// packets first means at most one more 20 ms frame leaves after the clear,
// well inside the barge-in playback-stop budget.
func (g *RTPGateway) ClearOutbound(callID string) {
	g.mu.Lock()
	rc := g.calls[callID]
	g.mu.Unlock()
	if rc == nil {
		return
	}
	rc.clearGen.Add(1)
	rc.state.output.Drain()
}

// SendControl implements Gateway. RTP carries no control channel; events are
// dropped.
func (g *RTPGateway) SendControl(context.Context, string, ControlMessage) {}

// SetBargeIn implements Gateway. The hook is stored for interface parity but
// never fires: RTP peers have no out-of-band barge-in signal, so this path
// relies on start-of-turn detection alone.
func (g *RTPGateway) SetBargeIn(callID string, fn func()) {
	g.table.setBargeIn(callID, fn)
}

// RecordingBuffer implements Gateway. RTP recordings stay at the 8 kHz
// gateway-native rate.
func (g *RTPGateway) RecordingBuffer(callID string) *audio.RecordingBuffer {
	cs := g.table.get(callID)
	if cs == nil {
		return nil
	}
	return cs.recording
}

// ClearRecordingBuffer implements Gateway.
func (g *RTPGateway) ClearRecordingBuffer(callID string) {
	if cs := g.table.get(callID); cs != nil {
		cs.recording.Reset()
	}
}

// EndCall implements Gateway.
func (g *RTPGateway) EndCall(callID string, reason string) {
	g.mu.Lock()
	rc := g.calls[callID]
	delete(g.calls, callID)
	g.mu.Unlock()
	if rc == nil {
		return
	}
	rc.cancel()
	_ = rc.conn.Close()
	g.table.remove(callID)
	g.handler.OnCallEnded(callID, reason)
	g.log.Info("rtp media ended", "call_id", callID, "reason", reason,
		"packets_received", rc.packetsReceived, "packets_sent", rc.packetizer.PacketsSent())
}

// Live returns the number of active media sessions.
func (g *RTPGateway) Live() int { return g.table.len() }

var _ Gateway = (*RTPGateway)(nil)
