// Package rtpkit builds and parses RFC 3550 RTP packets for the G.711 media
// path. Each call owns one Packetizer for its outbound stream; sequence
// numbers and timestamps are strictly monotonic per stream, with the sequence
// wrapping at 2^16 and the timestamp advancing by exactly one packet's worth
// of samples.
package rtpkit

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// RTP payload types for the codecs the media gateway negotiates.
const (
	PayloadTypePCMU = 0
	PayloadTypePCMA = 8
)

// DefaultSamplesPerPacket is 20 ms at 8 kHz: 160 samples, 160 G.711 bytes.
const DefaultSamplesPerPacket = 160

// headerSize is the fixed RTP header length with no CSRCs or extensions.
const headerSize = 12

// ErrShortPacket is returned by Parse for datagrams below the minimum RTP
// header size.
var ErrShortPacket = errors.New("rtpkit: datagram shorter than RTP header")

// Packet is a parsed inbound RTP packet.
type Packet struct {
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	Marker      bool
	Payload     []byte
}

// Parse decodes an RTP datagram. Datagrams shorter than 12 bytes are rejected
// with ErrShortPacket; anything else malformed is surfaced from the decoder.
func Parse(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	var p rtp.Packet
	if err := p.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("rtpkit: unmarshal: %w", err)
	}
	return &Packet{
		PayloadType: p.PayloadType,
		Sequence:    p.SequenceNumber,
		Timestamp:   p.Timestamp,
		SSRC:        p.SSRC,
		Marker:      p.Marker,
		Payload:     p.Payload,
	}, nil
}

// Packetizer splits encoded G.711 audio into fixed-size RTP packets.
// Safe for concurrent use, though a call's outbound pump is the only
// expected writer.
type Packetizer struct {
	mu               sync.Mutex
	payloadType      uint8
	samplesPerPacket int
	ssrc             uint32
	seq              uint16
	timestamp        uint32
	firstOfSpurt     bool
	packetsSent      uint64
}

// NewPacketizer creates a Packetizer with a random SSRC and random initial
// sequence number and timestamp, per RFC 3550 §5.1.
func NewPacketizer(payloadType uint8, samplesPerPacket int) *Packetizer {
	if samplesPerPacket <= 0 {
		samplesPerPacket = DefaultSamplesPerPacket
	}
	p := &Packetizer{
		payloadType:      payloadType,
		samplesPerPacket: samplesPerPacket,
	}
	p.reseed()
	return p
}

// reseed randomises SSRC, sequence, and timestamp. Must be called with the
// mutex held (or before the packetizer is shared).
func (p *Packetizer) reseed() {
	var b [10]byte
	if _, err := rand.Read(b[:]); err == nil {
		p.ssrc = binary.BigEndian.Uint32(b[0:4])
		p.seq = binary.BigEndian.Uint16(b[4:6])
		p.timestamp = binary.BigEndian.Uint32(b[6:10])
	}
	p.firstOfSpurt = true
}

// SSRC returns the stream's synchronisation source identifier.
func (p *Packetizer) SSRC() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ssrc
}

// PacketsSent returns the number of packets emitted since construction or the
// last Reset.
func (p *Packetizer) PacketsSent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packetsSent
}

// MarkTalkSpurt causes the next emitted packet to carry the RTP marker bit,
// signalling the start of a talk spurt after silence.
func (p *Packetizer) MarkTalkSpurt() {
	p.mu.Lock()
	p.firstOfSpurt = true
	p.mu.Unlock()
}

// BuildPackets splits audio (one encoded byte per sample for G.711) into
// marshalled RTP packets of samplesPerPacket bytes each. A trailing partial
// frame is emitted as a shorter final packet; its timestamp still advances by
// the full packet duration so the stream clock stays aligned.
func (p *Packetizer) BuildPackets(audio []byte) ([][]byte, error) {
	if len(audio) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var out [][]byte
	for off := 0; off < len(audio); off += p.samplesPerPacket {
		end := off + p.samplesPerPacket
		if end > len(audio) {
			end = len(audio)
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         p.firstOfSpurt,
				PayloadType:    p.payloadType,
				SequenceNumber: p.seq,
				Timestamp:      p.timestamp,
				SSRC:           p.ssrc,
			},
			Payload: audio[off:end],
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("rtpkit: marshal: %w", err)
		}
		out = append(out, raw)

		p.firstOfSpurt = false
		p.seq++ // uint16 arithmetic wraps mod 2^16
		p.timestamp += uint32(p.samplesPerPacket)
		p.packetsSent++
	}
	return out, nil
}

// Reset re-randomises the stream identifiers for a new session and clears the
// sent counter.
func (p *Packetizer) Reset() {
	p.mu.Lock()
	p.reseed()
	p.packetsSent = 0
	p.mu.Unlock()
}
