package rtpkit

import (
	"errors"
	"testing"
)

func TestBuildPacketsMonotonic(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMU, 160)

	// 10 full frames of G.711.
	audio := make([]byte, 1600)
	raw, err := p.BuildPackets(audio)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(raw) != 10 {
		t.Fatalf("got %d packets, want 10", len(raw))
	}

	var prev *Packet
	for i, data := range raw {
		pkt, err := Parse(data)
		if err != nil {
			t.Fatalf("parse packet %d: %v", i, err)
		}
		if len(pkt.Payload) != 160 {
			t.Errorf("packet %d payload = %d bytes, want 160", i, len(pkt.Payload))
		}
		if prev != nil {
			if pkt.Sequence != prev.Sequence+1 {
				t.Errorf("packet %d: seq %d after %d, want +1", i, pkt.Sequence, prev.Sequence)
			}
			if pkt.Timestamp != prev.Timestamp+160 {
				t.Errorf("packet %d: ts %d after %d, want +160", i, pkt.Timestamp, prev.Timestamp)
			}
			if pkt.SSRC != prev.SSRC {
				t.Errorf("packet %d: SSRC changed mid-stream", i)
			}
		}
		prev = pkt
	}
}

func TestSequenceWrapsModulo16Bits(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMA, 160)
	p.mu.Lock()
	p.seq = 0xFFFF
	p.mu.Unlock()

	raw, err := p.BuildPackets(make([]byte, 320))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	first, _ := Parse(raw[0])
	second, _ := Parse(raw[1])
	if first.Sequence != 0xFFFF {
		t.Fatalf("first seq = %d, want 65535", first.Sequence)
	}
	if second.Sequence != 0 {
		t.Errorf("second seq = %d, want 0 (wrapped)", second.Sequence)
	}
}

func TestMarkerOnTalkSpurtStart(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMU, 160)

	raw, _ := p.BuildPackets(make([]byte, 480))
	first, _ := Parse(raw[0])
	second, _ := Parse(raw[1])
	if !first.Marker {
		t.Error("first packet of a new stream should carry the marker bit")
	}
	if second.Marker {
		t.Error("marker bit should clear after the first packet")
	}

	p.MarkTalkSpurt()
	raw, _ = p.BuildPackets(make([]byte, 160))
	next, _ := Parse(raw[0])
	if !next.Marker {
		t.Error("packet after MarkTalkSpurt should carry the marker bit")
	}
}

func TestParseRejectsShortDatagram(t *testing.T) {
	if _, err := Parse(make([]byte, 11)); !errors.Is(err, ErrShortPacket) {
		t.Errorf("err = %v, want ErrShortPacket", err)
	}
}

func TestBuildPacketsEmptyInput(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMU, 160)
	raw, err := p.BuildPackets(nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("got %d packets for empty input, want 0", len(raw))
	}
}

func TestTrailingPartialFrame(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMU, 160)
	raw, err := p.BuildPackets(make([]byte, 200))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("got %d packets, want 2", len(raw))
	}
	last, _ := Parse(raw[1])
	if len(last.Payload) != 40 {
		t.Errorf("trailing payload = %d bytes, want 40", len(last.Payload))
	}
}

func TestResetRerandomisesStream(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMU, 160)
	before := p.SSRC()
	if _, err := p.BuildPackets(make([]byte, 160)); err != nil {
		t.Fatalf("build: %v", err)
	}

	p.Reset()
	if p.PacketsSent() != 0 {
		t.Errorf("packets sent after reset = %d, want 0", p.PacketsSent())
	}
	// A collision is possible but vanishingly unlikely.
	if p.SSRC() == before {
		t.Log("SSRC unchanged after reset (possible but improbable)")
	}
}
