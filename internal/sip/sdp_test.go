package sip

import (
	"strings"
	"testing"

	"github.com/dialcast/dialcast/internal/gateway"
)

const sampleOffer = "v=0\r\n" +
	"o=softphone 123 1 IN IP4 192.168.1.50\r\n" +
	"s=call\r\n" +
	"c=IN IP4 192.168.1.50\r\n" +
	"t=0 0\r\n" +
	"m=audio 20000 RTP/AVP 8 0 101\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n"

func TestParseOfferPrefersPCMU(t *testing.T) {
	offer, err := ParseOffer([]byte(sampleOffer))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if offer.Codec != gateway.CodecPCMU {
		t.Errorf("codec = %s, want PCMU preferred over PCMA", offer.Codec)
	}
	if offer.Remote.IP.String() != "192.168.1.50" || offer.Remote.Port != 20000 {
		t.Errorf("remote = %v", offer.Remote)
	}
}

func TestParseOfferPCMAOnly(t *testing.T) {
	body := strings.Replace(sampleOffer, "m=audio 20000 RTP/AVP 8 0 101", "m=audio 20000 RTP/AVP 8", 1)
	offer, err := ParseOffer([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if offer.Codec != gateway.CodecPCMA {
		t.Errorf("codec = %s, want PCMA", offer.Codec)
	}
}

func TestParseOfferRejectsNoG711(t *testing.T) {
	body := strings.Replace(sampleOffer, "m=audio 20000 RTP/AVP 8 0 101", "m=audio 20000 RTP/AVP 96", 1)
	if _, err := ParseOffer([]byte(body)); err == nil {
		t.Error("expected error when no G.711 format is offered")
	}
}

func TestParseOfferRejectsGarbage(t *testing.T) {
	if _, err := ParseOffer([]byte("not sdp")); err == nil {
		t.Error("expected error for malformed SDP")
	}
}

func TestBuildAnswerRoundTrips(t *testing.T) {
	raw, err := BuildAnswer("10.0.0.5", 10002, gateway.CodecPCMA)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		"c=IN IP4 10.0.0.5",
		"m=audio 10002 RTP/AVP 8",
		"a=rtpmap:8 PCMA/8000",
		"a=ptime:20",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("answer missing %q:\n%s", want, body)
		}
	}

	// Our own answer parses as a valid offer for the chosen codec.
	offer, err := ParseOffer(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if offer.Codec != gateway.CodecPCMA || offer.Remote.Port != 10002 {
		t.Errorf("reparsed = %+v", offer)
	}
}
