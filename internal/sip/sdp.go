package sip

import (
	"errors"
	"fmt"
	"net"
	"time"

	psdp "github.com/pion/sdp/v3"

	"github.com/dialcast/dialcast/internal/gateway"
)

// MediaOffer is the part of a peer's SDP offer the media path needs.
type MediaOffer struct {
	Remote *net.UDPAddr
	Codec  gateway.Codec
}

// ParseOffer extracts the remote media endpoint and picks a codec from an
// SDP offer. PCMU is preferred when both companding laws are offered.
func ParseOffer(body []byte) (*MediaOffer, error) {
	var desc psdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("sip: parse sdp offer: %w", err)
	}

	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}

	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "audio" {
			continue
		}
		if addr == "" && m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
			addr = m.ConnectionInformation.Address.Address
		}
		if addr == "" {
			return nil, errors.New("sip: sdp offer has no connection address")
		}

		codec := gateway.Codec("")
		for _, f := range m.MediaName.Formats {
			switch f {
			case "0":
				codec = gateway.CodecPCMU
			case "8":
				if codec == "" {
					codec = gateway.CodecPCMA
				}
			}
			if codec == gateway.CodecPCMU {
				break
			}
		}
		if codec == "" {
			return nil, errors.New("sip: sdp offer has no G.711 codec")
		}

		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, fmt.Errorf("sip: bad media address %q", addr)
		}
		return &MediaOffer{
			Remote: &net.UDPAddr{IP: ip, Port: m.MediaName.Port.Value},
			Codec:  codec,
		}, nil
	}
	return nil, errors.New("sip: sdp offer has no audio media")
}

// BuildAnswer renders the SDP answer for the chosen local media port and
// codec.
func BuildAnswer(localAddr string, localPort int, codec gateway.Codec) ([]byte, error) {
	format := "0"
	rtpmap := "0 PCMU/8000"
	if codec == gateway.CodecPCMA {
		format = "8"
		rtpmap = "8 PCMA/8000"
	}

	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "dialcast",
			SessionID:      uint64(time.Now().Unix()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localAddr,
		},
		SessionName: "Dialcast Media Session",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: localAddr},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: localPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{format},
				},
				Attributes: []psdp.Attribute{
					{Key: "rtpmap", Value: rtpmap},
					{Key: "ptime", Value: "20"},
					{Key: "sendrecv"},
				},
			},
		},
	}

	raw, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("sip: marshal sdp answer: %w", err)
	}
	return raw, nil
}
