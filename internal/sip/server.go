// Package sip runs the minimal SIP endpoint for the RTP telephony flavour:
// REGISTER is acknowledged without credential validation (local testing
// only), INVITE answers 200 OK with an SDP offering G.711 and attaches an
// RTP media session, BYE tears the call down, OPTIONS answers keepalives.
package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/gateway"
)

// Config configures the SIP endpoint.
type Config struct {
	// ListenAddr is the SIP UDP bind address, e.g. "0.0.0.0:5060".
	ListenAddr string
	// AdvertiseAddr is the IP written into SDP answers.
	AdvertiseAddr string
	// TenantID and CampaignID tag calls arriving over SIP, which carry no
	// campaign context of their own.
	TenantID   string
	CampaignID string
}

// Server is the SIP signalling endpoint in front of the RTP gateway.
type Server struct {
	cfg    Config
	log    *slog.Logger
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	media  *gateway.RTPGateway
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	calls map[string]string // SIP Call-ID -> internal call ID
}

// NewServer creates the SIP endpoint. media handles the actual audio.
func NewServer(cfg Config, media *gateway.RTPGateway, log *slog.Logger) (*Server, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent("Dialcast"))
	if err != nil {
		return nil, fmt.Errorf("sip: create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sip: create server: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		log:   log.With("component", "sip"),
		ua:    ua,
		srv:   srv,
		media: media,
		calls: make(map[string]string),
	}
	srv.OnRegister(s.handleRegister)
	srv.OnInvite(s.handleInvite)
	srv.OnAck(s.handleACK)
	srv.OnBye(s.handleBye)
	srv.OnOptions(s.handleOptions)
	return s, nil
}

// Start begins listening on UDP. Non-blocking; listener errors are logged.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("sip listener starting", "addr", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(ctx, "udp", s.cfg.ListenAddr); err != nil {
			s.log.Error("sip listener stopped", "error", err)
		}
	}()
}

// Stop shuts the endpoint down and waits for the listener.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = s.srv.Close()
	_ = s.ua.Close()
	s.log.Info("sip server stopped")
}

// handleRegister acknowledges registration without validating credentials.
// Local-testing behaviour only; never expose this endpoint publicly.
func (s *Server) handleRegister(req *sip.Request, tx sip.ServerTransaction) {
	s.log.Debug("sip register", "from", req.From().Address.User, "source", req.Source())
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		s.log.Error("respond to register", "error", err)
	}
}

// handleInvite answers an incoming call: parse the SDP offer, attach an RTP
// media session, and answer 200 OK with our SDP.
func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	sipCallID := ""
	if cid := req.CallID(); cid != nil {
		sipCallID = cid.Value()
	}

	offer, err := ParseOffer(req.Body())
	if err != nil {
		s.log.Warn("rejecting invite", "call_id", sipCallID, "error", err)
		res := sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil)
		_ = tx.Respond(res)
		return
	}

	callID := uuid.NewString()
	meta := gateway.CallMetadata{
		CallID:      callID,
		TenantID:    s.cfg.TenantID,
		CampaignID:  s.cfg.CampaignID,
		PhoneNumber: req.From().Address.User,
	}
	port, err := s.media.StartCall(context.Background(), meta, offer.Remote, offer.Codec)
	if err != nil {
		s.log.Error("starting media", "call_id", sipCallID, "error", err)
		res := sip.NewResponseFromRequest(req, 500, "Server Internal Error", nil)
		_ = tx.Respond(res)
		return
	}

	answer, err := BuildAnswer(s.cfg.AdvertiseAddr, port, offer.Codec)
	if err != nil {
		s.media.EndCall(callID, "sdp answer failed")
		res := sip.NewResponseFromRequest(req, 500, "Server Internal Error", nil)
		_ = tx.Respond(res)
		return
	}

	s.mu.Lock()
	s.calls[sipCallID] = callID
	s.mu.Unlock()

	res := sip.NewResponseFromRequest(req, 200, "OK", answer)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(res); err != nil {
		s.log.Error("respond to invite", "error", err)
		s.media.EndCall(callID, "invite response failed")
		return
	}
	s.log.Info("call answered", "sip_call_id", sipCallID, "call_id", callID,
		"media_port", port, "codec", offer.Codec)
}

// handleACK confirms the dialog. ACK is non-transactional; nothing to send.
func (s *Server) handleACK(req *sip.Request, _ sip.ServerTransaction) {
	if cid := req.CallID(); cid != nil {
		s.log.Debug("sip ack", "call_id", cid.Value())
	}
}

// handleBye ends the call's media session and answers 200.
func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	sipCallID := ""
	if cid := req.CallID(); cid != nil {
		sipCallID = cid.Value()
	}

	s.mu.Lock()
	callID := s.calls[sipCallID]
	delete(s.calls, sipCallID)
	s.mu.Unlock()

	if callID != "" {
		s.media.EndCall(callID, "peer sent BYE")
	}
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		s.log.Error("respond to bye", "error", err)
	}
}

// handleOptions answers keepalive pings.
func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, REGISTER, OPTIONS"))
	if err := tx.Respond(res); err != nil {
		s.log.Error("respond to options", "error", err)
	}
}
