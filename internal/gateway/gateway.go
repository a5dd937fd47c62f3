// Package gateway bridges telephony media channels to the voice pipeline.
// Two flavours exist behind one contract: a WebSocket gateway for cloud
// telephony streaming 16 kHz linear PCM, and an RTP gateway for PBX/softphone
// peers streaming G.711 over UDP. Either way the pipeline sees 16 kHz PCM in
// a bounded input queue and writes 16 kHz PCM out.
package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/dialcast/dialcast/pkg/audio"
)

// ErrUnknownCall is returned by operations that require a live call the
// gateway does not know. Audio paths deliberately do NOT return it: audio for
// an unknown or closed call is dropped silently, because media races call
// teardown by design.
var ErrUnknownCall = errors.New("gateway: unknown call")

// CallMetadata describes a starting call.
type CallMetadata struct {
	CallID      string
	TenantID    string
	CampaignID  string
	LeadID      string
	PhoneNumber string
}

// Handler receives call lifecycle notifications from a gateway.
type Handler interface {
	// OnCallStarted fires when the media channel for a call opens.
	OnCallStarted(meta CallMetadata)
	// OnCallEnded fires when the media channel closes; reason is
	// human-readable.
	OnCallEnded(callID, reason string)
}

// Gateway is the contract both media gateways implement.
type Gateway interface {
	// SendAudio queues 16 kHz mono S16 PCM for the callee. Sends on an
	// unknown or closed call are dropped.
	SendAudio(callID string, pcm []byte)

	// AudioQueue returns the call's bounded queue of decoded 16 kHz PCM
	// chunks, or nil for unknown calls.
	AudioQueue(callID string) *BoundedQueue

	// ClearOutbound discards queued outbound audio. Used on barge-in.
	ClearOutbound(callID string)

	// SendControl emits a JSON control event to the peer, best-effort.
	// Gateways without a control channel drop it.
	SendControl(ctx context.Context, callID string, msg ControlMessage)

	// SetBargeIn registers fn to run when the peer signals barge-in on the
	// control channel. At most one hook per call; later calls replace it.
	SetBargeIn(callID string, fn func())

	// RecordingBuffer returns the call's recording buffer at the
	// gateway-native rate, or nil for unknown calls.
	RecordingBuffer(callID string) *audio.RecordingBuffer

	// ClearRecordingBuffer resets the call's recording buffer.
	ClearRecordingBuffer(callID string)

	// EndCall tears down the call's media resources.
	EndCall(callID string, reason string)
}

// callState is the per-call bookkeeping both gateways share.
type callState struct {
	meta      CallMetadata
	input     *BoundedQueue
	output    *BoundedQueue
	recording *audio.RecordingBuffer

	// bargeIn is the registered out-of-band barge-in hook; guarded by the
	// owning table's lock.
	bargeIn func()

	invalidFrames uint64
}

// callTable is a concurrency-safe map of live calls.
type callTable struct {
	mu    sync.RWMutex
	calls map[string]*callState
}

func newCallTable() *callTable {
	return &callTable{calls: make(map[string]*callState)}
}

func (t *callTable) add(meta CallMetadata, recordingRate int) *callState {
	cs := &callState{
		meta:      meta,
		input:     NewBoundedQueue(DefaultQueueDepth),
		output:    NewBoundedQueue(DefaultQueueDepth),
		recording: audio.NewRecordingBuffer(recordingRate),
	}
	t.mu.Lock()
	t.calls[meta.CallID] = cs
	t.mu.Unlock()
	return cs
}

func (t *callTable) get(callID string) *callState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls[callID]
}

func (t *callTable) remove(callID string) *callState {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.calls[callID]
	delete(t.calls, callID)
	return cs
}

func (t *callTable) setBargeIn(callID string, fn func()) {
	t.mu.Lock()
	if cs := t.calls[callID]; cs != nil {
		cs.bargeIn = fn
	}
	t.mu.Unlock()
}

func (t *callTable) bargeInHook(callID string) func() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if cs := t.calls[callID]; cs != nil {
		return cs.bargeIn
	}
	return nil
}

func (t *callTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.calls)
}
