package convo

// ConvState is a conversation phase. Greeting is initial; Goodbye and
// Transfer are terminal.
type ConvState string

const (
	StateGreeting          ConvState = "GREETING"
	StateQualification     ConvState = "QUALIFICATION"
	StateObjectionHandling ConvState = "OBJECTION_HANDLING"
	StateClosing           ConvState = "CLOSING"
	StateTransfer          ConvState = "TRANSFER"
	StateGoodbye           ConvState = "GOODBYE"
)

// Terminal reports whether no further turns happen in this state.
func (s ConvState) Terminal() bool {
	return s == StateGoodbye || s == StateTransfer
}

// Context accumulates per-call conversation facts that outlive single turns.
type Context struct {
	ObjectionCount    int    `json:"objection_count"`
	FollowUpCount     int    `json:"follow_up_count"`
	UserConfirmed     bool   `json:"user_confirmed"`
	TransferRequested bool   `json:"transfer_requested"`
	CallbackRequested bool   `json:"callback_requested"`
	LLMErrorCount     int    `json:"llm_error_count"`
	LastUserConcern   string `json:"last_user_concern"`

	// DeclinedEarly is set when the callee said no before qualification
	// completed; it separates DECLINED from NOT_INTERESTED at outcome time.
	DeclinedEarly bool `json:"declined_early"`
	// ObjectionCapped is set when the objection cap forced the goodbye.
	ObjectionCapped bool `json:"objection_capped"`
	// TurnCapped is set when the turn cap forced the goodbye.
	TurnCapped bool `json:"turn_capped"`
}

// EngineConfig bounds the conversation.
type EngineConfig struct {
	// MaxObjectionAttempts is how many objections are handled before
	// giving up. Default 2.
	MaxObjectionAttempts int
	// MaxConversationTurns caps total user turns per call. Default 20.
	MaxConversationTurns int
}

func (c *EngineConfig) applyDefaults() {
	if c.MaxObjectionAttempts <= 0 {
		c.MaxObjectionAttempts = 2
	}
	if c.MaxConversationTurns <= 0 {
		c.MaxConversationTurns = 20
	}
}

// Engine is the per-call conversation state machine. Not safe for concurrent
// use; each call's turn handler is its single owner.
type Engine struct {
	cfg       EngineConfig
	state     ConvState
	ctx       Context
	turnCount int
}

// NewEngine creates an engine in the GREETING state.
func NewEngine(cfg EngineConfig) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, state: StateGreeting}
}

// State returns the current conversation state.
func (e *Engine) State() ConvState { return e.state }

// Context returns a copy of the accumulated conversation context.
func (e *Engine) Context() Context { return e.ctx }

// TurnCount returns the number of user turns processed so far.
func (e *Engine) TurnCount() int { return e.turnCount }

// RecordLLMError bumps the consecutive-failure counter. Two failures force
// the next Advance into GOODBYE regardless of intent.
func (e *Engine) RecordLLMError() {
	e.ctx.LLMErrorCount++
}

// RecordLLMSuccess relaxes the failure counter after a recovered turn.
func (e *Engine) RecordLLMSuccess() {
	if e.ctx.LLMErrorCount > 0 {
		e.ctx.LLMErrorCount--
	}
}

// Restore rebuilds an engine from a persisted snapshot, for session
// re-attachment.
func Restore(cfg EngineConfig, state ConvState, ctx Context, turnCount int) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, state: state, ctx: ctx, turnCount: turnCount}
}

// Advance consumes one final user utterance: classifies its intent, applies
// the transition table, and returns the new state and the detected intent.
// Stay-in-state is the default when no transition matches.
func (e *Engine) Advance(userText string) (ConvState, UserIntent) {
	intent := DetectIntent(userText)
	e.turnCount++

	// Global caps outrank the per-state table.
	if e.ctx.LLMErrorCount >= 2 {
		e.state = StateGoodbye
		return e.state, intent
	}
	if e.turnCount >= e.cfg.MaxConversationTurns {
		e.ctx.TurnCapped = true
		e.state = StateGoodbye
		return e.state, intent
	}

	switch intent {
	case IntentRequestHuman:
		e.ctx.TransferRequested = true
	case IntentCallback:
		e.ctx.CallbackRequested = true
	case IntentObjection:
		e.ctx.LastUserConcern = userText
	}

	e.state = e.transition(intent)
	return e.state, intent
}

// transition applies the per-state table for one intent.
func (e *Engine) transition(intent UserIntent) ConvState {
	switch e.state {
	case StateGreeting:
		switch intent {
		case IntentYes, IntentGreeting:
			return StateQualification
		case IntentNo:
			e.ctx.DeclinedEarly = true
			return StateGoodbye
		case IntentUncertain:
			e.ctx.ObjectionCount++
			return StateObjectionHandling
		case IntentRequestHuman:
			return StateTransfer
		case IntentGoodbye:
			e.ctx.DeclinedEarly = true
			return StateGoodbye
		}

	case StateQualification:
		switch intent {
		case IntentYes:
			return StateClosing
		case IntentNo:
			e.ctx.DeclinedEarly = true
			return StateGoodbye
		case IntentCallback:
			return StateGoodbye
		case IntentUncertain, IntentObjection:
			e.ctx.ObjectionCount++
			return StateObjectionHandling
		case IntentRequestHuman:
			return StateTransfer
		case IntentGoodbye:
			e.ctx.DeclinedEarly = true
			return StateGoodbye
		}

	case StateObjectionHandling:
		switch intent {
		case IntentYes:
			return StateClosing
		case IntentNo:
			e.ctx.DeclinedEarly = true
			return StateGoodbye
		case IntentUncertain, IntentObjection:
			if e.ctx.ObjectionCount >= e.cfg.MaxObjectionAttempts {
				e.ctx.ObjectionCapped = true
				return StateGoodbye
			}
			e.ctx.ObjectionCount++
			return StateObjectionHandling
		case IntentRequestHuman:
			return StateTransfer
		case IntentGoodbye:
			return StateGoodbye
		}

	case StateClosing:
		switch intent {
		case IntentYes:
			e.ctx.UserConfirmed = true
			return StateGoodbye
		case IntentRequestHuman:
			return StateTransfer
		case IntentGoodbye:
			return StateGoodbye
		}
	}

	return e.state
}

// ForceGoodbye drives the engine to GOODBYE, used when guardrails give up on
// the LLM mid-call.
func (e *Engine) ForceGoodbye() {
	e.state = StateGoodbye
}
