package convo

// CallOutcome is the terminal classification of one call attempt. The first
// group comes from conversation results; the second from telephony signalling.
type CallOutcome string

const (
	OutcomeSuccess           CallOutcome = "SUCCESS"
	OutcomeDeclined          CallOutcome = "DECLINED"
	OutcomeNotInterested     CallOutcome = "NOT_INTERESTED"
	OutcomeCallbackRequested CallOutcome = "CALLBACK_REQUESTED"
	OutcomeTransferToHuman   CallOutcome = "TRANSFER_TO_HUMAN"
	OutcomeMaxTurnsReached   CallOutcome = "MAX_TURNS_REACHED"
	OutcomeError             CallOutcome = "ERROR"
	OutcomeUnknown           CallOutcome = "UNKNOWN"

	OutcomeAnswered     CallOutcome = "ANSWERED"
	OutcomeNoAnswer     CallOutcome = "NO_ANSWER"
	OutcomeBusy         CallOutcome = "BUSY"
	OutcomeFailed       CallOutcome = "FAILED"
	OutcomeVoicemail    CallOutcome = "VOICEMAIL"
	OutcomeSpam         CallOutcome = "SPAM"
	OutcomeInvalid      CallOutcome = "INVALID"
	OutcomeUnavailable  CallOutcome = "UNAVAILABLE"
	OutcomeDisconnected CallOutcome = "DISCONNECTED"
	OutcomeRejected     CallOutcome = "REJECTED"
	OutcomeGoalAchieved CallOutcome = "GOAL_ACHIEVED"
)

// Retryable outcomes may be attempted again after a delay.
func (o CallOutcome) Retryable() bool {
	switch o {
	case OutcomeBusy, OutcomeNoAnswer, OutcomeFailed, OutcomeVoicemail:
		return true
	}
	return false
}

// NonRetryable outcomes must never be attempted again.
func (o CallOutcome) NonRetryable() bool {
	switch o {
	case OutcomeSpam, OutcomeInvalid, OutcomeUnavailable, OutcomeDisconnected, OutcomeRejected:
		return true
	}
	return false
}

// Goal outcomes mean the campaign got what it wanted from this lead.
func (o CallOutcome) Goal() bool {
	switch o {
	case OutcomeSuccess, OutcomeAnswered, OutcomeGoalAchieved:
		return true
	}
	return false
}

// DetermineOutcome computes the call outcome once the engine reaches a
// terminal state. Checks run in strict precedence: hard failure first, then
// explicit user requests, then conversation results.
func (e *Engine) DetermineOutcome() CallOutcome {
	switch {
	case e.ctx.LLMErrorCount >= 2:
		return OutcomeError
	case e.ctx.TransferRequested:
		return OutcomeTransferToHuman
	case e.ctx.CallbackRequested:
		return OutcomeCallbackRequested
	case e.ctx.UserConfirmed:
		return OutcomeSuccess
	case e.ctx.DeclinedEarly:
		return OutcomeDeclined
	case e.ctx.ObjectionCapped:
		return OutcomeNotInterested
	case e.ctx.TurnCapped:
		return OutcomeMaxTurnsReached
	default:
		return OutcomeUnknown
	}
}
