package domain

// EventStatus marks an envelope as a success or failure notification.
type EventStatus string

const (
	StatusSuccess EventStatus = "Success"
	StatusFailed  EventStatus = "Failed"
)

// Event steps published on the bus and relayed to WebSocket clients.
const (
	StepConnected           = "Connected"
	StepAllPlayers          = "AllPlayers"
	StepNextQuestion        = "NextQuestion"
	StepStart               = "Start"
	StepStop                = "Stop"
	StepCountdown           = "Countdown"
	StepReset               = "Reset"
	StepReadingConfirmation = "ReadingConfirmationRequested"
	StepUpdatedResponse     = "UpdatedResponse"
	StepMemberAdded         = "MemberAdded"
	StepMemberRemoved       = "MemberRemoved"
	StepSetActive           = "SetActive"
	StepSetInactive         = "SetInactive"
	StepClosed              = "Closed"
)

// Envelope is the wire shape of every bus and WebSocket message. Delivery is
// best-effort fan-out: a subscriber that attaches late misses earlier
// envelopes and must pull a full status instead.
type Envelope struct {
	Status  EventStatus `json:"status"`
	Step    string      `json:"step"`
	Payload any         `json:"payload,omitempty"`
}

// Success builds a success envelope for the given step.
func Success(step string, payload any) Envelope {
	return Envelope{Status: StatusSuccess, Step: step, Payload: payload}
}

// Failed builds a failure envelope for the given step.
func Failed(step string, payload any) Envelope {
	return Envelope{Status: StatusFailed, Step: step, Payload: payload}
}
