package telephony

import "time"

// MessageKind names a recorded voice prompt.
type MessageKind string

const (
	MessageAfterHours           MessageKind = "after_hours"
	MessageUnavailable          MessageKind = "unavailable"
	MessageCallQueueWelcome     MessageKind = "call_queue_welcome"
	MessageCallQueueUnavailable MessageKind = "call_queue_unavailable"
	MessageCallQueueClosing     MessageKind = "call_queue_closing"
	MessageVoicemail            MessageKind = "voicemail"
	MessageCallbackRequested    MessageKind = "callback_requested"
	MessageTargetNotFound       MessageKind = "target_not_found"
	MessageRecordingNotice      MessageKind = "recording_notice"
)

// Sound names a non-spoken audio asset.
type Sound string

const (
	SoundHoldMusic Sound = "hold_music"
	SoundRinging   Sound = "ringing"
)

// Response is the provider-neutral instruction set returned for a call webhook.
// An empty Response lets the provider continue with whatever it was doing.
type Response struct {
	Actions []Action
}

func NewResponse(actions ...Action) Response { return Response{Actions: actions} }

func (r Response) Empty() bool { return len(r.Actions) == 0 }

// First returns the first action of type T, if any.
func First[T Action](r Response) (T, bool) {
	for _, a := range r.Actions {
		if v, ok := a.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Action is one call-control step.
type Action interface {
	action()
}

// Dial rings every target at once; the first to answer is bridged.
type Dial struct {
	CallerID string
	Timeout  time.Duration

	// ActionURL receives the final outcome, CallbackURL intermediate leg events.
	ActionURL   string
	CallbackURL string

	Headers      map[string]string
	SipUsernames []string
	Numbers      []string
}

// Message plays a recorded prompt once.
type Message struct {
	Kind MessageKind
}

// Play loops a sound; Loop 0 repeats until the call moves on.
type Play struct {
	Sound Sound
	Loop  int
}

// Voicemail plays the prompt for Kind then records the caller.
type Voicemail struct {
	Kind   MessageKind
	CommID string
}

// Gather collects digits while Prompt plays.
type Gather struct {
	ActionURL string
	NumDigits int
	Prompt    []Action
}

// Conference bridges the call into a named room.
type Conference struct {
	Room        string
	EndOnExit   bool
	CallbackURL string
}

type Redirect struct {
	URL string
}

type Pause struct {
	Length time.Duration
}

type Hangup struct{}

func (Dial) action()       {}
func (Message) action()    {}
func (Play) action()       {}
func (Voicemail) action()  {}
func (Gather) action()     {}
func (Conference) action() {}
func (Redirect) action()   {}
func (Pause) action()      {}
func (Hangup) action()     {}

// VoicemailResponse is the terminal treatment for every unrecoverable branch.
func VoicemailResponse(kind MessageKind, commID string) Response {
	return NewResponse(Voicemail{Kind: kind, CommID: commID})
}

// TargetNotFoundResponse gives the provider a moment to settle before the prompt.
func TargetNotFoundResponse() Response {
	return NewResponse(Pause{Length: 3 * time.Second}, Message{Kind: MessageTargetNotFound}, Hangup{})
}
