package telephony

import "net/url"

// Webhook paths served by the API. The provider is pointed at them through Callbacks.
const (
	PathIncoming         = "/webhooks/voice/incoming"
	PathDialCallback     = "/webhooks/voice/dial-callback"
	PathPostDial         = "/webhooks/voice/post-dial"
	PathQueueAgentAnswer = "/webhooks/voice/queue/agent-answer"
	PathQueueAgentStatus = "/webhooks/voice/queue/agent-status"
	PathQueueCaller      = "/webhooks/voice/queue/caller-status"
	PathQueueDigits      = "/webhooks/voice/queue/digits"
	PathQueueBridge      = "/webhooks/voice/queue/bridge"
	PathConference       = "/webhooks/voice/conference"
	PathVoicemail        = "/webhooks/voice/voicemail"
	PathRecording        = "/webhooks/voice/recording"
	PathSipRegistration  = "/webhooks/sip/registration"
)

// Query parameter names used on callback URLs.
const (
	QueryCommID = "commId"
	QueryUserID = "userId"
	QueryRoom   = "room"
	QueryKind   = "kind"
)

// Callbacks builds absolute callback URLs under BaseURL.
type Callbacks struct {
	BaseURL string
}

func (c Callbacks) build(path string, q url.Values) string {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func commQuery(commID string) url.Values {
	return url.Values{QueryCommID: {commID}}
}

// Incoming re-enters the inbound flow with q, used for redials and transfers.
func (c Callbacks) Incoming(q url.Values) string { return c.build(PathIncoming, q) }

func (c Callbacks) DialCallback(commID string) string {
	return c.build(PathDialCallback, commQuery(commID))
}

func (c Callbacks) PostDial(commID string) string {
	return c.build(PathPostDial, commQuery(commID))
}

func (c Callbacks) QueueAgentAnswer(commID, userID string) string {
	return c.build(PathQueueAgentAnswer, url.Values{QueryCommID: {commID}, QueryUserID: {userID}})
}

func (c Callbacks) QueueAgentStatus(commID, userID string) string {
	return c.build(PathQueueAgentStatus, url.Values{QueryCommID: {commID}, QueryUserID: {userID}})
}

func (c Callbacks) QueueDigits(commID string) string {
	return c.build(PathQueueDigits, commQuery(commID))
}

func (c Callbacks) QueueBridge(commID, room string) string {
	return c.build(PathQueueBridge, url.Values{QueryCommID: {commID}, QueryRoom: {room}})
}

func (c Callbacks) Conference(commID string) string {
	return c.build(PathConference, commQuery(commID))
}

func (c Callbacks) Voicemail(kind MessageKind, commID string) string {
	return c.build(PathVoicemail, url.Values{QueryCommID: {commID}, QueryKind: {string(kind)}})
}

func (c Callbacks) Recording(commID string) string {
	return c.build(PathRecording, commQuery(commID))
}
