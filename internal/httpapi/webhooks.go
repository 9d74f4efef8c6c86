package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/routing"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/pkg/logger"
)

// InboundFlow routes a new or re-entering inbound call.
type InboundFlow interface {
	Handle(ctx context.Context, ev telephony.CallEvent, q url.Values) (telephony.Response, error)
}

// DialEvents consumes the callbacks of a dial issued by the inbound flow.
type DialEvents interface {
	DialCallback(ctx context.Context, commID string, ev telephony.CallEvent) error
	PostDial(ctx context.Context, commID string, ev telephony.CallEvent) (telephony.Response, error)
}

// QueueEvents consumes the callbacks of queued calls and the legs fired for them.
type QueueEvents interface {
	AgentAnswered(ctx context.Context, commID, agentID, legID string) (telephony.Response, error)
	MachineAnswered(ctx context.Context, commID, agentID, legID string) (telephony.Response, error)
	AgentLegStatus(ctx context.Context, commID, agentID string, ev telephony.CallEvent) error
	CallerHungUp(ctx context.Context, externalCallID string) error
	Digits(ctx context.Context, commID, digits string) (telephony.Response, error)
	BridgeResponse(commID, room string) telephony.Response
	ConferenceEnded(ctx context.Context, commID string)
}

// Registrar records SIP registrations reported by the SIP edge.
type Registrar interface {
	Register(ctx context.Context, username string, expires time.Duration) error
}

type Renderer interface {
	Render(res telephony.Response) (string, error)
}

// Webhooks serves the voice provider's callbacks. Handlers parse the form, call the
// routing core and render its Response as TwiML.
type Webhooks struct {
	Inbound   InboundFlow
	Dial      DialEvents
	Queue     QueueEvents
	Comms     calls.Repository
	Registrar Registrar
	Renderer  Renderer
	Now       func() time.Time
}

func (w Webhooks) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Register mounts the provider callbacks on g.
func (w Webhooks) Register(g gin.IRoutes) {
	g.POST(telephony.PathIncoming, w.Incoming)
	g.POST(telephony.PathDialCallback, w.DialCallback)
	g.POST(telephony.PathPostDial, w.PostDial)
	g.POST(telephony.PathQueueAgentAnswer, w.QueueAgentAnswer)
	g.POST(telephony.PathQueueAgentStatus, w.QueueAgentStatus)
	g.POST(telephony.PathQueueCaller, w.QueueCallerStatus)
	g.POST(telephony.PathQueueDigits, w.QueueDigits)
	g.POST(telephony.PathQueueBridge, w.QueueBridge)
	g.POST(telephony.PathConference, w.Conference)
	g.POST(telephony.PathVoicemail, w.Voicemail)
	g.POST(telephony.PathRecording, w.Recording)
}

func (w Webhooks) Incoming(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	ctx := routing.WithClientIP(c.Request.Context(), c.ClientIP())
	res, err := w.Inbound.Handle(ctx, ev, c.Request.URL.Query())
	w.respond(c, res, err)
}

func (w Webhooks) DialCallback(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	if err := w.Dial.DialCallback(c.Request.Context(), c.Query(telephony.QueryCommID), ev); err != nil {
		logger.FromGin(c).Error("dial callback failed", "err", err)
		_ = c.Error(err)
	}
	c.Status(http.StatusNoContent)
}

func (w Webhooks) PostDial(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	res, err := w.Dial.PostDial(c.Request.Context(), c.Query(telephony.QueryCommID), ev)
	w.respond(c, res, err)
}

func (w Webhooks) QueueAgentAnswer(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	commID, userID := c.Query(telephony.QueryCommID), c.Query(telephony.QueryUserID)
	if ev.AnsweredByMachine() {
		res, err := w.Queue.MachineAnswered(c.Request.Context(), commID, userID, ev.CallSid)
		w.respond(c, res, err)
		return
	}
	res, err := w.Queue.AgentAnswered(c.Request.Context(), commID, userID, ev.CallSid)
	w.respond(c, res, err)
}

func (w Webhooks) QueueAgentStatus(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	if err := w.Queue.AgentLegStatus(c.Request.Context(), c.Query(telephony.QueryCommID), c.Query(telephony.QueryUserID), ev); err != nil {
		logger.FromGin(c).Error("queue leg status failed", "err", err)
		_ = c.Error(err)
	}
	c.Status(http.StatusNoContent)
}

// QueueCallerStatus receives the status callback of the caller's own call. Only a
// finished call matters: if it was still waiting it leaves the queue.
func (w Webhooks) QueueCallerStatus(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	switch ev.CallStatus {
	case "completed", "canceled", "busy", "failed", "no-answer":
		if err := w.Queue.CallerHungUp(c.Request.Context(), ev.CallSid); err != nil {
			logger.FromGin(c).Error("queued caller hangup failed", "err", err)
			_ = c.Error(err)
		}
	}
	c.Status(http.StatusNoContent)
}

func (w Webhooks) QueueDigits(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	res, err := w.Queue.Digits(c.Request.Context(), c.Query(telephony.QueryCommID), ev.Digits)
	w.respond(c, res, err)
}

func (w Webhooks) QueueBridge(c *gin.Context) {
	commID, room := c.Query(telephony.QueryCommID), c.Query(telephony.QueryRoom)
	if room == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room required"})
		return
	}
	w.respond(c, w.Queue.BridgeResponse(commID, room), nil)
}

func (w Webhooks) Conference(c *gin.Context) {
	ev, ok := parseEvent(c)
	if !ok {
		return
	}
	commID := c.Query(telephony.QueryCommID)
	logger.FromGin(c).Debug("conference event", "comm_id", commID, "event", ev.StatusCallbackEvent)
	if ev.StatusCallbackEvent == "conference-end" {
		w.Queue.ConferenceEnded(c.Request.Context(), commID)
	}
	c.Status(http.StatusNoContent)
}

// Voicemail is where a transferred call lands to hear a prompt and leave a message.
func (w Webhooks) Voicemail(c *gin.Context) {
	kind := telephony.MessageKind(c.Query(telephony.QueryKind))
	if kind == "" {
		kind = telephony.MessageUnavailable
	}
	w.respond(c, telephony.VoicemailResponse(kind, c.Query(telephony.QueryCommID)), nil)
}

// Recording receives the finished voicemail recording. The communication becomes a
// voicemail, keeping the reason it was missed, and is closed.
func (w Webhooks) Recording(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	commID := c.Query(telephony.QueryCommID)
	log := logger.FromGin(c).With("comm_id", commID)
	if c.Request.PostFormValue("RecordingStatus") != "completed" || commID == "" {
		c.Status(http.StatusNoContent)
		return
	}

	ctx := c.Request.Context()
	comm, err := w.Comms.Get(ctx, commID)
	if errors.Is(err, calls.ErrNotFound) {
		log.Warn("recording for unknown communication")
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		log.Error("load communication failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "communication lookup failed"})
		return
	}
	if !comm.Answered {
		if _, err := w.Comms.RecordOutcome(ctx, commID, calls.OutcomeVoicemail, comm.MissedReason); err != nil {
			log.Error("record voicemail outcome failed", "err", err)
		}
	}
	if err := w.Comms.MarkEnded(ctx, commID, w.now().UTC()); err != nil {
		log.Error("close communication failed", "err", err)
	}
	log.Info("voicemail recorded", "recording_sid", c.Request.PostFormValue("RecordingSid"))
	c.Status(http.StatusNoContent)
}

// SipRegistration records a SIP REGISTER seen by the edge. Expires of zero unregisters.
func (w Webhooks) SipRegistration(c *gin.Context) {
	var req struct {
		Username       string `json:"username"`
		ExpiresSeconds int    `json:"expires_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.ExpiresSeconds < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and non-negative expires_seconds required"})
		return
	}
	expires := time.Duration(req.ExpiresSeconds) * time.Second
	if err := w.Registrar.Register(c.Request.Context(), req.Username, expires); err != nil {
		logger.FromGin(c).Error("sip registration failed", "username", req.Username, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": req.Username, "expires_seconds": req.ExpiresSeconds})
}

func parseEvent(c *gin.Context) (telephony.CallEvent, bool) {
	ev, err := telephony.ParseCallEvent(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return telephony.CallEvent{}, false
	}
	return ev, true
}

// respond renders res as TwiML. A failed handler still answers with the unavailable
// voicemail so the caller is never left on the provider's error prompt.
func (w Webhooks) respond(c *gin.Context, res telephony.Response, err error) {
	log := logger.FromGin(c)
	if err != nil {
		log.Error("voice webhook failed", "err", err)
		_ = c.Error(err)
		res = telephony.VoicemailResponse(telephony.MessageUnavailable, c.Query(telephony.QueryCommID))
	}
	body, err := w.Renderer.Render(res)
	if err != nil {
		log.Error("render twiml failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(body))
}
