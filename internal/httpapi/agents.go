package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/auth"
	"leasing-telephony/internal/callqueue"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/rbac"
	"leasing-telephony/internal/reporting"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/pkg/logger"
)

type AgentDirectory interface {
	Get(ctx context.Context, id string) (agents.Agent, error)
	UpdateStatus(ctx context.Context, ids []string, status agents.Status, manual bool) ([]agents.Agent, error)
}

type LoginDelays interface {
	StartLoginDelay(ctx context.Context, agentID string) error
}

type QueueLister interface {
	List(ctx context.Context, teamID string) ([]callqueue.QueuedCall, error)
}

type CallReports interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

// ClientRegistry accepts agent websocket connections.
type ClientRegistry interface {
	Register(conn *websocket.Conn, userID string, teamIDs []string) *notify.Client
}

// AgentAPI is the authenticated surface used by agents' clients and supervisors.
type AgentAPI struct {
	Agents    AgentDirectory
	Logins    LoginDelays
	Scheduler scheduler.Scheduler
	// LoginSettleDelay lets the client finish registering endpoints before the login
	// delay is evaluated.
	LoginSettleDelay time.Duration
	Queue            QueueLister
	Reports          CallReports
	Clients          ClientRegistry
	Upgrader         websocket.Upgrader
}

type statusRequest struct {
	Status agents.Status `json:"status"`
}

// SetMyStatus applies a status chosen by the agent.
func (a AgentAPI) SetMyStatus(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user required"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be available, busy or not_available"})
		return
	}
	if _, err := a.Agents.UpdateStatus(c.Request.Context(), []string{userID}, req.Status, true); err != nil {
		logger.FromGin(c).Error("manual status update failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	a.writeAgent(c, userID)
}

// Login starts the agent's login delay once the client has settled.
func (a AgentAPI) Login(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user required"})
		return
	}
	a.Scheduler.ScheduleForLater(a.LoginSettleDelay, "login-delay:"+userID, func(ctx context.Context) error {
		return a.Logins.StartLoginDelay(ctx, userID)
	})
	c.JSON(http.StatusAccepted, gin.H{"user_id": userID, "status": "login_scheduled"})
}

// GetAgent returns an agent's availability. Agents may only read themselves.
func (a AgentAPI) GetAgent(c *gin.Context) {
	id := c.Param("id")
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if id != userID && !rbac.SeesAllTeams(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	a.writeAgent(c, id)
}

func (a AgentAPI) writeAgent(c *gin.Context, id string) {
	agent, err := a.Agents.Get(c.Request.Context(), id)
	if errors.Is(err, agents.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("agent lookup failed", "agent_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (a AgentAPI) TeamQueue(c *gin.Context) {
	teamID := c.Param("id")
	queued, err := a.Queue.List(c.Request.Context(), teamID)
	if err != nil {
		logger.FromGin(c).Error("queue listing failed", "team_id", teamID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue lookup failed"})
		return
	}
	if queued == nil {
		queued = []callqueue.QueuedCall{}
	}
	c.JSON(http.StatusOK, gin.H{"team_id": teamID, "calls": queued})
}

// CallsSummary reports outcomes for the team over [from, to), RFC 3339 query params.
func (a AgentAPI) CallsSummary(c *gin.Context) {
	from, errFrom := time.Parse(time.RFC3339, c.Query("from"))
	to, errTo := time.Parse(time.RFC3339, c.Query("to"))
	if errFrom != nil || errTo != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
		return
	}
	summary, err := a.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TeamID: c.Param("id"),
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "team_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Socket upgrades to the notification websocket for the caller's user and teams.
func (a AgentAPI) Socket(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user required"})
		return
	}
	conn, err := a.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger.FromGin(c).Warn("websocket upgrade failed", "err", err)
		return
	}
	a.Clients.Register(conn, userID, auth.TeamIDs(c.Request.Context()))
}
