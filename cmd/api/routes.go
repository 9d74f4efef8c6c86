package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"leasing-telephony/internal/auth"
	"leasing-telephony/internal/config"
	"leasing-telephony/internal/httpapi"
	"leasing-telephony/internal/rbac"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/pkg/logger"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, app *application, authManager *auth.Manager) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := app.ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	webhooks := httpapi.Webhooks{
		Inbound:   app.inbound,
		Dial:      app.dial,
		Queue:     app.queue,
		Comms:     app.comms,
		Registrar: app.registrations,
		Renderer: telephony.TwiMLRenderer{
			SipDomain:            cfg.Twilio.SipDomain,
			MessageBaseURL:       cfg.Telephony.VoiceMessageBaseURL,
			RecordingCallbackURL: cfg.App.PublicBaseURL + telephony.PathRecording,
		},
	}

	// Provider webhooks, signed with the account auth token.
	provider := r.Group("/", httpapi.RequireProviderSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL))
	webhooks.Register(provider)

	authMW := auth.RequireAccessToken(authManager)

	// The SIP edge reports registrations with a carrier support token.
	r.POST(telephony.PathSipRegistration, authMW, rbac.RequireAnyRole(rbac.RoleCarrierSupport), webhooks.SipRegistration)

	api := httpapi.AgentAPI{
		Agents:           app.agents,
		Logins:           app.wrapUp,
		Scheduler:        app.scheduler,
		LoginSettleDelay: cfg.Telephony.LoginSettleDelay,
		Queue:            app.queue,
		Reports:          app.reports,
		Clients:          app.hub,
		Upgrader:         websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	tokens := httpapi.Tokens{Auth: authManager}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "team_ids": auth.TeamIDs(c.Request.Context()), "role": role})
		})

		v1.GET("/ws", api.Socket)

		authGroup := v1.Group("/auth")
		authGroup.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			authGroup.POST("/token", tokens.Issue)
		}

		agentsGroup := v1.Group("/agents")
		{
			agentsGroup.POST("/me/status", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor), api.SetMyStatus)
			agentsGroup.POST("/me/login", rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor), api.Login)
			agentsGroup.GET("/:id", api.GetAgent)
		}

		teamsGroup := v1.Group("/teams/:id")
		teamsGroup.Use(rbac.RequireTeamMember("id"))
		{
			teamsGroup.GET("/queue", api.TeamQueue)
			teamsGroup.GET("/calls/summary", rbac.RequireAnyRole(rbac.RoleSupervisor), api.CallsSummary)
		}
	}
}
