package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/audit"
	"leasing-telephony/internal/callqueue"
	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/config"
	"leasing-telephony/internal/dial"
	"leasing-telephony/internal/endpoints"
	"leasing-telephony/internal/incoming"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/parties"
	"leasing-telephony/internal/presence"
	"leasing-telephony/internal/reporting"
	"leasing-telephony/internal/routing"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/internal/wrapup"
	"leasing-telephony/pkg/utils"
)

// application holds the wired services the routes and background workers use.
type application struct {
	agents            *agents.Store
	wrapUp            *wrapup.Machine
	queue             *callqueue.Coordinator
	dial              *dial.Orchestrator
	inbound           *incoming.Flow
	comms             calls.Repository
	registrations     *telephony.RedisRegistrations
	reports           *reporting.Service
	hub               *notify.Hub
	presenceResponder *presence.Responder
	scheduler         *scheduler.TimerScheduler

	db  *sql.DB
	rdb *redis.Client
}

// ready reports whether the stores the API depends on answer.
func (a *application) ready(ctx context.Context) error {
	if err := utils.HealthCheck(ctx, a.db, 2*time.Second); err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.rdb.Ping(pingCtx).Err()
}

func wire(cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) *application {
	// Timers run on a background context, detached from the request that armed them.
	sched := scheduler.NewTimerScheduler(context.Background(), log)

	teamRepo := teams.NewPostgresRepo(db)
	partyRepo := parties.NewPostgresRepo(db)
	queueRepo := callqueue.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	comms := audit.TrackOutcomes(calls.NewPostgresRepo(db), auditSvc, func(commID string, err error) {
		log.Warn("call outcome audit failed", "comm_id", commID, "err", err)
	})

	hub := notify.NewHub(log)
	notifier := notify.NewRedisNotifier(rdb, cfg.Telephony.NotificationsChannel, log)
	registrations := telephony.NewRedisRegistrations(rdb)
	ops := telephony.NewTwilioOps(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		SipDomain:  cfg.Twilio.SipDomain,
	}, registrations, log)

	store := agents.NewStore(agents.StoreDeps{
		Repo:     agents.NewPostgresRepo(db),
		Members:  teamRepo,
		Notifier: notifier,
		History:  auditSvc,
		Log:      log,
	})
	presenceQuery := presence.NewRedisQuery(rdb, cfg.Telephony.PresenceRequestsChannel, cfg.Telephony.PresenceTimeout, hub, log)
	resolver := endpoints.NewResolver(ops, presenceQuery, store, log)
	store.SetEndpointChecker(resolver)

	hours := teams.NewHoursGate(teams.NewPostgresCalendar(db), log)
	engine := routing.NewEngine(teamRepo, store, hours, log)
	owners := routing.NewOwnerAssigner(engine, partyRepo, log)
	releaser := calls.NewReleaser(store, comms, ops, queueRepo, log)
	wrap := wrapup.New(store, teamRepo, sched, notifier, log)
	callbacks := telephony.Callbacks{BaseURL: cfg.App.PublicBaseURL}

	coordinator := callqueue.New(callqueue.Deps{
		Repo:      queueRepo,
		Comms:     comms,
		Agents:    store,
		Teams:     teamRepo,
		Endpoints: resolver,
		Ops:       ops,
		Releaser:  releaser,
		WrapUp:    wrap,
		Parties:   owners,
		Notifier:  notifier,
		Scheduler: sched,
		Locker:    callqueue.NewRedisLocker(rdb, cfg.Telephony.QueueDispatchLockTTL, log),
		Hours:     hours,
		Callbacks: callbacks,
		Config: callqueue.Config{
			Disabled:          cfg.Telephony.QueueDisabled,
			RingTimeout:       cfg.Telephony.QueueRingTimeout,
			AvailabilityDelay: cfg.Telephony.QueueAvailabilityDelay,
			CallerID:          cfg.Twilio.CallerID,
		},
		Log: log,
	})
	coordinator.Subscribe(store.Signals())

	dialer := dial.New(dial.Deps{
		Comms:     comms,
		Agents:    store,
		Teams:     teamRepo,
		Endpoints: resolver,
		Ops:       ops,
		Releaser:  releaser,
		WrapUp:    wrap,
		Parties:   owners,
		Notifier:  notifier,
		Scheduler: sched,
		Callbacks: callbacks,
		Config: dial.Config{
			RingTimeout:       cfg.Telephony.RingTimeout,
			RedialDelay:       cfg.Telephony.RedialDelay,
			RedialMaxAttempts: cfg.Telephony.RedialMaxAttempts,
			QueueDisabled:     cfg.Telephony.QueueDisabled,
		},
		Log: log,
	})

	flow := incoming.New(incoming.Deps{
		Router:      engine,
		Parties:     partyRepo,
		Comms:       comms,
		Queue:       coordinator,
		Dialer:      dialer,
		Forwarder:   routing.NewForwarder(auditSvc),
		Owners:      owners,
		RingTimeout: cfg.Telephony.RingTimeout,
		Log:         log,
	})

	return &application{
		agents:            store,
		wrapUp:            wrap,
		queue:             coordinator,
		dial:              dialer,
		inbound:           flow,
		comms:             comms,
		registrations:     registrations,
		reports:           reporting.NewService(comms),
		hub:               hub,
		presenceResponder: presence.NewResponder(rdb, cfg.Telephony.PresenceRequestsChannel, hub, log),
		scheduler:         sched,
		db:                db,
		rdb:               rdb,
	}
}
