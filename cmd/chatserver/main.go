// Command chatserver runs the realtime chat server: WebSocket transport,
// Redis-backed sessions and rate limits, optional NATS fanout, and an
// optional PostgreSQL store for durable identities, messages, and
// reports.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/admin"
	"github.com/crosstalk/chat-server/internal/config"
	"github.com/crosstalk/chat-server/internal/domain"
	"github.com/crosstalk/chat-server/internal/events"
	"github.com/crosstalk/chat-server/internal/handler"
	"github.com/crosstalk/chat-server/internal/identity"
	"github.com/crosstalk/chat-server/internal/message"
	"github.com/crosstalk/chat-server/internal/metrics"
	"github.com/crosstalk/chat-server/internal/moderation"
	"github.com/crosstalk/chat-server/internal/presence"
	"github.com/crosstalk/chat-server/internal/protocol"
	"github.com/crosstalk/chat-server/internal/ratelimit"
	"github.com/crosstalk/chat-server/internal/report"
	"github.com/crosstalk/chat-server/internal/session"
	"github.com/crosstalk/chat-server/internal/social"
	"github.com/crosstalk/chat-server/internal/store/memory"
	"github.com/crosstalk/chat-server/internal/store/postgres"
	"github.com/crosstalk/chat-server/internal/thread"
	"github.com/crosstalk/chat-server/internal/ws"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs sessions, cooldowns, strikes, and bans.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
	}
	defer rdb.Close()

	// Storage: the in-process store covers everything; PostgreSQL, when
	// configured, takes over the durable repositories.
	mem := memory.New()
	var (
		identityRepo domain.IdentityRepo = mem
		messageRepo  domain.MessageRepo  = mem
		reportRepo   domain.ReportRepo   = mem
		threadRepo   domain.ThreadRepo   = mem
		socialRepo   domain.SocialRepo   = mem
	)
	if cfg.PostgresURL != "" {
		db, err := postgres.Open(cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unreachable")
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("postgres migrations failed")
		}
		identityRepo = postgres.NewIdentityStore(db)
		messageRepo = postgres.NewMessageStore(db)
		reportRepo = postgres.NewReportStore(db)
		log.Info().Msg("postgres store enabled")
	}

	// Event fanout: NATS when configured, in-process otherwise.
	var bus events.Bus
	if cfg.NATSURL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		nb, err := events.NewNATSBus(natsCfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats unreachable")
		}
		bus = nb
	} else {
		bus = events.NewLocalBus()
	}
	defer bus.Close()

	// Moderation and rate limiting.
	escalation := make([]moderation.Step, len(cfg.Escalation))
	for i, s := range cfg.Escalation {
		escalation[i] = moderation.Step{Strikes: s.Strikes, Ban: s.Ban, Permanent: s.Permanent}
	}
	strikes := moderation.NewStrikes(rdb, escalation, log)
	ipbans := moderation.NewIPBans(rdb)
	filter := moderation.NewFilter(cfg.FilterTerms)
	blocks := moderation.NewBlockList(socialRepo)
	cooldowns := ratelimit.NewEngine(rdb, cfg.AccountCooldown, cfg.GuestCooldown, cfg.LinkWindow, log)

	// Sessions and identity.
	sessions := session.NewStore(rdb, cfg.AccountTokenTTL, cfg.GuestTokenTTL)
	tokens := session.NewTokens(cfg.SessionSecret)
	identities := identity.NewService(identityRepo, sessions, tokens, strikes,
		cfg.AccountTokenTTL, cfg.GuestTokenTTL, log)

	// Presence snapshots broadcast to every connected client.
	tracker := presence.NewTracker(cfg.IdleTimeout, func(entries []presence.Entry) {
		out := make([]protocol.PresenceEntry, len(entries))
		for i, e := range entries {
			out[i] = protocol.PresenceEntry{IdentityID: e.IdentityID, Username: e.Username, Status: string(e.Status)}
		}
		data, err := protocol.NewServerMessage(protocol.TypePresence, protocol.PresenceMsg{Entries: out})
		if err != nil {
			return
		}
		_ = bus.Publish(events.SubjectBroadcast, data)
	}, log)
	tracker.Start()
	defer tracker.Stop()

	threads := thread.NewRegistry(threadRepo, identityRepo, socialRepo, log)
	if err := threads.EnsureGlobal(ctx); err != nil {
		log.Fatal().Err(err).Msg("global thread init failed")
	}
	messages := message.NewLog(messageRepo, cfg.EditWindow, cfg.HistoryLimit, log)
	graph := social.NewGraph(socialRepo, identityRepo, log)
	reports := report.NewService(reportRepo, log)

	// Transport.
	dispatcher := ws.NewDispatcher(log)
	wsCfg := ws.DefaultServerConfig()
	wsCfg.ListenAddr = cfg.ListenAddr
	wsCfg.MaxConnections = cfg.MaxConnections
	wsCfg.HeartbeatInterval = cfg.HeartbeatInterval
	wsCfg.FrameRate = cfg.FrameRate
	wsCfg.FrameBurst = cfg.FrameBurst

	var handlers *handler.Handlers
	server := ws.NewServer(wsCfg, ipbans, log, func(conn *ws.Connection, data []byte) {
		dispatcher.Dispatch(conn, data)
		handlers.OnActivity(conn)
	})
	handlers = handler.New(server.Connections(), bus, identities, tracker, threads,
		messages, cooldowns, filter, blocks, graph, reports, log)
	handlers.RegisterAll(dispatcher)
	server.SetOnDisconnect(handlers.OnDisconnect)

	// Internal listener: Prometheus metrics plus the admin boundary.
	internalMux := http.NewServeMux()
	internalMux.Handle("/metrics", metrics.Handler())
	admin.New(cfg.AdminSecret, identities, strikes, ipbans, reports, messages,
		bus, server.Connections(), log).Mount(internalMux)
	internalSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: internalMux}
	go func() {
		if err := internalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("internal listener failed")
		}
	}()

	go func() {
		if err := server.Start(server.Handler()); err != nil {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = internalSrv.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
