package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/murmur/murmur-core/internal/config"
	"github.com/murmur/murmur-core/internal/exchange"
	"github.com/murmur/murmur-core/internal/external"
	"github.com/murmur/murmur-core/internal/friendstore"
	"github.com/murmur/murmur-core/internal/history"
	"github.com/murmur/murmur-core/internal/logging"
	"github.com/murmur/murmur-core/internal/peerregistry"
	"github.com/murmur/murmur-core/internal/scheduler"
	"github.com/murmur/murmur-core/internal/store"
	"github.com/murmur/murmur-core/internal/transport"
	"github.com/murmur/murmur-core/internal/transport/ble"
	"github.com/murmur/murmur-core/internal/transport/lan"
	"github.com/murmur/murmur-core/internal/transport/wifiaware"
	"github.com/murmur/murmur-core/internal/transport/wifidirect"
)

// discoveryPoll is how often stale peers are pruned from the registry
// (spec §9 supplemented periodic reconciliation tick).
const discoveryPoll = 5 * time.Second

// historyFlushInterval is how often exchange history is persisted
// (spec §5 "persisted periodically").
const historyFlushInterval = 30 * time.Second

func runDaemon(flags *rootFlags) error {
	cfg, err := config.New(flags.configPath)
	if err != nil {
		return err
	}

	log := logging.New(levelFromString(flags.logLevel), "murmurd")

	fs, err := friendstore.Open(filepath.Join(flags.dataDir, "friends.db"))
	if err != nil {
		return err
	}
	defer fs.Close()

	st, err := store.Open(filepath.Join(flags.dataDir, "messages.db"), 10000)
	if err != nil {
		return err
	}
	defer st.Close()

	hist, err := history.Open(filepath.Join(flags.dataDir, "history.db"), log.With("component", "history"))
	if err != nil {
		return err
	}
	defer hist.Close()

	selfID := fs.DeviceID()
	log.Infow("starting murmurd", "device_id", selfID)

	registry := peerregistry.New()

	lanTransport, err := lan.New(selfID, flags.tcpPort, log.With("transport", "lan"))
	if err != nil {
		return err
	}
	defer lanTransport.Close()

	transports := map[peerregistry.TransportKind]transport.Transport{
		peerregistry.TransportLAN:        lanTransport,
		peerregistry.TransportBLE:        ble.New(),
		peerregistry.TransportWiFiDirect: wifidirect.New(),
		peerregistry.TransportWiFiAware:  wifiaware.New(),
	}

	notifications := external.NopNotifications{}
	ex := exchange.New(cfg, st, fs, transports, notifications, log.With("component", "exchange"), selfID)
	telemetry := external.NewAsyncTelemetry(external.LoggingTelemetry{Log: log}, 256)
	defer telemetry.Close()

	sched := scheduler.New(cfg, registry, hist, ex, st, log.With("component", "scheduler"), selfID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for kind, t := range transports {
		kind, t := kind, t
		go serveTransport(ctx, t, ex, sched, log.With("transport", kind.String()))
		go consumeDiscoveries(ctx, t, registry)
	}

	go hist.Run(ctx, historyFlushInterval)
	go reconcileStaleLoop(ctx, cfg, registry)

	runCycleLoop(ctx, cfg, sched, telemetry)
	return nil
}

// serveTransport runs one transport's inbound listener for the
// lifetime of ctx (spec §5 "per-transport listeners").
func serveTransport(ctx context.Context, t transport.Transport, ex *exchange.Exchange, sched *scheduler.Scheduler, log logging.Logger) {
	err := t.Serve(ctx, func(sessCtx context.Context, sess transport.Session) {
		sched.NoteInboundSession(sess.RemoteAddr())
		ex.HandleInbound(sessCtx, sess)
	})
	if err != nil {
		log.Errorw("transport listener exited", "err", err)
	}
}

// consumeDiscoveries feeds a transport's sightings into the shared
// registry (spec §4.7 report_<T>_peer).
func consumeDiscoveries(ctx context.Context, t transport.Transport, registry *peerregistry.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-t.Discoveries():
			if !ok {
				return
			}
			publicID := d.PublicIDPrefix
			if publicID == "" {
				publicID = d.Address // LAN discoveries only carry an address until a handshake resolves public_id
			}
			registry.ReportPeer(t.Kind(), publicID, d.Address, d.Signal, d.Port)
		}
	}
}

// reconcileStaleLoop periodically prunes peers whose every transport
// entry has gone quiet (spec §4.7 prune_stale).
func reconcileStaleLoop(ctx context.Context, cfg config.Source, registry *peerregistry.Registry) {
	ticker := time.NewTicker(discoveryPoll)
	defer ticker.Stop()
	threshold := cfg.GetDuration(config.KeyStaleThreshold)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.PruneStale(threshold)
		}
	}
}

// runCycleLoop calls RunCycle on a ticker whose period is a quarter of
// the configured cooldown (one second if that is not positive), so the
// scheduler doesn't spin hot against an unchanged peer set (spec §4.6).
func runCycleLoop(ctx context.Context, cfg config.Source, sched *scheduler.Scheduler, telemetry *external.AsyncTelemetry) {
	pace := cfg.GetDuration(config.KeyCooldown) / 4
	if pace <= 0 {
		pace = time.Second
	}
	ticker := time.NewTicker(pace)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sched.RunCycle(ctx)
			telemetry.Track("scheduler_cycle_completed", nil)
		}
	}
}

func levelFromString(s string) int {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "info":
		return logging.LevelInfo
	case "error":
		return logging.LevelError
	default:
		return logging.LevelSilent
	}
}
