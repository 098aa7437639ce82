//go:build linux

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/midibridged/midibridged/internal/bridge"
	"github.com/midibridged/midibridged/internal/config"
	"github.com/midibridged/midibridged/internal/controlapi"
	"github.com/midibridged/midibridged/internal/discovery"
	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/localmidi"
	"github.com/midibridged/midibridged/internal/metrics"
	"github.com/midibridged/midibridged/internal/router"
	"github.com/midibridged/midibridged/internal/rtpclient"
	"github.com/midibridged/midibridged/internal/rtppeer"
	"github.com/midibridged/midibridged/internal/rtpserver"
	"github.com/midibridged/midibridged/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	localSSRC, err := randomSSRC()
	if err != nil {
		slog.Error("failed to generate local ssrc", "error", err)
		os.Exit(1)
	}

	slog.Info("starting midibridged",
		"alsa_name", cfg.ALSAName,
		"local_ssrc", fmt.Sprintf("%08x", localSSRC),
		"hw_auto_export", cfg.HWAutoExport,
		"control_api_addr", cfg.ControlAPIAddr,
		"metrics_addr", cfg.MetricsAddr,
	)

	loop, err := eventloop.New()
	if err != nil {
		slog.Error("failed to create event loop", "error", err)
		os.Exit(1)
	}
	defer loop.Release()

	r := router.New()
	recoveryCounter := &stats.Counter{}
	ckLatency := stats.NewWindow(stats.DefaultSize, stats.DefaultHorizon)

	// No real ALSA sequencer or mDNS binding is wired in yet; these
	// in-process stand-ins satisfy the same interfaces and let every
	// other component run unchanged once a real binding replaces them.
	seq := localmidi.NewMemSequencer()
	disc := discovery.NewMemDiscoverer()

	// hwExporter decides which locally-announced clients get auto-exported
	// once a real ALSA client-announcement binding feeds it device kinds.
	hwExporter := bridge.NewHardwareAutoExporter(cfg.HWAutoExport)
	slog.Info("hardware auto-export policy active", "policy", cfg.HWAutoExport)
	_ = hwExporter

	filter, err := bridge.NewDiscoveryFilter(cfg.Discovery.NamePositiveRegex, cfg.Discovery.NameNegativeRegex)
	if err != nil {
		slog.Error("invalid discovery name filter", "error", err)
		os.Exit(1)
	}

	multi, err := bridge.NewMultiListener(loop, r, seq, disc, cfg.ALSAName, "0.0.0.0", localSSRC, logger)
	if err != nil {
		slog.Error("failed to create multi-listener", "error", err)
		os.Exit(1)
	}
	_ = multi

	for _, name := range cfg.ALSAAnnounces {
		port, err := seq.CreatePort(name)
		if err != nil {
			slog.Error("failed to create local sequencer port", "name", name, "error", err)
			continue
		}
		worker := bridge.NewLocalWorker(seq, port, name)
		worker.Attach(r)
		slog.Info("local sequencer port ready", "name", name)
	}

	for _, a := range cfg.RTPMIDIAnnounces {
		if err := startStaticListener(loop, r, seq, a.Name, a.Port, localSSRC, logger); err != nil {
			slog.Error("failed to start static listener", "name", a.Name, "port", a.Port, "error", err)
			os.Exit(1)
		}
		slog.Info("static network listener bound", "name", a.Name, "port", a.Port)
	}

	for _, ct := range cfg.ConnectTo {
		waiter, err := bridge.NewWaiter(loop, r, seq, ct.Name, localSSRC,
			[]rtpclient.Endpoint{{Host: ct.Hostname, Port: ct.Port}}, logger)
		if err != nil {
			slog.Error("failed to create waiter", "name", ct.Name, "error", err)
			os.Exit(1)
		}
		_ = waiter
		slog.Info("waiter configured", "name", ct.Name, "host", ct.Hostname, "port", ct.Port)
	}

	for _, raw := range cfg.RawMIDI {
		if err := startRawMIDIBridge(loop, r, raw, localSSRC, logger); err != nil {
			slog.Error("failed to start raw-midi bridge", "device", raw.Device, "error", err)
			os.Exit(1)
		}
		slog.Info("raw-midi bridge ready", "device", raw.Device, "name", raw.Name)
	}

	if cfg.Discovery.Enabled {
		disc.OnDiscovered(func(e discovery.Endpoint) {
			if !filter.Allow(e.Name) {
				slog.Debug("discovered service rejected by name filter", "name", e.Name)
				return
			}
			slog.Info("discovered rtp-midi service, connecting", "name", e.Name, "host", e.Host, "port", e.Port)
			if _, err := bridge.NewWaiter(loop, r, seq, e.Name, localSSRC,
				[]rtpclient.Endpoint{{Host: e.Host, Port: e.Port}}, logger); err != nil {
				slog.Error("failed to connect to discovered service", "name", e.Name, "error", err)
			}
		})
	}

	controlSrv := controlapi.NewServer(r, logger)
	controlHTTP := controlSrv.Serve(cfg.ControlAPIAddr)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(r, ckLatency, recoveryCounter, time.Now())
	registry.MustRegister(collector)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsHTTP := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 3)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	go func() {
		if err := loop.Run(loopCtx); err != nil {
			errCh <- fmt.Errorf("event loop: %w", err)
		}
	}()

	go func() {
		slog.Info("control api listening", "addr", cfg.ControlAPIAddr)
		if err := controlHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control api: %w", err)
		}
	}()

	go func() {
		slog.Info("metrics endpoint listening", "addr", cfg.MetricsAddr)
		if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics endpoint: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("component error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	loopCancel()

	if err := controlHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("control api shutdown error", "error", err)
	}
	if err := metricsHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics endpoint shutdown error", "error", err)
	}

	slog.Info("midibridged stopped")
}

// randomSSRC draws a cryptographically random 32-bit value, avoiding
// zero since that value is reserved by rtppeer for "not yet set".
func randomSSRC() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		if v := binary.BigEndian.Uint32(buf[:]); v != 0 {
			return v, nil
		}
	}
}

// startStaticListener binds a standing RTP-MIDI server on port,
// pairing every accepted session with a dedicated local sequencer
// port of the same name. Unlike bridge.MultiListener, this listener is
// opened once at startup regardless of local subscription activity,
// matching an operator-configured rtpmidi_announces[] entry rather
// than an on-demand local connection.
func startStaticListener(loop *eventloop.Loop, r *router.Router, seq localmidi.Sequencer, name string, port int, localSSRC uint32, log *slog.Logger) error {
	listener, err := rtpserver.Open(loop, "0.0.0.0", port, name, localSSRC, log)
	if err != nil {
		return err
	}

	localPort, err := seq.CreatePort(name)
	if err != nil {
		return fmt.Errorf("creating local sequencer port %q: %w", name, err)
	}
	local := bridge.NewLocalWorker(seq, localPort, name)
	localID := local.Attach(r)

	listener.OnNewPeer(func(peer *rtppeer.Peer) {
		worker := bridge.NewNetworkPeerWorker(peer, "network-server")
		workerID := worker.Attach(r, func(f func()) { loop.CallLater(f) })
		r.Connect(localID, workerID)
		r.Connect(workerID, localID)
	})
	return nil
}

// startRawMIDIBridge wires a raw-MIDI device or FIFO peer to the
// router, paired with both a static RTP-MIDI listener on
// LocalUDPPort and a connector dialing Hostname:RemoteUDPPort. Each
// network side is started only when its settings are present: the
// listener when LocalUDPPort is non-zero, the connector when both
// Hostname and RemoteUDPPort are set.
func startRawMIDIBridge(loop *eventloop.Loop, r *router.Router, raw config.RawMIDI, localSSRC uint32, log *slog.Logger) error {
	devicePeer := bridge.NewRawMIDIPeer(loop, raw.Name, raw.Device, log)
	deviceID := devicePeer.Attach(r)

	if raw.LocalUDPPort != 0 {
		listener, err := rtpserver.Open(loop, "0.0.0.0", raw.LocalUDPPort, raw.Name, localSSRC, log)
		if err != nil {
			return fmt.Errorf("opening raw-midi listener for %q: %w", raw.Name, err)
		}
		listener.OnNewPeer(func(peer *rtppeer.Peer) {
			worker := bridge.NewNetworkPeerWorker(peer, "network-server")
			workerID := worker.Attach(r, func(f func()) { loop.CallLater(f) })
			r.Connect(deviceID, workerID)
			r.Connect(workerID, deviceID)
		})
	}

	if raw.Hostname != "" && raw.RemoteUDPPort != 0 {
		connector := rtpclient.New(loop, raw.Name, localSSRC,
			[]rtpclient.Endpoint{{Host: raw.Hostname, Port: raw.RemoteUDPPort}}, log)
		if err := connector.Start(); err != nil {
			return fmt.Errorf("starting raw-midi connector for %q: %w", raw.Name, err)
		}
		worker := bridge.NewNetworkPeerWorker(connector.Peer(), "network-client")
		workerID := worker.Attach(r, func(f func()) { loop.CallLater(f) })
		r.Connect(deviceID, workerID)
		r.Connect(workerID, deviceID)
	}

	return nil
}
