package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/motor-control/mcn/internal/api"
	"github.com/motor-control/mcn/internal/audit"
	"github.com/motor-control/mcn/internal/auth"
	"github.com/motor-control/mcn/internal/command"
	"github.com/motor-control/mcn/internal/config"
	"github.com/motor-control/mcn/internal/logging"
	"github.com/motor-control/mcn/internal/metrics"
	"github.com/motor-control/mcn/internal/motor"
	"github.com/motor-control/mcn/internal/telemetry"
	"github.com/motor-control/mcn/internal/telemetry/mqttpub"
	"github.com/motor-control/mcn/internal/telemetry/redispub"
	"github.com/motor-control/mcn/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the motor control node",
	Long: `Starts the control loop, the command listeners (TCP, UDP, WebSocket,
optionally MQTT) and the HTTP status API. Configuration is read from --config
or $MCN_CONFIG, then overridden by MCN_* environment variables.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "path to YAML config file")
	serveCmd.Flags().String("driver", "", "motor driver override (fake, serial, gpio)")
	serveCmd.Flags().String("log-level", "", "log level override (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if d, _ := cmd.Flags().GetString("driver"); d != "" {
		cfg.Motor.Driver = d
	}
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		cfg.Log.Level = l
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, logCloser, err := logging.FromConfig(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg, log)
	if err != nil {
		return err
	}
	return n.run(ctx)
}

// node owns every long-lived component of a running instance.
type node struct {
	cfg *config.Config
	log *slog.Logger

	metrics *metrics.Metrics
	hub     *telemetry.Hub
	audit   *audit.Logger
	mqtt    *mqttpub.Publisher
	redis   *redispub.Publisher
	driver  motor.Driver
	inbox   *transport.Inbox
	loop    *command.Loop

	tcp *transport.TCPServer
	udp *transport.UDPServer
	ws  *transport.WSHandler
	api *api.Server

	closers []io.Closer
}

// newNode builds and binds every enabled component. On error, anything
// already opened is closed.
func newNode(ctx context.Context, cfg *config.Config, log *slog.Logger) (n *node, err error) {
	n = &node{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		hub:     telemetry.NewHub(cfg.Telemetry),
		inbox:   transport.NewInbox(),
	}
	defer func() {
		if err != nil {
			n.closeAll()
			n = nil
		}
	}()

	publishers := []telemetry.Publisher{n.hub}

	if cfg.Audit.Enabled {
		if n.audit, err = audit.NewLogger(cfg.Audit); err != nil {
			return n, err
		}
		n.closers = append(n.closers, n.audit)
		log.Info("Audit log enabled", "path", n.audit.GetFilePath())
	}

	if cfg.MQTT.Enabled {
		if n.mqtt, err = mqttpub.Connect(cfg.MQTT, log); err != nil {
			return n, err
		}
		n.closers = append(n.closers, n.mqtt)
		publishers = append(publishers, n.mqtt)
	}

	if cfg.Redis.Enabled {
		if n.redis, err = redispub.Dial(ctx, cfg.Redis, log); err != nil {
			return n, err
		}
		n.closers = append(n.closers, n.redis)
		publishers = append(publishers, n.redis)
	}

	if n.driver, err = openDriver(cfg.Motor); err != nil {
		return n, fmt.Errorf("failed to open motor driver: %w", err)
	}
	id, model, _ := motor.Describe(n.driver)
	log.Info("Motor driver ready", "id", id, "model", model)

	opts := []command.Option{
		command.WithLogger(log),
		command.WithPublisher(telemetry.Multi(publishers...)),
		command.WithRecorder(n.metrics),
	}
	if n.audit != nil {
		opts = append(opts, command.WithAudit(n.audit))
	}
	n.loop = command.NewLoop(cfg, n.inbox, n.driver, opts...)
	n.hub.SetSnapshot(func() any { return n.loop.Snapshot() })

	hooks := n.transportHooks()
	maxLine := cfg.Transport.MaxLineLength

	if cfg.Transport.TCP.Enabled {
		if n.tcp, err = transport.NewTCPServer(cfg.Transport.TCP, maxLine, n.inbox, log, hooks); err != nil {
			return n, err
		}
		if err = n.tcp.Listen(); err != nil {
			return n, err
		}
	}

	if cfg.Transport.UDP.Enabled {
		if n.udp, err = transport.NewUDPServer(cfg.Transport.UDP, maxLine, n.inbox, log, hooks); err != nil {
			return n, err
		}
		if err = n.udp.Listen(); err != nil {
			return n, err
		}
	}

	if cfg.Transport.WebSocket.Enabled {
		n.ws = transport.NewWSHandler(maxLine, cfg.Transport.WebSocket.Ack, n.inbox, log, hooks)
	}

	if n.mqtt != nil {
		err = n.mqtt.SubscribeCommands(cfg.MQTT.ConnectTimeout, func(text, source string) {
			if len(text) > maxLine {
				hooks.OnReject(transport.NameMQTT, source, transport.ReasonOverLength)
				return
			}
			hooks.OnLine(transport.NameMQTT)
			n.inbox.Offer(transport.Line{Text: text, Source: source, Transport: transport.NameMQTT})
		})
		if err != nil {
			return n, err
		}
	}

	if cfg.API.Enabled {
		apiOpts := []api.Option{api.WithVersion(Version)}
		if n.ws != nil {
			apiOpts = append(apiOpts, api.WithWebSocket(n.ws))
		}
		if cfg.API.Metrics {
			apiOpts = append(apiOpts, api.WithMetrics(n.metrics.Handler()))
		}
		if cfg.API.JWTSecret != "" {
			v, err := auth.NewVerifier(cfg.API.JWTSecret)
			if err != nil {
				return n, err
			}
			apiOpts = append(apiOpts, api.WithAuth(auth.NewMiddleware(v)))
			log.Info("Status API requires bearer tokens")
		}
		n.api = api.NewServer(cfg.API, n.loop, n.hub, log, apiOpts...)
		if err = n.api.Listen(); err != nil {
			return n, err
		}
	}

	return n, nil
}

// transportHooks routes transport events into metrics and the audit log.
func (n *node) transportHooks() transport.Hooks {
	return transport.Hooks{
		OnLine: n.metrics.LineReceived,
		OnReject: func(name, source, reason string) {
			n.metrics.CommandRejected(reason)
			if n.audit != nil {
				n.audit.Log(audit.Entry{
					Source:  source,
					Action:  "command",
					Params:  map[string]any{"transport": name, "reason": reason},
					Outcome: audit.OutcomeRejected,
					Code:    reason,
				})
			}
		},
		OnSupersede: func(name, source string) {
			n.metrics.Superseded(name)
		},
	}
}

// run serves until ctx is done or a server fails, then shuts down in order:
// listeners, control loop (final STOP), API, telemetry, driver.
func (n *node) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 4)
	var servers sync.WaitGroup
	serve := func(name string, fn func() error) {
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := fn(); err != nil {
				serveErr <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if n.tcp != nil {
		serve("tcp", n.tcp.Serve)
	}
	if n.udp != nil {
		serve("udp", n.udp.Serve)
	}
	if n.api != nil {
		serve("api", n.api.Serve)
	}

	if n.audit != nil {
		go n.rotateOnHangup(ctx)
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- n.loop.Run(ctx) }()

	n.log.Info("Motor control node started", "version", Version, "watchdog", n.cfg.Watchdog.Timeout)

	var runErr error
	select {
	case <-ctx.Done():
		n.log.Info("Shutting down")
	case runErr = <-serveErr:
		n.log.Error("Server failed, shutting down", "error", runErr)
	}

	n.closeListeners()
	cancel()
	if err := <-loopDone; err != nil {
		n.log.Error("Control loop stopped with error", "error", err)
		runErr = errors.Join(runErr, err)
	}

	if n.api != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), n.cfg.API.ShutdownTimeout)
		if err := n.api.Stop(shutdownCtx); err != nil {
			n.log.Warn("HTTP API shutdown incomplete", "error", err)
		}
		done()
	}
	servers.Wait()

	n.closeAll()
	n.log.Info("Motor control node stopped")
	return runErr
}

// rotateOnHangup rotates the audit file on SIGHUP until ctx is done.
func (n *node) rotateOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := n.audit.Rotate(); err != nil {
				n.log.Warn("Audit log rotation failed", "error", err)
				continue
			}
			n.log.Info("Audit log rotated", "path", n.audit.GetFilePath())
		}
	}
}

func (n *node) closeListeners() {
	if n.tcp != nil {
		_ = n.tcp.Close()
	}
	if n.udp != nil {
		_ = n.udp.Close()
	}
	if n.ws != nil {
		_ = n.ws.Close()
	}
}

// closeAll releases everything newNode opened. Safe to call on a partially
// built node.
func (n *node) closeAll() {
	n.closeListeners()
	if n.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = n.api.Stop(ctx)
		cancel()
	}
	n.hub.Stop()
	if n.driver != nil {
		if err := n.driver.Close(); err != nil {
			n.log.Warn("Failed to close motor driver", "error", err)
		}
	}
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			n.log.Warn("Failed to close component", "error", err)
		}
	}
	n.closers = nil
}
