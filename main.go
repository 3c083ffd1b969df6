package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pinpilot-telemetry/adapters"
	"pinpilot-telemetry/application"
	"pinpilot-telemetry/config"
	"pinpilot-telemetry/observability"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfig,
	FlagBrokerURL,
	FlagDeviceID,
	FlagMQTTUsername,
	FlagMQTTPassword,
	FlagProbeAddr,
	FlagMetricsAddr,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "pinpilot-telemetry",
		Version: "v0.0.1",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "pinpilot-telemetry").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			go func() {
				c := make(chan os.Signal)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			cfg, err := config.Load(ctx.String(FlagConfig.Name))
			if err != nil {
				return err
			}

			// Flags override file values.
			if v := ctx.String(FlagDeviceID.Name); v != "" {
				cfg.Device.ID = v
			}
			if v := ctx.String(FlagMQTTUsername.Name); v != "" {
				cfg.Session.Username = v
			}
			if v := ctx.String(FlagMQTTPassword.Name); v != "" {
				cfg.Session.Password = v
			}
			if v := ctx.String(FlagMetricsAddr.Name); v != "" {
				cfg.Metrics.Addr = v
			}
			if v := ctx.String(FlagBrokerURL.Name); v != "" {
				cfg.Session.BrokerURL = v
				// The probe target tracks the broker unless pinned below.
				cfg.Link.ProbeAddr = ""
			}
			if v := ctx.String(FlagProbeAddr.Name); v != "" {
				cfg.Link.ProbeAddr = v
			}
			cfg.ApplyDefaults()
			if err := config.Validate(cfg); err != nil {
				return err
			}

			var credentials adapters.CredentialsSource
			if cfg.Auth.TokenSecret != "" {
				tokenSource, err := adapters.NewTokenSource(adapters.TokenSourceParams{
					DeviceID: cfg.Device.ID,
					Secret:   []byte(cfg.Auth.TokenSecret),
					Audience: cfg.Auth.TokenAudience,
					TTL:      cfg.TokenTTL(),
					Log:      logger.With().Str("module", "token-source").Logger(),
				})
				if err != nil {
					return err
				}
				credentials = tokenSource
			}

			transport := adapters.NewMQTTTransport(adapters.MQTTTransportParams{
				BrokerURL:      cfg.Session.BrokerURL,
				Username:       cfg.Session.Username,
				Password:       cfg.Session.Password,
				Credentials:    credentials,
				StatusTopic:    cfg.Device.StatusTopic,
				QoS:            byte(cfg.Session.QoS),
				ConnectTimeout: cfg.ConnectTimeout(),
				SendTimeout:    cfg.SendTimeout(),
				KeepAlive:      cfg.KeepAlive(),
				Log:            logger.With().Str("module", "mqtt-transport").Logger(),
			})
			defer func() {
				_ = transport.Close()
			}()

			// The probe reports transitions into the link manager, which
			// is built right after it.
			var linkManager *application.LinkManager
			probe, err := adapters.NewNetProbe(adapters.NetProbeParams{
				Addr:            cfg.Link.ProbeAddr,
				Timeout:         cfg.ProbeTimeout(),
				RecheckInterval: cfg.RecheckInterval(),
				OnEvent: func(ev application.LinkEvent) {
					linkManager.OnLinkEvent(ev)
				},
				Log: logger.With().Str("module", "netprobe").Logger(),
			})
			if err != nil {
				return err
			}

			linkManager, err = application.NewLinkManager(application.LinkManagerParams{
				Provider:   probe,
				Backoff:    cfg.LinkBackoff(),
				MaxRetries: cfg.Link.MaxRetries,
				OnFailed: func() {
					logger.Error().Msg("link retries exhausted, waiting for operator or a link event")
				},
				Log: logger.With().Str("module", "link-manager").Logger(),
			})
			if err != nil {
				return err
			}

			outbox := application.NewOutbox(cfg.Session.OutboxCapacity)

			sessionManager, err := application.NewSessionManager(application.SessionManagerParams{
				Transport:   transport,
				Link:        linkManager,
				Outbox:      outbox,
				ClientID:    cfg.ClientID(),
				StatusTopic: cfg.Device.StatusTopic,
				Backoff:     cfg.SessionBackoff(),
				Log:         logger.With().Str("module", "session-manager").Logger(),
			})
			if err != nil {
				return err
			}

			telemetryCore, err := application.NewTelemetryCore(application.TelemetryCoreParams{
				Link:           linkManager,
				Session:        sessionManager,
				Heartbeat:      application.NewHeartbeatScheduler(cfg.HeartbeatInterval(), time.Now()),
				DeviceID:       cfg.Device.ID,
				HeartbeatTopic: cfg.Device.HeartbeatTopic,
				Log:            logger.With().Str("module", "telemetry-core").Logger(),
			})
			if err != nil {
				return err
			}

			reporter := observability.NewReporter()

			telemetryService, err := application.NewTelemetryService(application.TelemetryServiceParams{
				Core:           telemetryCore,
				TickInterval:   cfg.TickInterval(),
				ReportInterval: cfg.ReportInterval(),
				OnReport:       reporter.Record,
				Log:            logger.With().Str("module", "telemetry-service").Logger(),
			})
			if err != nil {
				return err
			}

			logger.Info().Msgf("device id: %s, broker: %s", cfg.Device.ID, cfg.Session.BrokerURL)

			g := errgroup.Group{}
			g.Go(func() error {
				return telemetryService.Run(appCtx)
			})
			g.Go(func() error {
				return probe.Watch(appCtx)
			})
			if cfg.Metrics.Addr != "" {
				g.Go(func() error {
					return observability.Serve(appCtx, cfg.Metrics.Addr, logger.With().Str("module", "metrics").Logger())
				})
			}

			logger.Info().Msg("service started")
			err = g.Wait()
			if err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
		Authors: []*cli.Author{
			{
				Name:  "Marcin Gorzynski",
				Email: "marcin@gorzynski.me",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}
