package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type TelemetryService interface {
	Run(ctx context.Context) error
}

type TelemetryServiceParams struct {
	Core *TelemetryCore

	TickInterval   time.Duration
	ReportInterval time.Duration

	// OnReport receives each periodic stats snapshot, after it has been
	// logged. Used to feed metrics.
	OnReport func(Stats)

	Log zerolog.Logger
}

func (p *TelemetryServiceParams) EnsureDefaults() {
	if p.TickInterval == 0 {
		p.TickInterval = 250 * time.Millisecond
	}
	if p.ReportInterval == 0 {
		p.ReportInterval = 30 * time.Second
	}
}

type telemetryService struct {
	params TelemetryServiceParams

	log zerolog.Logger
}

func NewTelemetryService(params TelemetryServiceParams) (TelemetryService, error) {
	if params.Core == nil {
		return nil, fmt.Errorf("Core is nil")
	}
	params.EnsureDefaults()
	return &telemetryService{params: params, log: params.Log}, nil
}

func (t telemetryService) Run(ctx context.Context) error {
	g := errgroup.Group{}

	// device tick loop
	g.Go(func() error {
		t.log.Info().Msgf("start ticking every %s", t.params.TickInterval)
		defer t.log.Info().Msg("stop ticking")

		ticker := time.NewTicker(t.params.TickInterval)
		defer ticker.Stop()

	TickLoop:
		for {
			select {
			case <-ctx.Done():
				break TickLoop
			case now := <-ticker.C:
				t.params.Core.Tick(now)
			}
		}

		return nil
	})

	// stats reporter
	g.Go(func() error {
		ticker := time.NewTicker(t.params.ReportInterval)
		defer ticker.Stop()
		lastStats := Stats{}

	ReporterLoop:
		for {
			select {
			case <-ctx.Done():
				break ReporterLoop
			case <-ticker.C:
				newStats := t.params.Core.Stats()
				sentDiff := newStats.Session.Sent - lastStats.Session.Sent
				droppedDiff := newStats.Session.Dropped - lastStats.Session.Dropped

				t.log.Info().
					Str("link", newStats.Link.String()).
					Str("session", newStats.Session.State.String()).
					Uint64("sent", sentDiff).
					Uint64("dropped", droppedDiff).
					Int("buffered", newStats.Session.Buffered).
					Uint64("reconnects", newStats.Session.Reconnects).
					Msg("telemetry report")

				if t.params.OnReport != nil {
					t.params.OnReport(newStats)
				}
				lastStats = newStats
			}
		}

		return nil
	})

	return g.Wait()
}
