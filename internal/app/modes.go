package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/events"
	"github.com/alanyoungcy/klio/internal/server"
	"github.com/alanyoungcy/klio/internal/server/handler"
	"github.com/alanyoungcy/klio/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP and WebSocket API together with the background
// workers: the WebSocket hub, notification delivery and the ledger archive
// loop.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Signals, a.logger, ws.Config{
		StartedAt: time.Now().UTC(),
		Replay:    func() []events.Event { return deps.Bus.History("") },
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(deps.Store, a.logger),
			Markets: handler.NewMarketHandler(deps.Markets, a.logger),
			Ledger:  handler.NewLedgerHandler(deps.Ledger, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.Subscriber != nil {
		g.Go(func() error {
			return deps.Subscriber.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		interval := a.cfg.S3.ArchiveInterval.Duration
		retention := time.Duration(a.cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
		a.logger.InfoContext(ctx, "app: ledger archive enabled",
			slog.Duration("interval", interval),
			slog.Duration("retention", retention),
		)
		g.Go(func() error {
			return deps.Ledger.RunArchiveLoop(ctx, interval, retention)
		})
	}

	return g.Wait()
}

// reportLimit caps the number of markets printed by ReportMode.
const reportLimit = 500

// ReportMode prints a summary of the platform and its markets, then exits.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	stats, err := deps.Ledger.Stats(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	markets, err := deps.Markets.ListMarkets(ctx, domain.MarketFilter{
		ListOpts: domain.ListOpts{Limit: reportLimit},
	})
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	summary := tablewriter.NewWriter(a.out)
	summary.Header("Markets", "Open", "Resolved", "Volume", "Trades", "Traders", "Positions")
	if err := summary.Append(
		fmt.Sprintf("%d", stats.TotalMarkets),
		fmt.Sprintf("%d", stats.OpenMarkets),
		fmt.Sprintf("%d", stats.ResolvedMarkets),
		stats.TotalVolume.StringFixed(2),
		fmt.Sprintf("%d", stats.TotalTrades),
		fmt.Sprintf("%d", stats.UniqueTraders),
		fmt.Sprintf("%d", stats.TotalPositions),
	); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := summary.Render(); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if len(markets) == 0 {
		fmt.Fprintln(a.out, "no markets")
		return nil
	}

	table := tablewriter.NewWriter(a.out)
	table.Header("ID", "Category", "Description", "Status", "Yes", "No", "Volume", "Deadline")
	for _, m := range markets {
		if err := table.Append(
			m.ID,
			m.Category,
			truncate(m.Description, 40),
			string(m.Status()),
			m.YesPrice.StringFixed(4),
			m.NoPrice.StringFixed(4),
			m.TotalVolume.StringFixed(2),
			m.Deadline.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
