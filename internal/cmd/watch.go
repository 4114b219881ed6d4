package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	"github.com/felixgeelhaar/assetdesk/internal/fetch"
	"github.com/felixgeelhaar/assetdesk/internal/health"
	"github.com/felixgeelhaar/assetdesk/internal/metrics"
	"github.com/felixgeelhaar/assetdesk/internal/server"
	"github.com/felixgeelhaar/assetdesk/internal/session"
	"github.com/felixgeelhaar/assetdesk/internal/status"
	"github.com/felixgeelhaar/assetdesk/internal/tui"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
	"github.com/felixgeelhaar/assetdesk/internal/version"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a live view of loans and tickets",
	Long: `Keep the session open and poll loans and tickets.

The session is re-checked on the configured liveness interval; when the
server stops accepting it the view clears and waits for a new sign-in from
another terminal. With --metrics-addr the process also serves
/health/live, /health/ready and /metrics.

Examples:
  assetdesk watch
  assetdesk watch --no-tui --interval 1m
  assetdesk watch --metrics-addr 127.0.0.1:9464`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", 30*time.Second, "poll interval")
	watchCmd.Flags().Bool("no-tui", false, "print one line per update instead of the dashboard")
	watchCmd.Flags().String("metrics-addr", "", "serve health probes and metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

// watcher polls loans and tickets and publishes results as dashboard
// messages.
type watcher struct {
	loans   *fetch.Fetcher[[]api.Loan]
	tickets *fetch.Fetcher[[]api.Ticket]
	emit    func(tea.Msg)

	mu sync.Mutex
}

func newWatcher(c *console, emit func(tea.Msg)) *watcher {
	opts := func(resource string) fetch.Options {
		return fetch.Options{Resource: resource, Logger: c.logger, Metrics: c.metrics}
	}
	return &watcher{
		loans:   fetch.New[[]api.Loan](c.client, c.session, opts("loans")),
		tickets: fetch.New[[]api.Ticket](c.client, c.session, opts("tickets")),
		emit:    emit,
	}
}

// start issues the first reads and publishes them.
func (w *watcher) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.publish(w.loans.Run(fetch.Get("/loans", nil)), w.tickets.Run(fetch.Get("/tickets", nil)))
}

// refresh rereads both resources and publishes the results.
func (w *watcher) refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.publish(w.loans.Refetch(), w.tickets.Refetch())
}

func (w *watcher) publish(loansDone, ticketsDone <-chan struct{}) {
	<-loansDone
	l := w.loans.Snapshot()
	w.emit(tui.LoansMsg{Loans: l.Data, Err: l.Err})

	<-ticketsDone
	t := w.tickets.Snapshot()
	w.emit(tui.TicketsMsg{Tickets: t.Data, Err: t.Err})
}

// poll refreshes on every tick until ctx is done.
func (w *watcher) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

func (w *watcher) Close() {
	w.loans.Close()
	w.tickets.Close()
}

// newProbes registers the checks behind /health/ready.
func newProbes(c *console, httpClient *http.Client) *health.Probes {
	probes := health.NewProbes(version.GetInfo().Version)
	probes.AddChecker(health.NewHTTPChecker("api", strings.TrimRight(c.cfg.API.BaseURL, "/")+"/health", httpClient))
	probes.AddChecker(health.NewConnectivityChecker(api.InterfaceProbe{}))
	probes.AddChecker(health.NewSessionChecker(c.session))
	probes.AddChecker(health.NewFileModeChecker("token-cache", c.cfg.Session.TokenCache))
	if c.cfg.Identity.Issuer != "" {
		probes.AddChecker(health.NewDiscoveryChecker(c.cfg.Identity.Issuer, httpClient))
	}
	return probes
}

func runWatch(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c, err := loadConsole(cmd, consoleOptions{watch: true})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if metricsAddr == "" {
		metricsAddr = c.cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		probes := newProbes(c, &http.Client{Timeout: c.cfg.API.Timeout})
		probes.MarkResolved()
		srv := server.NewServer(probes, server.Config{
			Address: metricsAddr,
			Metrics: metrics.Handler(),
			Logger:  c.logger,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				c.logger.WithError(err).Error("probe server stopped", "addr", metricsAddr)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
		c.logger.Info("serving probes and metrics", "addr", metricsAddr)
	}

	if noTUI || !tui.IsInteractive() {
		return watchLines(ctx, c, cmd.OutOrStdout(), interval)
	}
	return watchDashboard(ctx, c, interval)
}

func watchDashboard(ctx context.Context, c *console, interval time.Duration) error {
	var w *watcher
	model := tui.NewDashboard(func() tea.Cmd {
		return func() tea.Msg {
			w.refresh()
			return nil
		}
	})

	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	w = newWatcher(c, p.Send)
	defer w.Close()

	unsubscribe := c.session.OnChange(func(s session.Snapshot) {
		p.Send(tui.SessionMsg{Snapshot: s})
		if s.State == session.Authenticated {
			go w.refresh()
		}
	})
	defer unsubscribe()

	go func() {
		p.Send(tui.SessionMsg{Snapshot: c.session.Snapshot()})
		w.start()
		w.poll(ctx, interval)
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func watchLines(ctx context.Context, c *console, out io.Writer, interval time.Duration) error {
	var mu sync.Mutex
	emit := func(msg tea.Msg) {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		switch m := msg.(type) {
		case tui.LoansMsg:
			fmt.Fprintln(out, summaryLine("loans", m.Loans, m.Err, now))
		case tui.TicketsMsg:
			fmt.Fprintln(out, summaryLine("tickets", m.Tickets, m.Err, now))
		case tui.SessionMsg:
			fmt.Fprintf(out, "%s session %s\n", now.Format(time.TimeOnly), m.Snapshot.State)
		}
	}

	w := newWatcher(c, emit)
	defer w.Close()

	unsubscribe := c.session.OnChange(func(s session.Snapshot) {
		emit(tui.SessionMsg{Snapshot: s})
		if s.State == session.Authenticated {
			go w.refresh()
		}
	})
	defer unsubscribe()

	emit(tui.SessionMsg{Snapshot: c.session.Snapshot()})
	w.start()
	w.poll(ctx, interval)
	return nil
}

// summaryLine renders one poll result, for example
// "12:00:00 loans 4: active 2, overdue 1, returned 1".
func summaryLine[T record](resource string, records []T, err error, now time.Time) string {
	prefix := now.Format(time.TimeOnly) + " " + resource
	if err != nil {
		return fmt.Sprintf("%s error: %s", prefix, ux.FormatError(err, false))
	}

	by := map[status.Status]int{}
	for _, r := range records {
		by[status.Derive(r.Record(), now)]++
	}
	parts := make([]string, 0, len(by))
	for s, n := range by {
		parts = append(parts, fmt.Sprintf("%s %d", ux.StatusLabel(s), n))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s %d: %s", prefix, len(records), strings.Join(parts, ", "))
}
