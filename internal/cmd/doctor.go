package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	"github.com/felixgeelhaar/assetdesk/internal/config"
	"github.com/felixgeelhaar/assetdesk/internal/health"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, connectivity and the stored session",
	Long: `Run the console's health checks and report the results.

Checks the API, the identity provider, network reachability, the stored
session and the permissions of the credential files. Exits non-zero when
any check is unhealthy.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// failedCheck reports a component that could not be set up.
type failedCheck struct {
	name string
	err  error
}

func (c failedCheck) Name() string { return c.name }

func (c failedCheck) Check(context.Context) *health.Result {
	return health.Unhealthy(ux.FormatError(c.err, false)).WithDetail("error", c.err.Error())
}

// doctorCheck is one row of the report.
type doctorCheck struct {
	Name       string         `json:"name" yaml:"name"`
	Status     health.Status  `json:"status" yaml:"status"`
	Message    string         `json:"message" yaml:"message"`
	Details    map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	DurationMS int64          `json:"duration_ms" yaml:"duration_ms"`
}

// doctorReport is the printable result of all checks.
type doctorReport struct {
	Status health.Status `json:"status" yaml:"status"`
	Checks []doctorCheck `json:"checks" yaml:"checks"`
}

func (r doctorReport) Table(bool) *ux.Table {
	t := &ux.Table{Headers: []string{"CHECK", "STATUS", "MESSAGE", "DETAILS"}}
	for _, c := range r.Checks {
		t.Rows = append(t.Rows, []string{c.Name, string(c.Status), c.Message, formatDetails(c.Details)})
	}
	return t
}

func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}

func newDoctorReport(m *health.Manager, results map[string]*health.Result) doctorReport {
	report := doctorReport{Status: m.OverallStatus(results)}
	for _, r := range m.Ordered(results) {
		report.Checks = append(report.Checks, doctorCheck{
			Name:       r.Name,
			Status:     r.Status,
			Message:    r.Message,
			Details:    r.Details,
			DurationMS: r.Latency.Milliseconds(),
		})
	}
	return report
}

// doctorChecks registers the checks that need only configuration.
func doctorChecks(m *health.Manager, cfg *config.Config, client *http.Client) {
	m.AddChecker(health.NewHTTPChecker("api", strings.TrimRight(cfg.API.BaseURL, "/")+"/health", client))
	if cfg.Identity.Issuer != "" {
		m.AddChecker(health.NewDiscoveryChecker(cfg.Identity.Issuer, client))
	} else {
		m.AddChecker(health.NewHTTPChecker("identity-provider", cfg.Identity.TokenURL, client))
	}
	m.AddChecker(health.NewConnectivityChecker(api.InterfaceProbe{}))
	m.AddChecker(health.NewFileModeChecker("token-cache", cfg.Session.TokenCache))
	m.AddChecker(health.NewFileModeChecker("identity-store", cfg.Session.IdentityStore))
}

var errDoctorUnhealthy = errors.New("one or more health checks failed")

func runDoctor(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cmdCtx.ConfigPath)
	if err != nil {
		return err
	}

	m := health.NewManager().WithTimeout(10 * time.Second)
	doctorChecks(m, cfg, &http.Client{Timeout: cfg.API.Timeout})

	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		m.AddChecker(failedCheck{name: "session", err: err})
		c = &console{cmdCtx: cmdCtx, cfg: cfg}
	} else {
		defer c.Close()
		m.AddChecker(health.NewSessionChecker(c.session))
	}

	results := m.Check(cmd.Context())
	report := newDoctorReport(m, results)
	if err := c.print(cmd, report); err != nil {
		return err
	}
	if report.Status == health.StatusUnhealthy {
		return errDoctorUnhealthy
	}
	return nil
}
