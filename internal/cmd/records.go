package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/fetch"
	"github.com/felixgeelhaar/assetdesk/internal/status"
	"github.com/felixgeelhaar/assetdesk/internal/tui"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

// record is what loans and tickets share for display.
type record interface {
	Record() status.Record
}

// loanView is a loan with its derived status.
type loanView struct {
	api.Loan      `yaml:",inline"`
	DerivedStatus status.Status `json:"derived_status" yaml:"derived_status"`
}

// ticketView is a ticket with its derived status.
type ticketView struct {
	api.Ticket    `yaml:",inline"`
	DerivedStatus status.Status `json:"derived_status" yaml:"derived_status"`
}

type loanList []loanView

func (l loanList) Table(bool) *ux.Table {
	t := &ux.Table{Headers: []string{"ID", "ASSET", "BORROWER", "STATUS", "DUE"}}
	for _, v := range l {
		t.Rows = append(t.Rows, []string{
			v.ID,
			orDash(firstNonEmpty(v.AssetName, v.AssetID)),
			orDash(firstNonEmpty(v.BorrowerName, v.BorrowerID)),
			ux.StatusBadge(v.DerivedStatus),
			orDash(shortDate(v.ExpectedCheckinDate)),
		})
	}
	return t
}

type ticketList []ticketView

func (l ticketList) Table(bool) *ux.Table {
	t := &ux.Table{Headers: []string{"ID", "TITLE", "PRIORITY", "STATUS", "DUE"}}
	for _, v := range l {
		t.Rows = append(t.Rows, []string{
			v.ID,
			v.Title,
			orDash(v.Priority),
			ux.StatusBadge(v.DerivedStatus),
			orDash(shortDate(v.DueDate)),
		})
	}
	return t
}

func (v loanView) Table(bool) *ux.Table {
	return detailTable([][2]string{
		{"ID", v.ID},
		{"Asset", firstNonEmpty(v.AssetName, v.AssetID)},
		{"Borrower", firstNonEmpty(v.BorrowerName, v.BorrowerID)},
		{"Status", ux.StatusBadge(v.DerivedStatus)},
		{"Loaned", shortDate(v.LoanDate)},
		{"Due", shortDate(v.ExpectedCheckinDate)},
		{"Returned", shortDate(v.ActualCheckinDate)},
		{"Notes", v.Notes},
	})
}

func (v ticketView) Table(bool) *ux.Table {
	return detailTable([][2]string{
		{"ID", v.ID},
		{"Title", v.Title},
		{"Priority", v.Priority},
		{"Status", ux.StatusBadge(v.DerivedStatus)},
		{"Asset", v.AssetID},
		{"Assignee", v.AssigneeID},
		{"Created", shortDate(v.CreatedAt)},
		{"Due", shortDate(v.DueDate)},
		{"Resolved", shortDate(v.ResolvedAt)},
		{"Description", v.Description},
	})
}

func detailTable(fields [][2]string) *ux.Table {
	t := &ux.Table{Headers: []string{"FIELD", "VALUE"}}
	for _, f := range fields {
		t.Rows = append(t.Rows, []string{f[0], orDash(f[1])})
	}
	return t
}

func viewLoans(loans []api.Loan, now time.Time) loanList {
	out := make(loanList, len(loans))
	for i, l := range loans {
		out[i] = loanView{Loan: l, DerivedStatus: status.Derive(l.Record(), now)}
	}
	return out
}

func viewTickets(tickets []api.Ticket, now time.Time) ticketList {
	out := make(ticketList, len(tickets))
	for i, t := range tickets {
		out[i] = ticketView{Ticket: t, DerivedStatus: status.Derive(t.Record(), now)}
	}
	return out
}

// resourceCommands builds the list, show and update subcommands for one
// record kind.
type resourceCommands[T record] struct {
	kind   status.Kind
	plural string
	list   func(items []T, now time.Time) any
	show   func(c *console, cmd *cobra.Command, id string) (T, error)
	update func(c *console, cmd *cobra.Command, id, requested string) (T, error)
	view   func(item T, now time.Time) any
}

func (r resourceCommands[T]) command(short string) *cobra.Command {
	root := &cobra.Command{
		Use:   r.plural,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s", r.plural),
		Long: fmt.Sprintf(`List %s with their derived status.

Overdue is never stored: a record shows as overdue when its due date has
passed and it is not %s. --status filters by the derived status.`, r.plural, r.kind.Terminal()),
		Args: cobra.NoArgs,
		RunE: r.runList,
	}
	list.Flags().String("status", "", "filter by derived status")
	list.Flags().Int("limit", 0, "maximum number of records")
	list.Flags().Int("offset", 0, "records to skip")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show one of the %s", r.plural),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConsole(cmd, consoleOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			item, err := r.show(c, cmd, args[0])
			if err != nil {
				return err
			}
			return c.print(cmd, r.view(item, time.Now()))
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Change the status of one of the %s", r.plural),
		Long: fmt.Sprintf(`Change a record's status.

Selectable statuses: %v. Without --status an interactive picker opens,
pre-selected with the current status.`, status.Selectable(r.kind)),
		Args: cobra.ExactArgs(1),
		RunE: r.runUpdate,
	}
	update.Flags().String("status", "", "new status")

	root.AddCommand(list, show, update)
	return root
}

func (r resourceCommands[T]) runList(cmd *cobra.Command, args []string) error {
	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	q := url.Values{}
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		q.Set("status", s)
	}
	if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
		q.Set("limit", strconv.Itoa(n))
	}
	if n, _ := cmd.Flags().GetInt("offset"); n > 0 {
		q.Set("offset", strconv.Itoa(n))
	}

	f := fetch.New[[]T](c.client, c.session, fetch.Options{
		Resource: r.plural,
		Logger:   c.logger,
		Metrics:  c.metrics,
	})
	defer f.Close()

	select {
	case <-f.Run(fetch.Get("/"+r.plural, q)):
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	res := f.Snapshot()
	if res.Err != nil {
		return res.Err
	}
	return c.print(cmd, r.list(res.Data, time.Now()))
}

func (r resourceCommands[T]) runUpdate(cmd *cobra.Command, args []string) error {
	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	id := args[0]
	requested, _ := cmd.Flags().GetString("status")
	if requested == "" {
		if !tui.ShouldPrompt() {
			return apperrors.NewConfigInvalidError("--status is required when not running interactively")
		}
		current, err := r.show(c, cmd, id)
		if err != nil {
			return err
		}
		requested, err = tui.PromptForSelect(
			fmt.Sprintf("Status for %s", id),
			statusLabels(status.Selectable(r.kind)),
			string(status.EditDefault(current.Record(), time.Now())),
		)
		if err != nil {
			return err
		}
	}

	item, err := r.update(c, cmd, id, requested)
	if err != nil {
		return err
	}
	return c.print(cmd, r.view(item, time.Now()))
}

var loanCommands = resourceCommands[api.Loan]{
	kind:   status.KindLoan,
	plural: "loans",
	list: func(items []api.Loan, now time.Time) any {
		return viewLoans(items, now)
	},
	show: func(c *console, cmd *cobra.Command, id string) (api.Loan, error) {
		loan, err := c.client.GetLoan(cmd.Context(), id)
		if err != nil {
			return api.Loan{}, err
		}
		return *loan, nil
	},
	update: func(c *console, cmd *cobra.Command, id, requested string) (api.Loan, error) {
		loan, err := c.client.UpdateLoanStatus(cmd.Context(), id, requested)
		if err != nil {
			return api.Loan{}, err
		}
		return *loan, nil
	},
	view: func(item api.Loan, now time.Time) any {
		return loanView{Loan: item, DerivedStatus: status.Derive(item.Record(), now)}
	},
}

var ticketCommands = resourceCommands[api.Ticket]{
	kind:   status.KindTicket,
	plural: "tickets",
	list: func(items []api.Ticket, now time.Time) any {
		return viewTickets(items, now)
	},
	show: func(c *console, cmd *cobra.Command, id string) (api.Ticket, error) {
		ticket, err := c.client.GetTicket(cmd.Context(), id)
		if err != nil {
			return api.Ticket{}, err
		}
		return *ticket, nil
	},
	update: func(c *console, cmd *cobra.Command, id, requested string) (api.Ticket, error) {
		ticket, err := c.client.UpdateTicketStatus(cmd.Context(), id, requested)
		if err != nil {
			return api.Ticket{}, err
		}
		return *ticket, nil
	},
	view: func(item api.Ticket, now time.Time) any {
		return ticketView{Ticket: item, DerivedStatus: status.Derive(item.Record(), now)}
	},
}

func init() {
	rootCmd.AddCommand(
		loanCommands.command("Manage equipment loans"),
		ticketCommands.command("Manage support tickets"),
	)
}

func statusLabels(statuses []status.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func shortDate(ts string) string {
	t := status.ParseTimestamp(ts)
	if t == nil {
		return ts
	}
	return t.Format("2006-01-02")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
