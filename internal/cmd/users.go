package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/session"
	"github.com/felixgeelhaar/assetdesk/internal/tui"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Inspect and edit user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a user account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersShow,
}

var usersUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Edit a user account",
	Long: `Edit a user account.

Changing the email, password, role or active flag of your own account ends
your session shortly after the change is saved; sign in again with the new
credentials. Changing only the full name keeps you signed in.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsersUpdate,
}

func init() {
	f := usersUpdateCmd.Flags()
	f.String("email", "", "new email")
	f.String("password", "", "new password")
	f.String("full-name", "", "new full name")
	f.String("role", "", "new role")
	f.Bool("active", true, "whether the account is active")
	f.Bool("yes", false, "skip the confirmation for edits that end your session")

	usersCmd.AddCommand(usersShowCmd, usersUpdateCmd)
	rootCmd.AddCommand(usersCmd)
}

// userView prints one account.
type userView struct {
	api.User `yaml:",inline"`
}

func (v userView) Table(bool) *ux.Table {
	active := "no"
	if v.Active {
		active = "yes"
	}
	return detailTable([][2]string{
		{"ID", v.ID},
		{"Email", v.Email},
		{"Name", v.FullName},
		{"Role", v.Role},
		{"Active", active},
	})
}

func runUsersShow(cmd *cobra.Command, args []string) error {
	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	user, err := c.client.GetUser(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return c.print(cmd, userView{*user})
}

// userUpdateFromFlags collects only the flags that were set.
func userUpdateFromFlags(cmd *cobra.Command) (api.UserUpdate, error) {
	var u api.UserUpdate
	flags := cmd.Flags()
	str := func(name string) *string {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetString(name)
		return &v
	}
	u.Email = str("email")
	u.Password = str("password")
	u.FullName = str("full-name")
	u.Role = str("role")
	if flags.Changed("active") {
		v, _ := flags.GetBool("active")
		u.Active = &v
	}

	if u.Email == nil && u.Password == nil && u.FullName == nil && u.Role == nil && u.Active == nil {
		return u, apperrors.NewConfigInvalidError("nothing to update").
			WithSuggestion("Pass at least one of --email, --password, --full-name, --role, --active")
	}
	return u, nil
}

func runUsersUpdate(cmd *cobra.Command, args []string) error {
	update, err := userUpdateFromFlags(cmd)
	if err != nil {
		return err
	}

	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	id := args[0]
	before, err := c.client.GetUser(cmd.Context(), id)
	if err != nil {
		return err
	}

	change := session.ChangeBetween(*before, update)
	self := c.session.User() != nil && c.session.User().ID == id
	if self && session.RequiresLogout(change) {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && tui.ShouldPrompt() {
			ok, err := tui.PromptForConfirmation("This edit will sign you out. Continue?", false)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
	}

	after, err := c.client.UpdateUser(cmd.Context(), id, update)
	if err != nil {
		return err
	}
	if err := c.print(cmd, userView{*after}); err != nil {
		return err
	}

	if c.session.AfterSelfEdit(id, change) {
		fmt.Fprintln(cmd.ErrOrStderr(), ux.MutedStyle.Render("Your credentials changed; signing out."))
		waitForSignOut(cmd, c.session, c.cfg.Session.SelfEditLogoutDelay+5*time.Second)
	}
	return nil
}

// waitForSignOut blocks until the session is unauthenticated, the timeout
// elapses or the command is interrupted.
func waitForSignOut(cmd *cobra.Command, s *session.Manager, timeout time.Duration) {
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := s.OnChange(func(snap session.Snapshot) {
		if snap.State == session.Unauthenticated {
			once.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	if s.State() == session.Unauthenticated {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-cmd.Context().Done():
	}
}
