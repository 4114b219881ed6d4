package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/session"
	"github.com/felixgeelhaar/assetdesk/internal/tui"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in, sign out and inspect the session",
	Long: `Manage the console session.

Only accounts holding the console role can sign in. The identity provider
session is stored under ~/.assetdesk and verified against the server on
every run.

Examples:
  assetdesk auth login --email admin@example.com
  printf '%s' "$PASSWORD" | assetdesk auth login --email admin@example.com --password-stdin
  assetdesk auth status
  assetdesk auth logout`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	authLoginCmd.Flags().String("email", "", "account email")
	authLoginCmd.Flags().String("password", "", "account password (prefer --password-stdin)")
	authLoginCmd.Flags().Bool("password-stdin", false, "read the password from stdin")

	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

// loginInput resolves credentials from flags, stdin, or an interactive form.
func loginInput(cmd *cobra.Command) (tui.Credentials, error) {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")

	if fromStdin {
		p, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return tui.Credentials{}, err
		}
		password = p
	}

	if email != "" && password != "" {
		return tui.Credentials{Email: strings.TrimSpace(email), Password: password}, nil
	}
	if !tui.ShouldPrompt() {
		return tui.Credentials{}, apperrors.Wrap(apperrors.ErrCodeConfigInvalid, "email and password are required", tui.ErrNotInteractive).
			WithSuggestion("Pass --email and --password-stdin")
	}
	return tui.PromptForCredentials(email)
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	if u := c.session.User(); u != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Already signed in as %s; signing in again.\n", u.Email)
	}

	creds, err := loginInput(cmd)
	if err != nil {
		return err
	}

	user, err := c.session.Login(cmd.Context(), creds.Email, creds.Password)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), ux.SuccessStyle.Render("✓ Signed in")+" as "+describeUser(user))
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.session.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ux.SuccessStyle.Render("✓ Signed out"))
	return nil
}

// authStatus is the printable session summary.
type authStatus struct {
	State  string    `json:"state" yaml:"state"`
	User   *api.User `json:"user,omitempty" yaml:"user,omitempty"`
	Reason string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Code   string    `json:"code,omitempty" yaml:"code,omitempty"`
}

func newAuthStatus(s session.Snapshot) authStatus {
	out := authStatus{State: s.State.String(), User: s.User}
	if s.Reason != nil {
		out.Reason = apperrors.UserMessage(s.Reason)
		out.Code = string(apperrors.CodeOf(s.Reason))
	}
	return out
}

func (s authStatus) String() string {
	if s.User != nil {
		return fmt.Sprintf("Signed in as %s", describeUser(s.User))
	}
	line := "Not signed in."
	if s.Reason != "" {
		line += " " + s.Reason
	}
	return line + "\n" + ux.MutedStyle.Render("Run 'assetdesk auth login' to sign in.")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	c, err := loadConsole(cmd, consoleOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	return c.print(cmd, newAuthStatus(c.session.Snapshot()))
}

func describeUser(u *api.User) string {
	name := u.Email
	if u.FullName != "" {
		name = fmt.Sprintf("%s <%s>", u.FullName, u.Email)
	}
	return fmt.Sprintf("%s (%s)", name, u.Role)
}
