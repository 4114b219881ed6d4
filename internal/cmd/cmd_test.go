package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/felixgeelhaar/assetdesk/internal/config"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/exitcode"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/stub"
)

// resetFlags restores every flag to its default so runs do not leak into
// each other through the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// testEnv is a stub backend plus a config file pointing at it.
type testEnv struct {
	configPath string
	backend    *stub.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("CI", "true")
	t.Setenv("NO_COLOR", "1")
	for _, name := range []string{config.EnvAPIURL, config.EnvIdentityIssuer, config.EnvTokenURL, config.EnvClientID, config.EnvClientSecret} {
		t.Setenv(name, "")
	}

	backend := stub.New(stub.Config{Seed: stub.DefaultSeed(), Logger: log.Discard()})
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`api:
  base_url: %[1]s
identity:
  issuer: %[1]s
  client_id: %[2]s
session:
  self_edit_logout_delay: 10ms
  token_cache: %[3]s
  identity_store: %[4]s
log:
  level: error
`, srv.URL, stub.ClientID, filepath.Join(dir, "token.json"), filepath.Join(dir, "identity.json"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &testEnv{configPath: path, backend: backend}
}

// run executes the CLI with args against the environment.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(append([]string{"--config", e.configPath}, args...)...)
}

func execute(args ...string) (string, error) {
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func (e *testEnv) login(t *testing.T, email, password string) {
	t.Helper()
	out := e.mustRun(t, "auth", "login", "--email", email, "--password", password)
	if !strings.Contains(out, "Signed in") {
		t.Fatalf("login output = %q", out)
	}
}

func decodeRecords(t *testing.T, out string) map[string]map[string]any {
	t.Helper()
	var list []map[string]any
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	byID := make(map[string]map[string]any, len(list))
	for _, r := range list {
		byID[r["id"].(string)] = r
	}
	return byID
}

func TestSignInBrowseAndSignOut(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "auth", "status")
	if !strings.Contains(out, "Not signed in.") {
		t.Errorf("status before login = %q", out)
	}

	env.login(t, "admin@example.com", "admin-pass")

	out = env.mustRun(t, "auth", "status", "-o", "json")
	var st authStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != "authenticated" || st.User == nil || st.User.Email != "admin@example.com" {
		t.Errorf("status after login = %+v", st)
	}

	loans := decodeRecords(t, env.mustRun(t, "loans", "list", "-o", "json"))
	if len(loans) != 4 {
		t.Fatalf("got %d loans, want 4", len(loans))
	}
	for id, want := range map[string]string{"loan-1": "overdue", "loan-3": "returned", "loan-4": "overdue"} {
		if got := loans[id]["derived_status"]; got != want {
			t.Errorf("%s derived status = %v, want %s", id, got, want)
		}
	}

	out = env.mustRun(t, "loans", "update", "loan-1", "--status", "returned", "-o", "json")
	var loan map[string]any
	if err := json.Unmarshal([]byte(out), &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}
	if loan["derived_status"] != "returned" || loan["actual_checkin_date"] == nil {
		t.Errorf("updated loan = %v", loan)
	}

	out = env.mustRun(t, "tickets", "show", "tkt-3")
	if !strings.Contains(out, "Replace keyboard") {
		t.Errorf("ticket table = %q", out)
	}

	out = env.mustRun(t, "auth", "logout")
	if !strings.Contains(out, "Signed out") {
		t.Errorf("logout output = %q", out)
	}
	if env.backend.ActiveSessions() != 0 {
		t.Errorf("active sessions = %d after logout", env.backend.ActiveSessions())
	}

	_, err := env.run(t, "loans", "list")
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeNotAuthenticated {
		t.Errorf("list after logout code = %s, want %s", code, apperrors.ErrCodeNotAuthenticated)
	}
	if got := exitcode.DetermineExitCode(err); got != exitcode.AuthError {
		t.Errorf("exit code = %d, want %d", got, exitcode.AuthError)
	}
}

func TestInvalidStatusIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "admin@example.com", "admin-pass")

	_, err := env.run(t, "tickets", "update", "tkt-1", "--status", "archived")
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeInvalidStatus {
		t.Fatalf("code = %s, want %s", code, apperrors.ErrCodeInvalidStatus)
	}
	if got := exitcode.DetermineExitCode(err); got != exitcode.ValidationError {
		t.Errorf("exit code = %d, want %d", got, exitcode.ValidationError)
	}
}

func TestUpdateWithoutStatusNonInteractive(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "admin@example.com", "admin-pass")

	_, err := env.run(t, "loans", "update", "loan-2")
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeConfigInvalid {
		t.Errorf("code = %s, want %s", code, apperrors.ErrCodeConfigInvalid)
	}
}

func TestLoginDenied(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		want     apperrors.ErrorCode
	}{
		{"wrong password", "admin@example.com", "nope", apperrors.ErrCodeInvalidCredentials},
		{"missing console role", "tech@example.com", "tech-pass", apperrors.ErrCodeInsufficientPrivilege},
		{"deactivated account", "former@example.com", "former-pass", apperrors.ErrCodeInactiveAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.run(t, "auth", "login", "--email", tt.email, "--password", tt.password)
			if code := apperrors.CodeOf(err); code != tt.want {
				t.Errorf("code = %s, want %s", code, tt.want)
			}
			if got := exitcode.DetermineExitCode(err); got != exitcode.AuthError {
				t.Errorf("exit code = %d, want %d", got, exitcode.AuthError)
			}
			if env.backend.ActiveSessions() != 0 {
				t.Errorf("active sessions = %d after denial", env.backend.ActiveSessions())
			}
		})
	}
}

func TestLoginWithoutPasswordNonInteractive(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "auth", "login", "--email", "admin@example.com")
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeConfigInvalid {
		t.Errorf("code = %s, want %s", code, apperrors.ErrCodeConfigInvalid)
	}
}

func TestSelfEditSignsOut(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "admin@example.com", "admin-pass")

	env.mustRun(t, "users", "update", "u-admin", "--full-name", "Ada Lovelace")
	out := env.mustRun(t, "auth", "status")
	if !strings.Contains(out, "Ada Lovelace") {
		t.Errorf("name edit should keep the session, status = %q", out)
	}

	env.mustRun(t, "users", "update", "u-admin", "--password", "new-pass")
	out = env.mustRun(t, "auth", "status")
	if !strings.Contains(out, "Not signed in.") {
		t.Errorf("password edit should end the session, status = %q", out)
	}

	env.login(t, "admin@example.com", "new-pass")
}

func TestUsersUpdateNeedsAField(t *testing.T) {
	_, err := execute("users", "update", "u-admin")
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeConfigInvalid {
		t.Errorf("code = %s, want %s", code, apperrors.ErrCodeConfigInvalid)
	}
}

func TestDoctorReport(t *testing.T) {
	env := newTestEnv(t)

	// Connectivity depends on the host, so only the output is checked.
	out, _ := env.run(t, "doctor", "-o", "json")
	var report doctorReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}

	got := map[string]doctorCheck{}
	for _, c := range report.Checks {
		got[c.Name] = c
	}
	for _, name := range []string{"api", "identity-provider", "network", "token-cache", "identity-store", "session"} {
		if _, ok := got[name]; !ok {
			t.Errorf("missing check %q", name)
		}
	}
	if got["api"].Status != "healthy" {
		t.Errorf("api check = %+v", got["api"])
	}
	if got["session"].Status != "degraded" {
		t.Errorf("session check = %+v", got["session"])
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := execute("version", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info["version"] == "" || info["platform"] == "" {
		t.Errorf("version info = %v", info)
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	_, err := execute("loans", "list", "--bogus")
	if got := exitcode.DetermineExitCode(err); got != exitcode.UsageError {
		t.Errorf("exit code = %d, want %d", got, exitcode.UsageError)
	}
}
