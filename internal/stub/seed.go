package stub

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/assetdesk/internal/api"
)

// Account is a stub identity with its console profile.
type Account struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password,omitempty"`
	// PasswordHash is a bcrypt hash. Seeds may give it instead of Password.
	PasswordHash string `yaml:"password_hash,omitempty"`
	FullName string `yaml:"full_name"`
	Role     string `yaml:"role"`
	Active   bool   `yaml:"active"`

	// Confirmed accounts can sign in. Unconfirmed ones are rejected by the
	// identity endpoint with email_not_confirmed.
	Confirmed bool `yaml:"confirmed"`
}

func (a Account) user() api.User {
	return api.User{ID: a.ID, Email: a.Email, FullName: a.FullName, Role: a.Role, Active: a.Active}
}

// Seed is the initial data of a stub backend.
type Seed struct {
	Accounts []Account    `yaml:"accounts"`
	Loans    []api.Loan   `yaml:"loans"`
	Tickets  []api.Ticket `yaml:"tickets"`
}

// DefaultSeed covers every sign-in outcome: an admin, a technician without
// the console role, a deactivated admin and an unconfirmed account.
func DefaultSeed() Seed {
	return Seed{
		Accounts: []Account{
			{ID: "u-admin", Email: "admin@example.com", Password: "admin-pass", FullName: "Ada Admin", Role: "admin", Active: true, Confirmed: true},
			{ID: "u-tech", Email: "tech@example.com", Password: "tech-pass", FullName: "Tom Tech", Role: "technician", Active: true, Confirmed: true},
			{ID: "u-gone", Email: "former@example.com", Password: "former-pass", FullName: "Fred Former", Role: "admin", Active: false, Confirmed: true},
			{ID: "u-new", Email: "new@example.com", Password: "new-pass", FullName: "Nina New", Role: "admin", Active: true, Confirmed: false},
		},
		Loans: []api.Loan{
			{ID: "loan-1", AssetID: "a-100", AssetName: "ThinkPad X1", BorrowerID: "u-tech", BorrowerName: "Tom Tech", Status: "active", LoanDate: "2026-01-05", ExpectedCheckinDate: "2026-02-05"},
			{ID: "loan-2", AssetID: "a-101", AssetName: "Dell U2720Q", BorrowerID: "u-tech", BorrowerName: "Tom Tech", Status: "active", LoanDate: "2026-09-01", ExpectedCheckinDate: "2027-03-01"},
			{ID: "loan-3", AssetID: "a-102", AssetName: "iPad Air", BorrowerID: "u-admin", BorrowerName: "Ada Admin", Status: "returned", LoanDate: "2026-03-01", ExpectedCheckinDate: "2026-04-01", ActualCheckinDate: "2026-03-28"},
			{ID: "loan-4", AssetID: "a-103", AssetName: "Logitech MX", BorrowerID: "u-admin", BorrowerName: "Ada Admin", Status: "lost", LoanDate: "2026-02-10", ExpectedCheckinDate: "2026-03-10"},
		},
		Tickets: []api.Ticket{
			{ID: "tkt-1", Title: "Laptop will not boot", Priority: "high", Status: "in_progress", RequesterID: "u-tech", AssetID: "a-100", CreatedAt: "2026-06-01T09:00:00Z", DueDate: "2026-06-03"},
			{ID: "tkt-2", Title: "Monitor flickers", Priority: "low", Status: "pending", RequesterID: "u-tech", AssetID: "a-101", CreatedAt: "2026-10-01T09:00:00Z", DueDate: "2027-01-15"},
			{ID: "tkt-3", Title: "Replace keyboard", Priority: "medium", Status: "resolved", RequesterID: "u-admin", AssetID: "a-103", CreatedAt: "2026-03-01T09:00:00Z", ResolvedAt: "2026-03-02T15:30:00Z"},
		},
	}
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(seed.Accounts) == 0 {
		return Seed{}, fmt.Errorf("seed file %s defines no accounts", path)
	}
	return seed, nil
}
