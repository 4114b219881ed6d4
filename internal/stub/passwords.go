package stub

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is the bcrypt cost for seeded and edited passwords. MinCost
// keeps a fresh backend cheap to start under tests.
const passwordCost = bcrypt.MinCost

// setPassword replaces the account's credential with a bcrypt hash and
// forgets the plaintext.
func (a *Account) setPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", a.Email, err)
	}
	a.PasswordHash = string(hash)
	a.Password = ""
	return nil
}

func (a *Account) checkPassword(password string) bool {
	if a.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}
