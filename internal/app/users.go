package app

import "sync"

// Account is a demo user record. Real deployments resolve accounts from the
// application database with hashed passwords; the directory here only exists
// so the login route has something to authenticate against.
type Account struct {
	UserID     string
	Email      string
	BoutiqueID string
	Role       string
	password   string
}

// PasswordMatches checks the candidate in constant time
func (a *Account) PasswordMatches(candidate string) bool {
	return constantTimeEquals(a.password, candidate)
}

// UserDirectory holds the demo accounts
type UserDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewUserDirectory creates a directory seeded with demo accounts
func NewUserDirectory() *UserDirectory {
	d := &UserDirectory{accounts: make(map[string]*Account)}
	d.add(&Account{
		UserID:     "usr-1",
		Email:      "marie@maboutique.fr",
		BoutiqueID: "btq-1",
		Role:       "gerante",
		password:   "motdepasse",
	})
	d.add(&Account{
		UserID:     "usr-2",
		Email:      "karim@epicerie.fr",
		BoutiqueID: "btq-2",
		Role:       "employe",
		password:   "secret123",
	})
	return d
}

func (d *UserDirectory) add(a *Account) {
	d.accounts[a.Email] = a
}

// Lookup finds an account by email
func (d *UserDirectory) Lookup(email string) (*Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accounts[email]
	return a, ok
}
