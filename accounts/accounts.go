// Package accounts provides the account-lookup model the protocol engine
// consults when resolving a subject: claim lookup by account id and
// credential verification for the interaction (login) views.
package accounts

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// ErrInvalidCredentials is returned for any authentication failure.
// The message is generic to prevent account enumeration.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountNotFound is returned when an account id cannot be resolved.
var ErrAccountNotFound = errors.New("account not found")

// dummyHash is a bcrypt hash compared against when the account does not
// exist, so authentication cost does not reveal whether an email is known.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Account is the claims source for a subject.
type Account struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string

	// PasswordHash is the bcrypt hash of the account password.
	PasswordHash string
}

// Claims returns the standard claims the engine embeds into tokens.
func (a *Account) Claims() map[string]any {
	return map[string]any{
		"sub":            a.ID,
		"email":          a.Email,
		"email_verified": a.EmailVerified,
		"name":           a.Name,
	}
}

// Finder resolves accounts for the protocol engine.
type Finder interface {
	// FindAccount resolves an account by its subject id.
	FindAccount(ctx context.Context, id string) (*Account, error)

	// Authenticate verifies credentials and returns the matching account.
	// Failures of any cause return ErrInvalidCredentials.
	Authenticate(ctx context.Context, email, password string) (*Account, error)
}

// StaticFinder serves accounts from a fixed set, keyed by id. Useful for
// development and tests; production deployments plug in their own Finder.
type StaticFinder struct {
	byID    map[string]*Account
	byEmail map[string]*Account
}

var _ Finder = (*StaticFinder)(nil)

// NewStaticFinder creates a finder over the given accounts.
func NewStaticFinder(accounts []*Account) *StaticFinder {
	f := &StaticFinder{
		byID:    make(map[string]*Account, len(accounts)),
		byEmail: make(map[string]*Account, len(accounts)),
	}
	for _, a := range accounts {
		f.byID[a.ID] = a
		if a.Email != "" {
			f.byEmail[a.Email] = a
		}
	}
	return f
}

// FindAccount resolves an account by its subject id.
func (f *StaticFinder) FindAccount(_ context.Context, id string) (*Account, error) {
	account, ok := f.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// Authenticate verifies an email/password pair.
//
// The bcrypt comparison always runs, against a dummy hash when the account
// is unknown, so timing does not distinguish "no such account" from "wrong
// password".
func (f *StaticFinder) Authenticate(_ context.Context, email, password string) (*Account, error) {
	account, ok := f.byEmail[email]

	hash := dummyHash
	if ok && account.PasswordHash != "" {
		hash = account.PasswordHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	if !ok || compareErr != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// HashPassword returns the bcrypt hash for a password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// NewSessionID generates an opaque, URL-safe session identifier.
func NewSessionID() string {
	return oauth2.GenerateVerifier()
}
