package actions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/deemkeen/pubengine/util"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{1,30}$`)

type SetupParams struct {
	Email    string
	Username string
	Password string
	Name     string
	Summary  string
}

// SetupAccount creates an account with its actor and a fresh key pair.
func (a *Actions) SetupAccount(ctx context.Context, p SetupParams) (*domain.Actor, error) {
	username := strings.ToLower(strings.TrimSpace(p.Username))
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 1-30 of a-z, 0-9 and _", ErrInvalidInput)
	}
	email := strings.TrimSpace(p.Email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(p.Password) < 8 {
		return nil, fmt.Errorf("%w: password must have at least 8 characters", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	keys, err := util.GeneratePemKeypair(a.conf.KeyBits)
	if err != nil {
		return nil, err
	}

	name := p.Name
	if name == "" {
		name = username
	}
	_, actor, err := a.store.CreateAccount(ctx, storage.CreateAccountParams{
		Email:        email,
		PasswordHash: string(hash),
		Username:     username,
		Domain:       a.conf.Domain,
		Name:         name,
		Summary:      p.Summary,
		PublicKey:    keys.Public,
		PrivateKey:   keys.Private,
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("Account created", "actor", actor.Id)
	return actor, nil
}

// Authenticate checks a password against the account of email and returns
// its actor.
func (a *Actions) Authenticate(ctx context.Context, email, password string) (*domain.Actor, error) {
	account, err := a.store.GetAccountFromEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a.store.GetActorFromEmail(ctx, email)
}
