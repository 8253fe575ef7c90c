// Package services contains the application services used by the CLI.
// This file defines the account service: login, register, logout and the
// reaction to credentials that can no longer be refreshed.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/client/client"
	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

const lastUserKey = "last_username"

// AuthService defines account operations for the CLI.
//
// Contract:
//   - Login/Register: authenticate against the server, store the returned
//     credentials and enable cloud sync.
//   - Logout: forget credentials locally and disable cloud sync.
//   - Status: the logged-in account, if any.
//   - Expired: called when a token refresh failed; behaves like Logout and
//     notifies the UI.
type AuthService interface {
	Login(ctx context.Context, username string, password []byte) (*models.UserInfo, error)
	Register(ctx context.Context, username string, password []byte) (*models.UserInfo, error)
	Logout(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Expired(ctx context.Context)
}

// Status describes the current account state.
type Status struct {
	LoggedIn    bool
	User        models.UserInfo
	LastUser    string
	SyncEnabled bool
}

type authService struct {
	api      client.AuthAPI
	tokens   *client.TokenManager
	meta     metadata.Repository
	gate     *SyncGate
	notifier events.Notifier
	log      logging.Logger
}

// NewAuthService wires the account service. tokens is the manager the api
// stores credentials in.
func NewAuthService(api client.AuthAPI, tokens *client.TokenManager, meta metadata.Repository, gate *SyncGate, notifier events.Notifier, log logging.Logger) AuthService {
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &authService{api: api, tokens: tokens, meta: meta, gate: gate, notifier: notifier, log: log}
}

func (a *authService) Login(ctx context.Context, username string, password []byte) (*models.UserInfo, error) {
	return a.authenticate(ctx, "login", a.api.Login, username, password)
}

func (a *authService) Register(ctx context.Context, username string, password []byte) (*models.UserInfo, error) {
	return a.authenticate(ctx, "register", a.api.Register, username, password)
}

type authFunc func(ctx context.Context, username, password string) (*models.Credentials, error)

func (a *authService) authenticate(ctx context.Context, op string, fn authFunc, username string, password []byte) (*models.UserInfo, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) == 0 {
		return nil, fmt.Errorf("%s: username and password are required", op)
	}
	defer common.WipeByteArray(password)

	creds, err := fn(ctx, username, string(password))
	if err != nil {
		return nil, fmt.Errorf("%s error: %w", op, err)
	}
	if err := a.meta.Set(ctx, lastUserKey, []byte(username)); err != nil {
		a.log.Warn(ctx, "saving last username", "error", err)
	}
	if err := a.gate.Set(ctx, true); err != nil {
		return nil, fmt.Errorf("enabling sync: %w", err)
	}
	a.log.Info(ctx, op+" succeeded", "user", username)
	user := creds.UserInfo
	if user.Username == "" {
		user.Username = username
	}
	return &user, nil
}

func (a *authService) Logout(ctx context.Context) error {
	var errs []error
	if err := a.api.Logout(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clearing credentials: %w", err))
	}
	if err := a.gate.Set(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("disabling sync: %w", err))
	}
	return errors.Join(errs...)
}

func (a *authService) Status(ctx context.Context) (Status, error) {
	st := Status{LoggedIn: a.api.LoggedIn(), SyncEnabled: a.gate.Enabled()}
	if u, ok := a.tokens.User(); ok {
		st.User = u
	}
	last, err := a.meta.Get(ctx, lastUserKey)
	if err != nil {
		return st, err
	}
	st.LastUser = string(last)
	return st, nil
}

// Expired runs after the client has already dropped the credentials.
func (a *authService) Expired(ctx context.Context) {
	if err := a.gate.Set(ctx, false); err != nil {
		a.log.Error(ctx, "disabling sync after auth expiry", "error", err)
	}
	a.log.Warn(ctx, "session expired, cloud sync disabled")
	a.notifier.AuthExpired(ctx)
}
