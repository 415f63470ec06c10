package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hako/branca"
	"github.com/nicolasparada/go-errs"

	"github.com/dyadchat/dyad/auth"
	"github.com/dyadchat/dyad/types"
)

const authTokenTTL = time.Hour * 24 * 14

var (
	ErrInvalidToken = errs.InvalidArgumentError("invalid token")
	ErrExpiredToken = errs.UnauthenticatedError("expired token")
)

// Login finds or creates the user with the given username and hands back a
// token. There are no passwords; identity is the username, the way early
// development logins work.
func (svc *Service) Login(ctx context.Context, in types.Login) (types.TokenOutput, error) {
	var out types.TokenOutput

	in.Username = strings.TrimSpace(in.Username)
	if err := in.Validate(); err != nil {
		return out, err
	}

	user, err := svc.Cockroach.UserByUsername(ctx, in.Username)
	if errors.Is(err, errs.NotFound) {
		user, err = svc.Cockroach.CreateUser(ctx, in.Username)
		if errors.Is(err, errs.Conflict) {
			// lost the race against a concurrent first login
			user, err = svc.Cockroach.UserByUsername(ctx, in.Username)
		}
	}
	if err != nil {
		return out, err
	}

	out.User = user
	out.Token, err = svc.codec().EncodeToString(user.ID)
	if err != nil {
		return out, fmt.Errorf("could not create token: %w", err)
	}
	out.ExpiresAt = time.Now().Add(authTokenTTL)

	return out, nil
}

// AuthUserIDFromToken decodes the token into a user ID.
func (svc *Service) AuthUserIDFromToken(token string) (string, error) {
	uid, err := svc.codec().DecodeToString(token)
	if err != nil {
		if errors.Is(err, branca.ErrInvalidToken) || errors.Is(err, branca.ErrInvalidTokenVersion) {
			return "", ErrInvalidToken
		}

		if _, ok := err.(*branca.ErrExpiredToken); ok {
			return "", ErrExpiredToken
		}

		// branca surfaces a bad key as a chacha20poly1305 failure.
		if strings.HasSuffix(err.Error(), "authentication failed") {
			return "", errs.Unauthenticated
		}

		return "", fmt.Errorf("could not decode token: %w", err)
	}

	return uid, nil
}

// AuthUser resolves the token into the stored user.
func (svc *Service) AuthUser(ctx context.Context, token string) (types.User, error) {
	uid, err := svc.AuthUserIDFromToken(token)
	if err != nil {
		return types.User{}, err
	}

	return svc.Cockroach.User(ctx, uid)
}

// Me is the current authenticated user.
func (svc *Service) Me(ctx context.Context) (types.User, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return user, errs.Unauthenticated
	}

	return svc.Cockroach.User(ctx, user.ID)
}

func (svc *Service) codec() *branca.Branca {
	cdc := branca.NewBranca(svc.tokenKey)
	cdc.SetTTL(uint32(authTokenTTL.Seconds()))
	return cdc
}
