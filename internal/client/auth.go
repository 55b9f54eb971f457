package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aelexs/authclient/internal/auth"
	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/errmap"
	"github.com/aelexs/authclient/internal/tokenstore"
	"github.com/aelexs/authclient/internal/transport"
)

// Session describes the current authentication state. It is derived from
// the token store on demand and never stored.
type Session struct {
	Authenticated bool
	SubjectID     *int64 // Nil when unauthenticated or the token's sub is unreadable
}

// Profile is the registration payload.
type Profile struct {
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	OrganizationName string `json:"organization_name"`
	Position         string `json:"position"`
	Department       string `json:"department"`
	Password         string `json:"password"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges email and password for a token pair and stores it.
// A 401 is domain.ErrInvalidCredentials; login never enters the refresh path.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	ctx, span := tracer.Start(ctx, "client.login")
	defer span.End()

	spec, err := transport.NewJSONRequest(http.MethodPost, domain.LoginPath, credentials{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	session, err := c.issue(ctx, "login", spec)
	if err != nil {
		recordError(span, err)
		return Session{}, err
	}
	c.logger.Info("logged in", sessionAttr(session))
	return session, nil
}

// Register creates an account and stores the issued token pair.
func (c *Client) Register(ctx context.Context, profile Profile) (Session, error) {
	ctx, span := tracer.Start(ctx, "client.register")
	defer span.End()

	spec, err := transport.NewJSONRequest(http.MethodPost, domain.RegisterPath, profile)
	if err != nil {
		return Session{}, err
	}
	session, err := c.issue(ctx, "register", spec)
	if err != nil {
		recordError(span, err)
		return Session{}, err
	}
	c.logger.Info("registered", sessionAttr(session))
	return session, nil
}

// issue sends a credential request and stores the resulting pair.
func (c *Client) issue(ctx context.Context, op string, spec transport.RequestSpec) (Session, error) {
	resp, err := c.exec.Execute(ctx, spec)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status == http.StatusUnauthorized {
		return Session{}, fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidCredentials,
			domain.NewRequestError(op, resp.Status, resp.Body))
	}
	if !resp.OK() {
		return Session{}, fmt.Errorf("%s: %w", op, errmap.FromResponse(op, resp.Status, resp.Body))
	}

	pair, err := tokenstore.DecodeTokenResponse(resp.Body)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.store.Set(ctx, pair); err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	return c.CurrentSession(), nil
}

// Logout clears the stored pair. It makes no network call and is idempotent.
func (c *Client) Logout(ctx context.Context) {
	c.store.Clear(ctx)
	c.logger.Info("logged out")
}

// CurrentSession reports the session held in the token store. No network I/O.
func (c *Client) CurrentSession() Session {
	access := c.store.AccessToken()
	if access == "" {
		return Session{}
	}
	s := Session{Authenticated: true}
	if id, ok := auth.SubjectID(access); ok {
		s.SubjectID = &id
	}
	return s
}

// Claims decodes the stored access token for display. It does not verify
// the signature.
func (c *Client) Claims() (*auth.Claims, error) {
	access := c.store.AccessToken()
	if access == "" {
		return nil, domain.ErrAuthenticationExpired
	}
	return auth.ReadClaims(access)
}

func sessionAttr(s Session) slog.Attr {
	if s.SubjectID == nil {
		return slog.String("user_id", "unknown")
	}
	return slog.Int64("user_id", *s.SubjectID)
}
