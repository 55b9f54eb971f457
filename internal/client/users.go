package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aelexs/authclient/internal/domain"
	"github.com/aelexs/authclient/internal/transport"
)

func userPath(id int64) string {
	return domain.UsersPath + "/" + strconv.FormatInt(id, 10)
}

// GetUser fetches the profile of user id.
func (c *Client) GetUser(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.Request(ctx, transport.NewRequest(http.MethodGet, userPath(id)))
}

// CurrentUser fetches the profile of the logged-in user, identified by the
// sub claim of the stored access token.
func (c *Client) CurrentUser(ctx context.Context) (json.RawMessage, error) {
	session := c.CurrentSession()
	if !session.Authenticated {
		return nil, fmt.Errorf("current user: %w", domain.ErrAuthenticationExpired)
	}
	if session.SubjectID == nil {
		return nil, fmt.Errorf("current user: %w: unreadable subject", domain.ErrMalformedToken)
	}
	return c.GetUser(ctx, *session.SubjectID)
}

// DeleteUser removes user id.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	_, err := c.Request(ctx, transport.NewRequest(http.MethodDelete, userPath(id)))
	return err
}
