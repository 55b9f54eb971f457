package tokenstore

import (
	"encoding/json"
	"fmt"

	"github.com/aelexs/authclient/internal/domain"
)

// tokenResponse is the body of the login, register, and refresh endpoints.
// Login and register also send user_id, which the session reads from the
// token's sub claim instead.
type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// DecodeTokenResponse extracts the pair from an issuance response.
// Invalid JSON or a missing half yields domain.ErrMalformedResponse.
func DecodeTokenResponse(body []byte) (TokenPair, error) {
	var r tokenResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return TokenPair{}, fmt.Errorf("%w: decode token response: %w", domain.ErrMalformedResponse, err)
	}
	pair := NewTokenPair(r.Access, r.Refresh)
	if err := pair.Validate(); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	return pair, nil
}
