// Package auth reads claims out of access tokens issued by the upstream
// auth server. Tokens are trusted because they arrived over the
// authenticated channel or were just issued; nothing here verifies a
// signature.
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aelexs/authclient/internal/domain"
)

// Claims holds the access token claims the client cares about.
// The server issues "sub" as a stringified user id plus "type" and "role".
type Claims struct {
	SubjectID int64
	Subject   string
	Type      string
	Role      string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// parser only decodes segments; padded base64url is accepted.
var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// ReadClaims decodes the payload segment of token without verifying it.
// The header and signature segments must be present but are not inspected.
// A token whose "sub" is missing or not an integer is rejected.
func ReadClaims(token string) (*Claims, error) {
	mc, err := decodePayload(token)
	if err != nil {
		return nil, err
	}

	id, raw, err := subjectFromClaims(mc)
	if err != nil {
		return nil, err
	}

	claims := &Claims{SubjectID: id, Subject: raw}
	claims.Type, _ = mc["type"].(string)
	claims.Role, _ = mc["role"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}

// SubjectID returns the integer subject of token, or false if the token is
// malformed or its "sub" claim is missing or not a positive integer.
func SubjectID(token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	claims, err := ReadClaims(token)
	if err != nil {
		return 0, false
	}
	return claims.SubjectID, true
}

// decodePayload keeps JSON numbers as json.Number so an integer "sub" is
// not rounded through float64.
func decodePayload(token string) (jwt.MapClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: token has %d segments", domain.ErrMalformedToken, len(parts))
	}

	raw, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", domain.ErrMalformedToken, err)
	}

	mc := jwt.MapClaims{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&mc); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %w", domain.ErrMalformedToken, err)
	}
	return mc, nil
}

func subjectFromClaims(mc jwt.MapClaims) (int64, string, error) {
	var raw string
	switch v := mc["sub"].(type) {
	case string:
		raw = v
	case json.Number:
		raw = v.String()
	case nil:
		return 0, "", fmt.Errorf("%w: missing sub claim", domain.ErrMalformedToken)
	default:
		return 0, "", fmt.Errorf("%w: sub claim has type %T", domain.ErrMalformedToken, v)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, raw, fmt.Errorf("%w: sub claim %q is not an integer", domain.ErrMalformedToken, raw)
	}
	// The server never issues id 0; treat it like an unreadable subject.
	if id <= 0 {
		return 0, raw, fmt.Errorf("%w: sub claim %q is not a positive id", domain.ErrMalformedToken, raw)
	}
	return id, raw, nil
}
