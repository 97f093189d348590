package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNotConfigured is returned when no key pair is available to verify tokens.
	ErrNotConfigured = errors.New("token verification not configured")
	// ErrInvalidToken is returned for malformed, expired or foreign tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// VideoClaims is the subset of the LiveKit video grant checked by this server.
type VideoClaims struct {
	Room      string `json:"room,omitempty"`
	RoomAdmin bool   `json:"roomAdmin,omitempty"`
	RoomList  bool   `json:"roomList,omitempty"`
}

// Claims represents the claims of a LiveKit access token.
type Claims struct {
	Name  string       `json:"name,omitempty"`
	Video *VideoClaims `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// CanAdmin reports whether the token grants administration of room.
func (c *Claims) CanAdmin(room string) bool {
	return c.Video != nil && c.Video.RoomAdmin && c.Video.Room == room
}

// Verifier validates access tokens signed with the server's LiveKit key pair.
type Verifier struct {
	apiKey string
	secret []byte
}

// NewVerifier creates a Verifier for tokens issued by apiKey.
func NewVerifier(apiKey, apiSecret string) *Verifier {
	return &Verifier{
		apiKey: apiKey,
		secret: []byte(apiSecret),
	}
}

// ValidateToken parses and validates a token string.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	if v == nil || v.apiKey == "" || len(v.secret) == 0 {
		return nil, ErrNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	// LiveKit tokens carry the API key as issuer.
	if claims.Issuer != v.apiKey {
		return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidToken)
	}

	return claims, nil
}
