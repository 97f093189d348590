package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/meet-server/internal/callengine"
)

// DefaultTTL is the validity of issued tokens unless configured otherwise.
const DefaultTTL = 5 * time.Minute

// Token kinds recorded in the audit log.
const (
	KindParticipant = "participant"
	KindAgent       = "agent"
)

// Token is a freshly signed credential. It is handed to the caller and never kept.
type Token struct {
	JWT       string
	Identity  string
	Room      string
	Kind      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs room-scoped access tokens.
type Issuer struct {
	signer callengine.TokenSigner
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. signer can be nil if no signing credentials are configured;
// every issuance then fails with ErrMisconfigured.
func NewIssuer(signer callengine.TokenSigner, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		signer: signer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the validity of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// readiness is implemented by signers that can report missing credentials up front.
type readiness interface {
	Ready() error
}

// Ready reports ErrMisconfigured when tokens cannot be signed.
func (i *Issuer) Ready() error {
	if i.signer == nil {
		return ErrMisconfigured
	}
	if r, ok := i.signer.(readiness); ok {
		if err := r.Ready(); err != nil {
			return fmt.Errorf("%w: %w", ErrMisconfigured, err)
		}
	}
	return nil
}

// IssueParticipant signs a token that lets identity join, publish and subscribe in room.
// name and metadata are optional.
func (i *Issuer) IssueParticipant(identity, name, metadata, room string) (Token, error) {
	return i.issue(KindParticipant, callengine.Claims{
		Identity: identity,
		Name:     name,
		Metadata: metadata,
		Grant:    callengine.JoinGrant(room),
	})
}

// IssueAgent signs a token with administrative capabilities for a server-side agent.
func (i *Issuer) IssueAgent(identity, room string) (Token, error) {
	return i.issue(KindAgent, callengine.Claims{
		Identity: identity,
		Name:     identity,
		Grant:    callengine.AgentGrant(room),
	})
}

func (i *Issuer) issue(kind string, claims callengine.Claims) (Token, error) {
	if i.signer == nil {
		return Token{}, ErrMisconfigured
	}
	if claims.Identity == "" || claims.Grant.Room == "" {
		return Token{}, fmt.Errorf("%w: identity and room are required", ErrInvalidRequest)
	}

	issuedAt := i.now()
	jwt, err := i.signer.Sign(claims, i.ttl)
	if err != nil {
		if errors.Is(err, callengine.ErrSignerNotConfigured) {
			return Token{}, fmt.Errorf("%w: %w", ErrMisconfigured, err)
		}
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	if jwt == "" {
		return Token{}, fmt.Errorf("%w: signer returned an empty token", ErrMisconfigured)
	}

	return Token{
		JWT:       jwt,
		Identity:  claims.Identity,
		Room:      claims.Grant.Room,
		Kind:      kind,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(i.ttl),
	}, nil
}
