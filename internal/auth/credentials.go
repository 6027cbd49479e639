// ABOUTME: Long-lived agent credentials as signed claims over handle and display name
// ABOUTME: Credentials are exchanged for short-lived registry sessions, not used per request

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("credential expired")
)

// credentialIssuer is the iss claim stamped on every credential. Verification
// rejects tokens minted for anything else, so a JWT from another HS256
// deployment sharing the secret cannot authenticate here.
const credentialIssuer = "postbox"

// AgentClaims is the identity a verified credential asserts.
type AgentClaims struct {
	Handle      string
	DisplayName string
}

// CredentialVerifier verifies a presented credential and returns the agent
// identity it asserts.
type CredentialVerifier interface {
	Verify(credential string) (AgentClaims, error)
}

// CredentialIssuer mints and verifies agent credentials: HS256 JWTs carrying
// the handle in sub and the display name in a private "name" claim.
type CredentialIssuer struct {
	secret []byte
}

// NewCredentialIssuer creates an issuer signing with the given secret.
func NewCredentialIssuer(secret []byte) *CredentialIssuer {
	return &CredentialIssuer{secret: secret}
}

// Issue mints a credential for the agent, valid for expiresIn.
func (i *CredentialIssuer) Issue(handle, displayName string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": credentialIssuer,
		"sub": handle,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if displayName != "" {
		claims["name"] = displayName
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify checks the signature, expiry, and issuer, and returns the asserted
// identity. The display name is optional; the handle is not.
func (i *CredentialIssuer) Verify(credential string) (AgentClaims, error) {
	token, err := jwt.Parse(credential,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(credentialIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AgentClaims{}, ErrExpiredCredential
		}
		return AgentClaims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AgentClaims{}, ErrInvalidCredential
	}
	handle, ok := claims["sub"].(string)
	if !ok || handle == "" {
		return AgentClaims{}, fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}

	out := AgentClaims{Handle: handle}
	if name, ok := claims["name"].(string); ok {
		out.DisplayName = name
	}
	return out, nil
}

var _ CredentialVerifier = (*CredentialIssuer)(nil)
