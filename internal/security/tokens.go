package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when a token is not a well-formed signed credential
	// (bad structure, bad signature, wrong kind, wrong issuer or audience).
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken is returned when a well-formed token is past its expiry.
	ErrExpiredToken = errors.New("expired token")
)

// TokenKind distinguishes access from refresh credentials at verification time.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// claimsVersion is the fixed claim schema version embedded into every token.
const claimsVersion = 1

// OrgBinding is the tenant context embedded into a token pair. Role and OrgAdmin
// are a snapshot of the membership at mint time, never re-derived from old tokens.
type OrgBinding struct {
	OrgID    string
	Role     string
	OrgAdmin bool
}

// Claims holds the JWT claims shared by access and refresh tokens. Org fields are
// absent when the token carries an identity-only context.
type Claims struct {
	jwt.RegisteredClaims
	Version  int       `json:"v"`
	Kind     TokenKind `json:"kind"`
	OrgID    string    `json:"org_id,omitempty"`
	Role     string    `json:"role,omitempty"`
	OrgAdmin bool      `json:"org_admin,omitempty"`
}

// TokenPair is a freshly minted access/refresh pair sharing subject and org binding
// but with independent expirations.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenProvider mints and verifies JWT access/refresh pairs using RS256 or ES256.
// It is a pure function of its keys, TTL policy, and the clock; it never touches
// user or membership state.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key
// (RSA or ECDSA). issuer and audience are set on claims and checked on verification.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssuePair mints an access/refresh pair for userID. org may be nil for an
// identity-only context; when set, both tokens carry the org id and role snapshot.
func (p *TokenProvider) IssuePair(userID string, org *OrgBinding) (*TokenPair, error) {
	now := time.Now().UTC()
	accessExp := now.Add(p.accessTTL)
	refreshExp := now.Add(p.refreshTTL)

	access, err := p.sign(p.newClaims(userID, org, TokenKindAccess, now, accessExp))
	if err != nil {
		return nil, err
	}
	refresh, err := p.sign(p.newClaims(userID, org, TokenKindRefresh, now, refreshExp))
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (p *TokenProvider) newClaims(userID string, org *OrgBinding, kind TokenKind, now, exp time.Time) *Claims {
	c := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Version: claimsVersion,
		Kind:    kind,
	}
	if org != nil {
		c.OrgID = org.OrgID
		c.Role = org.Role
		c.OrgAdmin = org.OrgAdmin
	}
	return c
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrMalformedToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateAccess parses and verifies an access token (signature, exp, iss, aud, kind).
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.validate(tokenString, TokenKindAccess)
}

// ValidateRefresh parses and verifies a refresh token (signature, exp, iss, aud, kind).
// An expired token yields ErrExpiredToken; any other failure yields ErrMalformedToken.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	return p.validate(tokenString, TokenKindRefresh)
}

func (p *TokenProvider) validate(tokenString string, kind TokenKind) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrMalformedToken
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrMalformedToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}
	if claims.Kind != kind {
		return nil, ErrMalformedToken
	}
	if claims.Issuer != p.issuer {
		return nil, ErrMalformedToken
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrMalformedToken
	}
	return claims, nil
}
