package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Wallet tokens are short-lived HS256 JWTs issued when a rider connects a
// wallet. The token subject is the lowercased wallet address; there are no
// refresh tokens, the client reconnects when a token expires.

// TokenExpiry is how long wallet tokens are valid.
const TokenExpiry = 12 * time.Hour

// Token errors.
var (
	ErrInvalidToken  = errors.New("invalid wallet token")
	ErrTokenExpired  = errors.New("wallet token has expired")
	ErrInvalidWallet = errors.New("invalid wallet address")
)

// WalletClaims are the claims carried by a wallet token.
type WalletClaims struct {
	jwt.RegisteredClaims

	// Wallet is the connected wallet address.
	Wallet string `json:"wallet"`
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the secret key used to sign tokens.
	SigningKey string

	// Issuer is the issuer claim, e.g. "https://api.cyclick.app".
	Issuer string

	// Audience is the audience claim, e.g. "cyclick-api".
	Audience string

	// Expiry overrides TokenExpiry when set.
	Expiry time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// TokenService issues and validates wallet tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.Expiry <= 0 {
		cfg.Expiry = TokenExpiry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     cfg.Expiry,
		now:        cfg.Now,
	}
}

// Issue creates a token for wallet.
func (s *TokenService) Issue(wallet string) (string, time.Time, error) {
	wallet, err := NormalizeWallet(wallet)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := WalletClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   wallet,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Wallet: wallet,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing wallet token: %w", err)
	}

	return signed, expiresAt, nil
}

// Validate parses a token and returns the wallet it was issued for.
func (s *TokenService) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &WalletClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*WalletClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Wallet == "" || claims.Wallet != claims.Subject {
		return "", fmt.Errorf("%w: wallet claim mismatch", ErrInvalidToken)
	}

	return claims.Wallet, nil
}

// NormalizeWallet checks that wallet is a 20-byte hex address and returns
// it lowercased.
func NormalizeWallet(wallet string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(wallet))
	if len(w) != 42 || !strings.HasPrefix(w, "0x") {
		return "", ErrInvalidWallet
	}
	for _, c := range w[2:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", ErrInvalidWallet
		}
	}
	return w, nil
}
