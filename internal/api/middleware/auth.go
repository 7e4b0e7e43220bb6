package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/auth"
)

// TokenValidator resolves a bearer token to a wallet address.
type TokenValidator interface {
	Validate(token string) (string, error)
}

type walletKey struct{}

// Auth requires a valid wallet bearer token and stores the wallet in the
// request context.
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, detail := bearerToken(r)
			if detail != "" {
				writeUnauthorized(w, r, detail)
				return
			}

			wallet, err := tokens.Validate(token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "wallet token has expired")
				case errors.Is(err, auth.ErrInvalidToken):
					writeUnauthorized(w, r, "invalid wallet token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			if st := stateFrom(r.Context()); st != nil {
				st.mu.Lock()
				st.wallet = wallet
				st.mu.Unlock()
			}
			ctx := context.WithValue(r.Context(), walletKey{}, wallet)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}

	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "invalid authorization header format"
	}

	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

// writeUnauthorized writes the problem directly; the response package
// imports middleware.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetWallet returns the authenticated wallet, or "" for anonymous requests.
func GetWallet(ctx context.Context) string {
	if w, ok := ctx.Value(walletKey{}).(string); ok {
		return w
	}
	if st := stateFrom(ctx); st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.wallet
	}
	return ""
}

// WithWallet returns ctx carrying wallet as the authenticated identity.
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, walletKey{}, wallet)
}
