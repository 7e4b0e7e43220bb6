package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/api/response"
	"github.com/cyclick/cyclick/internal/auth"
)

// TokenIssuer issues wallet tokens.
type TokenIssuer interface {
	Issue(wallet string) (string, time.Time, error)
}

// WalletHandler connects a wallet and returns its bearer token.
type WalletHandler struct {
	tokens TokenIssuer
	now    func() time.Time
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(tokens TokenIssuer) *WalletHandler {
	return &WalletHandler{tokens: tokens, now: time.Now}
}

// Connect handles POST /v1/wallet/connect.
func (h *WalletHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req auth.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	wallet, err := auth.NormalizeWallet(req.Wallet)
	if err != nil {
		response.BadRequest(w, r, "validation error", []models.FieldError{
			{Field: "wallet", Message: "wallet must be a 0x-prefixed 20 byte hex address", Code: "INVALID"},
		})
		return
	}

	token, expiresAt, err := h.tokens.Issue(wallet)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidWallet) {
			response.Error(w, r, err)
			return
		}
		response.InternalError(w, r, "could not issue wallet token")
		return
	}

	response.JSON(w, r, http.StatusOK, auth.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresAt.Sub(h.now()).Seconds()),
		Wallet:      wallet,
	})
}
