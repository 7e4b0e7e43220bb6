// Package auth issues and validates the wallet tokens that authorize ride
// operations.
package auth

// ConnectRequest is the body of POST /v1/wallet/connect.
type ConnectRequest struct {
	Wallet string `json:"wallet"`
}

// TokenResponse is returned after a wallet connects.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	Wallet      string `json:"wallet"`
}
