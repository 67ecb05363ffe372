package models

import (
	"strings"

	dErrors "grove/pkg/domain-errors"
)

// GrantType enumerates the token endpoint grants this service issues.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantDeviceCode        GrantType = "device_code"

	// GrantDeviceCodeURN is the full RFC 8628 grant_type value; Normalize
	// folds it into GrantDeviceCode.
	GrantDeviceCodeURN = "urn:ietf:params:oauth:grant-type:device_code"
)

// TokenRequest carries the parsed form body of POST /auth/token. Fields not
// relevant to the chosen grant stay empty.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code grant
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token grant
	RefreshToken string

	// device_code grant
	DeviceCode string
}

// Normalize trims fields and folds grant_type aliases. Call before Validate.
func (r *TokenRequest) Normalize() {
	r.GrantType = strings.TrimSpace(r.GrantType)
	if r.GrantType == GrantDeviceCodeURN {
		r.GrantType = string(GrantDeviceCode)
	}
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.Code = strings.TrimSpace(r.Code)
	r.RedirectURI = strings.TrimSpace(r.RedirectURI)
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	r.DeviceCode = strings.TrimSpace(r.DeviceCode)
}

// Validate checks grant-specific required fields. Client credentials are
// always required; this service has no public token-endpoint clients.
func (r *TokenRequest) Validate() error {
	if r.ClientID == "" || r.ClientSecret == "" {
		return dErrors.New(dErrors.CodeBadRequest, "client credentials are required")
	}

	switch GrantType(r.GrantType) {
	case GrantAuthorizationCode:
		if r.Code == "" {
			return dErrors.New(dErrors.CodeBadRequest, "code is required")
		}
		if r.RedirectURI == "" {
			return dErrors.New(dErrors.CodeBadRequest, "redirect_uri is required")
		}
	case GrantRefreshToken:
		if r.RefreshToken == "" {
			return dErrors.New(dErrors.CodeBadRequest, "refresh_token is required")
		}
	case GrantDeviceCode:
		if r.DeviceCode == "" {
			return dErrors.New(dErrors.CodeBadRequest, "device_code is required")
		}
	default:
		return dErrors.New(dErrors.CodeBadRequest, "unsupported grant_type")
	}
	return nil
}

// TokenResult is the success response of the token endpoint.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// DeviceAuthorizationResult is the response of POST /device/code.
type DeviceAuthorizationResult struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}
