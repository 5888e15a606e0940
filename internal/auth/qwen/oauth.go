// Package qwen holds the OAuth endpoints and device-flow login for
// chat.qwen.ai accounts.
package qwen

import (
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// Public OAuth client used by the Qwen CLI tooling. Override via
// QWEN_CLIENT_ID for self-registered clients.
const DefaultClientID = "f0304373b74a44d2b584a3fb70ca9e56"

const (
	DeviceAuthURL = "https://chat.qwen.ai/api/v1/oauth2/device/code"
	TokenURL      = "https://chat.qwen.ai/api/v1/oauth2/token"
)

// Scopes required for chat completion access.
var Scopes = []string{"openid", "profile", "email", "model.completion"}

// GetOAuthConfig returns the OAuth2 config for Qwen authentication.
// The client is public (no secret); credentials go in the request body.
func GetOAuthConfig() *oauth2.Config {
	clientID := strings.TrimSpace(os.Getenv("QWEN_CLIENT_ID"))
	if clientID == "" {
		clientID = DefaultClientID
	}

	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: DeviceAuthURL,
			TokenURL:      TokenURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}
