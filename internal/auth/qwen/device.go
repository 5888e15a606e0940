package qwen

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
)

// LoginResult describes a completed device-flow login.
type LoginResult struct {
	AccountID  string
	Credential *store.Credential
}

// DeviceLogin runs the RFC 8628 device authorization flow with a PKCE S256
// challenge and persists the resulting credential under a fresh account id.
// Polling interval and slow_down handling come from x/oauth2.
func DeviceLogin(ctx context.Context, st store.Store) (*LoginResult, error) {
	cfg := GetOAuthConfig()
	verifier := oauth2.GenerateVerifier()

	da, err := cfg.DeviceAuth(ctx, oauth2.S256ChallengeOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("device authorization failed: %w", err)
	}

	url := da.VerificationURIComplete
	if url == "" {
		url = da.VerificationURI
	}
	log.Printf("🔑 Visit %s and enter code: %s", url, da.UserCode)
	log.Printf("⏳ Waiting for authorization (expires %s)...", da.Expiry.Format("15:04:05"))

	tok, err := cfg.DeviceAccessToken(ctx, da, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("device token exchange failed: %w", err)
	}

	cred := CredentialFromToken(tok)
	accountID := uuid.New().String()
	if err := st.PutCredential(ctx, accountID, cred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	log.Printf("✅ Account %s authorized (token expires %s)", accountID, tok.Expiry.Format("15:04:05"))
	return &LoginResult{AccountID: accountID, Credential: cred}, nil
}

// CredentialFromToken converts an oauth2 token into the stored wire form.
// Qwen returns the per-account API host as the non-standard resource_url
// field; absent means the DashScope default endpoint.
func CredentialFromToken(tok *oauth2.Token) *store.Credential {
	cred := &store.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiryDate:   tok.Expiry.UnixMilli(),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	if ru, ok := tok.Extra("resource_url").(string); ok {
		cred.ResourceURL = ru
	}
	return cred
}
