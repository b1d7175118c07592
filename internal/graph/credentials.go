package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultAuthorityURL is the Microsoft identity platform host.
	DefaultAuthorityURL = "https://login.microsoftonline.com"

	// DefaultScope requests every application permission granted to the app.
	DefaultScope = "https://graph.microsoft.com/.default"
)

// CredentialConfig describes how to obtain bearer tokens.
type CredentialConfig struct {
	TenantID     string   `mapstructure:"tenant_id"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AccessToken  string   `mapstructure:"access_token"`
	AuthorityURL string   `mapstructure:"authority_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// StaticCredential hands out a pre-acquired token. Refreshing it yields the
// same token, so a 401 retry will be answered with the same 401.
type StaticCredential struct {
	Token  string
	Expiry time.Time
}

// TokenSource implements Credential.
func (c StaticCredential) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.Token,
		TokenType:   "Bearer",
		Expiry:      c.Expiry,
	})
}

// ClientCredentials builds an app-only credential for the given tenant.
func ClientCredentials(cfg CredentialConfig) (*clientcredentials.Config, error) {
	tenant := strings.TrimSpace(cfg.TenantID)
	if tenant == "" {
		return nil, errors.New("tenant id is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("client secret is required")
	}

	authority := strings.TrimRight(strings.TrimSpace(cfg.AuthorityURL), "/")
	if authority == "" {
		authority = DefaultAuthorityURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}

	return &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, tenant),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}, nil
}

// NewCredential picks a credential from config: an explicit access token
// wins over client credentials.
func NewCredential(cfg CredentialConfig) (Credential, error) {
	if token := strings.TrimSpace(cfg.AccessToken); token != "" {
		return StaticCredential{Token: token}, nil
	}
	cc, err := ClientCredentials(cfg)
	if err != nil {
		return nil, fmt.Errorf("graph credentials: %w", err)
	}
	return cc, nil
}
