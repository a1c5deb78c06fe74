package workspace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

// Scopes needed for timesheets, the master log and the slideshow folders.
var Scopes = []string{
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/spreadsheets",
}

// Credentials describes how to obtain Google access tokens.
type Credentials struct {
	// ServiceAccountKey is either the key JSON itself or a path to it.
	ServiceAccountKey string
	// Impersonate is the privileged service account the key impersonates.
	// Empty means the key's own identity is used.
	Impersonate string
	// Lifetime of impersonated tokens.
	Lifetime time.Duration
	// TokenCachePath persists the access token across cold starts. Empty
	// disables the on-disk cache.
	TokenCachePath string
	// Timeout applies to every API request.
	Timeout time.Duration
}

// HTTPClient returns an authenticated client with the configured timeout.
func HTTPClient(ctx context.Context, creds Credentials, logger *slog.Logger) (*http.Client, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	key, err := loadKey(creds.ServiceAccountKey)
	if err != nil {
		return nil, err
	}

	var ts oauth2.TokenSource
	if creds.Impersonate != "" {
		lifetime := creds.Lifetime
		if lifetime <= 0 {
			lifetime = 300 * time.Second
		}
		ts, err = impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: creds.Impersonate,
			Scopes:          Scopes,
			Lifetime:        lifetime,
		}, option.WithCredentialsJSON(key))
		if err != nil {
			return nil, fmt.Errorf("creating impersonated credentials: %w", err)
		}
	} else {
		conf, err := oauthgoogle.JWTConfigFromJSON(key, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("parsing service account key: %w", err)
		}
		ts = conf.TokenSource(ctx)
	}

	if creds.TokenCachePath != "" {
		ts = &cachedTokenSource{path: creds.TokenCachePath, base: ts, logger: logger}
	}

	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, ts))
	client.Timeout = creds.Timeout
	if client.Timeout <= 0 {
		client.Timeout = 10 * time.Second
	}
	return client, nil
}

func loadKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, fmt.Errorf("google service account key not configured")
	}
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("reading service account key: %w", err)
	}
	return data, nil
}
