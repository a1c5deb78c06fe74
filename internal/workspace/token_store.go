package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// expirySkew is how long before expiry a cached token stops being used.
const expirySkew = time.Minute

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (t *cachedToken) expired(now time.Time) bool {
	return now.Add(expirySkew).After(t.ExpiresAt)
}

// cachedTokenSource keeps the last access token on disk so a fresh process
// (a cold Lambda container sharing /tmp, a CLI run) can skip the
// impersonation round trip while the token is still valid.
type cachedTokenSource struct {
	path   string
	base   oauth2.TokenSource
	logger *slog.Logger
}

func (c *cachedTokenSource) Token() (*oauth2.Token, error) {
	if cached, err := loadToken(c.path); err != nil {
		c.logger.Warn("ignoring unreadable token cache", "path", c.path, "error", err)
	} else if cached != nil && !cached.expired(time.Now()) {
		return &oauth2.Token{
			AccessToken: cached.AccessToken,
			TokenType:   cached.TokenType,
			Expiry:      cached.ExpiresAt,
		}, nil
	}

	tok, err := c.base.Token()
	if err != nil {
		return nil, err
	}

	if err := saveToken(c.path, &cachedToken{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresAt:   tok.Expiry,
	}); err != nil {
		c.logger.Warn("failed to cache access token", "path", c.path, "error", err)
	}
	return tok, nil
}

// loadToken returns nil, nil if the cache file does not exist.
func loadToken(path string) (*cachedToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tok cachedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	return &tok, nil
}

// saveToken writes the cache with 0600 permissions via tmp + rename.
func saveToken(path string, tok *cachedToken) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing temp token file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming token file: %w", err)
	}
	return nil
}
