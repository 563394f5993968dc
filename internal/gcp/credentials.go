// Package gcp builds Google API client options from the configured
// credentials. Every Google client in the service (Sheets, Drive, Vision,
// Firestore, Cloud Storage) authenticates through here.
package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// Credentials lists the supported credential sources. The first populated
// source wins: service account JSON, service account file, the
// GOOGLE_APPLICATION_CREDENTIALS file, then an OAuth client with a stored
// user token. With nothing set, Application Default Credentials are used.
type Credentials struct {
	ServiceAccountJSON     string
	ServiceAccountFile     string
	ApplicationCredentials string
	OAuthClientJSON        string
	OAuthClientFile        string
	OAuthTokenJSON         string
	OAuthTokenFile         string
}

var ErrMissingOAuthToken = errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")

// CredentialsFromEnv reads the credential variables.
func CredentialsFromEnv() Credentials {
	get := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }
	return Credentials{
		ServiceAccountJSON:     get("GOOGLE_SERVICE_ACCOUNT_JSON"),
		ServiceAccountFile:     get("GOOGLE_SERVICE_ACCOUNT_FILE"),
		ApplicationCredentials: get("GOOGLE_APPLICATION_CREDENTIALS"),
		OAuthClientJSON:        get("GOOGLE_OAUTH_CLIENT_JSON"),
		OAuthClientFile:        get("GOOGLE_OAUTH_CLIENT_FILE"),
		OAuthTokenJSON:         get("GOOGLE_OAUTH_TOKEN_JSON"),
		OAuthTokenFile:         get("GOOGLE_OAUTH_TOKEN_FILE"),
	}
}

// Source names the credential source that ClientOptions will use.
func (c Credentials) Source() string {
	switch {
	case c.ServiceAccountJSON != "":
		return "service_account_json"
	case c.ServiceAccountFile != "":
		return "service_account_file"
	case c.ApplicationCredentials != "":
		return "application_credentials"
	case c.OAuthClientJSON != "" || c.OAuthClientFile != "":
		return "oauth_user"
	default:
		return "adc"
	}
}

// ClientOptions returns the options for a Google API client requesting scopes.
func (c Credentials) ClientOptions(ctx context.Context, scopes ...string) ([]option.ClientOption, error) {
	opts := []option.ClientOption{option.WithScopes(scopes...)}
	source := c.Source()
	slog.DebugContext(ctx, "Resolving Google credentials", "source", source, "scopes", scopes)

	switch source {
	case "service_account_json":
		return append(opts, option.WithCredentialsJSON([]byte(c.ServiceAccountJSON))), nil
	case "service_account_file", "application_credentials":
		path := c.ServiceAccountFile
		if path == "" {
			path = c.ApplicationCredentials
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return append(opts, option.WithCredentialsJSON(b)), nil
	case "oauth_user":
		ts, err := c.oauthTokenSource(ctx, scopes)
		if err != nil {
			return nil, err
		}
		return append(opts, option.WithTokenSource(ts)), nil
	default:
		return opts, nil
	}
}

func (c Credentials) oauthTokenSource(ctx context.Context, scopes []string) (oauth2.TokenSource, error) {
	clientJSON, err := readInlineOrFile(c.OAuthClientJSON, c.OAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	cfg, err := google.ConfigFromJSON(clientJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	if c.OAuthTokenJSON == "" && c.OAuthTokenFile == "" {
		return nil, ErrMissingOAuthToken
	}
	tokJSON, err := readInlineOrFile(c.OAuthTokenJSON, c.OAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokJSON, &tok); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}
	return cfg.TokenSource(ctx, &tok), nil
}

func readInlineOrFile(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	return os.ReadFile(path)
}
