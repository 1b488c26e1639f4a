package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultScopes are requested when the configuration names none.
// offline_access yields a refresh token for silent renewal.
var DefaultScopes = []string{
	"offline_access",
	"User.Read",
	"Files.ReadWrite.All",
}

// DefaultTenant addresses both personal and work accounts.
const DefaultTenant = "common"

// DefaultRedirectURL is the native-client redirect registered for apps that
// paste the code back by hand.
const DefaultRedirectURL = "https://login.microsoftonline.com/common/oauth2/nativeclient"

// fallbackLifetime is assumed when the token endpoint omits expires_in.
const fallbackLifetime = time.Hour

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// AccessToken is a bearer credential plus its absolute expiry in epoch
// seconds. Values are immutable once issued; a refresh yields a new one.
// Extra carries whatever else the token endpoint returned (refresh token,
// scope, token type) so it survives a round trip through the cache file.
type AccessToken struct {
	Value     string
	ExpiresAt int64
	Extra     map[string]any
}

// RefreshToken returns the refresh token carried in Extra, if any.
func (t *AccessToken) RefreshToken() string {
	if t == nil || t.Extra == nil {
		return ""
	}

	rt, _ := t.Extra["refresh_token"].(string) //nolint:errcheck // type assertion, absent is fine

	return rt
}

// CodePrompt shows the user an authorization URL and blocks until they
// paste back either the bare authorization code or the full redirect URL.
type CodePrompt func(ctx context.Context, authURL string) (string, error)

// AuthConfig identifies the registered application and what it asks for.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	RedirectURL  string
	Scopes       []string
	// HTTPClient carries token endpoint requests. nil means
	// http.DefaultClient, which has no timeout.
	HTTPClient *http.Client
}

// AuthCodeProvider acquires access tokens through the OAuth2 authorization
// code flow against the Microsoft identity platform. When a previous token
// carries a refresh token, a silent refresh is tried before prompting.
type AuthCodeProvider struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	prompt     CodePrompt
	logger     *slog.Logger

	// nowFunc stamps tokens whose response lacks an expiry. Tests override it.
	nowFunc func() time.Time
	// stateFunc generates the anti-CSRF state value. Tests override it.
	stateFunc func() (string, error)
}

// NewAuthCodeProvider builds a provider for the given application. Empty
// tenant, redirect URL, or scopes fall back to the package defaults.
func NewAuthCodeProvider(ac AuthConfig, prompt CodePrompt, logger *slog.Logger) *AuthCodeProvider {
	if logger == nil {
		logger = slog.Default()
	}

	tenant := ac.Tenant
	if tenant == "" {
		tenant = DefaultTenant
	}

	redirect := ac.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}

	scopes := ac.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &AuthCodeProvider{
		cfg: &oauth2.Config{
			ClientID:     ac.ClientID,
			ClientSecret: ac.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			RedirectURL:  redirect,
			Scopes:       scopes,
		},
		httpClient: ac.HTTPClient,
		prompt:     prompt,
		logger:     logger,
		nowFunc:    time.Now,
		stateFunc:  generateState,
	}
}

// AcquireToken produces a fresh access token. prev may be nil. Every
// failure wraps ErrAuthFailure.
func (p *AuthCodeProvider) AcquireToken(ctx context.Context, prev *AccessToken) (*AccessToken, error) {
	if rt := prev.RefreshToken(); rt != "" {
		tok, err := p.refresh(ctx, rt)
		if err == nil {
			return tok, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthFailure, ctx.Err())
		}

		p.logger.Warn("silent token refresh failed, falling back to interactive authorization",
			slog.String("error", err.Error()),
		)
	}

	return p.interactive(ctx)
}

// refresh redeems a refresh token without user interaction.
func (p *AuthCodeProvider) refresh(ctx context.Context, refreshToken string) (*AccessToken, error) {
	p.logger.Info("refreshing access token")

	tok, err := p.cfg.TokenSource(p.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("graph: refreshing token: %w", err)
	}

	at := p.toAccessToken(tok)

	// Microsoft may omit a rotated refresh token; keep the old one.
	if at.RefreshToken() == "" {
		at.Extra["refresh_token"] = refreshToken
	}

	p.logger.Info("access token refreshed", slog.Int64("expires_at", at.ExpiresAt))

	return at, nil
}

// interactive runs the authorization code exchange through the prompt.
func (p *AuthCodeProvider) interactive(ctx context.Context) (*AccessToken, error) {
	if p.prompt == nil {
		return nil, fmt.Errorf("%w: interactive authorization required but no prompt is available", ErrAuthFailure)
	}

	state, err := p.stateFunc()
	if err != nil {
		return nil, fmt.Errorf("%w: generating state token: %w", ErrAuthFailure, err)
	}

	verifier := oauth2.GenerateVerifier()
	authURL := p.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	p.logger.Info("starting authorization code flow")

	input, err := p.prompt(ctx, authURL)
	if err != nil {
		return nil, fmt.Errorf("%w: reading authorization code: %w", ErrAuthFailure, err)
	}

	code, err := parseCodeInput(input, state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	tok, err := p.cfg.Exchange(p.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange failed: %w", ErrAuthFailure, err)
	}

	at := p.toAccessToken(tok)

	p.logger.Info("authorization code exchanged", slog.Int64("expires_at", at.ExpiresAt))

	return at, nil
}

// oauthContext makes the oauth2 package send token requests through the
// configured client.
func (p *AuthCodeProvider) oauthContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// toAccessToken converts an oauth2.Token, keeping the refresh token and the
// raw response fields that matter in Extra.
func (p *AuthCodeProvider) toAccessToken(tok *oauth2.Token) *AccessToken {
	expiresAt := p.nowFunc().Add(fallbackLifetime).Unix()
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry.Unix()
	}

	extra := map[string]any{}
	if tok.TokenType != "" {
		extra["token_type"] = tok.TokenType
	}

	if tok.RefreshToken != "" {
		extra["refresh_token"] = tok.RefreshToken
	}

	for _, key := range []string{"scope", "id_token"} {
		if v := tok.Extra(key); v != nil {
			extra[key] = v
		}
	}

	return &AccessToken{Value: tok.AccessToken, ExpiresAt: expiresAt, Extra: extra}
}

var (
	errEmptyCode     = errors.New("graph: empty authorization code")
	errStateMismatch = errors.New("graph: OAuth2 state mismatch (possible CSRF)")
)

// parseCodeInput accepts a bare authorization code or a pasted redirect URL
// (or just its query string) and returns the code. A redirect carrying a
// different state than the one issued is rejected.
func parseCodeInput(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errEmptyCode
	}

	if !strings.Contains(input, "code=") && !strings.Contains(input, "error=") {
		return input, nil
	}

	rawQuery := input

	// Some redirects carry the response in the fragment instead of the query.
	if i := strings.IndexByte(input, '?'); i >= 0 {
		rawQuery = input[i+1:]
		if j := strings.IndexByte(rawQuery, '#'); j >= 0 {
			rawQuery = rawQuery[:j]
		}
	} else if i := strings.IndexByte(input, '#'); i >= 0 {
		rawQuery = input[i+1:]
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("graph: parsing redirect URL: %w", err)
	}

	if got := q.Get("state"); got != "" && got != state {
		return "", errStateMismatch
	}

	if errParam := q.Get("error"); errParam != "" {
		return "", fmt.Errorf("graph: authorization denied: %s: %s", errParam, q.Get("error_description"))
	}

	code := q.Get("code")
	if code == "" {
		return "", errEmptyCode
	}

	return code, nil
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
