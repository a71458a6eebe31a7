package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

// StaticTokenSource serves a fixed private-app token.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: strings.TrimSpace(token)}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("%w: no access token configured", domain.ErrAuthExpired)
	}
	return s.token, nil
}

func (s *StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return s.Token(ctx)
}

type RefreshingTokenOptions struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	HTTPClient   *http.Client
}

// RefreshingTokenSource exchanges a refresh token for access tokens and
// caches the access token until shortly before it expires.
type RefreshingTokenSource struct {
	config     oauth2.Config
	httpClient *http.Client

	mu           sync.Mutex
	refreshToken string
	current      *oauth2.Token
}

const expirySkew = 30 * time.Second

func NewRefreshingTokenSource(opts RefreshingTokenOptions) *RefreshingTokenSource {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	tokenURL := strings.TrimSpace(opts.TokenURL)
	if tokenURL == "" {
		tokenURL = "https://api.hubapi.com/oauth/v1/token"
	}
	return &RefreshingTokenSource{
		config: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:   httpClient,
		refreshToken: strings.TrimSpace(opts.RefreshToken),
	}
}

func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.AccessToken != "" && time.Now().Add(expirySkew).Before(s.current.Expiry) {
		return s.current.AccessToken, nil
	}
	return s.refreshLocked(ctx)
}

func (s *RefreshingTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// refreshLocked builds a source holding only the refresh token, so Token
// always performs the refresh_token grant.
func (s *RefreshingTokenSource) refreshLocked(ctx context.Context) (string, error) {
	if s.refreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token configured", domain.ErrAuthExpired)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			status := retrieveErr.Response.StatusCode
			if status == http.StatusBadRequest || status == http.StatusUnauthorized {
				s.current = nil
				return "", fmt.Errorf("%w: %v", domain.ErrAuthExpired, newAPIError(status, retrieveErr.Body))
			}
			return "", newAPIError(status, retrieveErr.Body)
		}
		return "", fmt.Errorf("refresh crm token: %w", err)
	}
	s.current = token
	if token.RefreshToken != "" {
		s.refreshToken = token.RefreshToken
	}
	return token.AccessToken, nil
}
