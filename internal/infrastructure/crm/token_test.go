package crm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

func TestRefreshingTokenSourceCachesUntilExpiry(t *testing.T) {
	var calls int32
	var grantType, refreshToken, clientID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		_ = r.ParseForm()
		grantType = r.PostForm.Get("grant_type")
		refreshToken = r.PostForm.Get("refresh_token")
		clientID = r.PostForm.Get("client_id")
		w.Header().Set("Content-Type", "application/json")
		if n == 2 {
			// expires inside the skew window, so the next Token call refreshes
			_, _ = w.Write([]byte(`{"access_token":"access-2","token_type":"bearer","refresh_token":"rotated","expires_in":10}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"bearer","expires_in":1800}`))
	}))
	defer server.Close()

	source := NewRefreshingTokenSource(RefreshingTokenOptions{
		TokenURL:     server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "initial",
		HTTPClient:   server.Client(),
	})

	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, "refresh_token", grantType)
	assert.Equal(t, "initial", refreshToken)
	assert.Equal(t, "client", clientID)

	_, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "cached token must be reused")

	token, err = source.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "refresh must bypass the cache")
	assert.Equal(t, "initial", refreshToken)

	_, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "token close to expiry must be refreshed")
	assert.Equal(t, "rotated", refreshToken, "rotated refresh token must be used")
}

func TestRefreshingTokenSourceRevokedGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"BAD_REFRESH_TOKEN","message":"missing or unknown refresh token"}`))
	}))
	defer server.Close()

	source := NewRefreshingTokenSource(RefreshingTokenOptions{TokenURL: server.URL, RefreshToken: "revoked", HTTPClient: server.Client()})
	_, err := source.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuthExpired))
}

func TestStaticTokenSourceEmpty(t *testing.T) {
	_, err := NewStaticTokenSource("  ").Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthExpired)

	token, err := NewStaticTokenSource("pat-1").Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pat-1", token)
}
