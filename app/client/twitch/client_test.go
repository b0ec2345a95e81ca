package twitch

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"prefrontal/app/config"

	"github.com/nicklaw5/helix/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTP struct {
	mu       sync.Mutex
	refreshN int
	requests []*http.Request
}

func (f *fakeHTTP) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	var body string
	switch {
	case strings.Contains(req.URL.Path, "/oauth2/token"):
		f.refreshN++
		body = `{"access_token":"access-` + string(rune('0'+f.refreshN)) + `","refresh_token":"refresh-next","expires_in":14000,"scope":["chat:read","chat:edit"],"token_type":"bearer"}`
	case strings.HasSuffix(req.URL.Path, "/users"):
		body = `{"data":[{"id":"42","login":"prefrontalbot","display_name":"PrefrontalBot"}]}`
	default:
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewBufferString(`{}`)), Header: http.Header{}}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Twitch: config.Twitch{
			Enabled:      true,
			ClientID:     "client",
			ClientSecret: "secret",
			Username:     "PrefrontalBot",
			RefreshToken: "refresh-initial",
		},
	}
}

func TestNewClientRefreshesAndResolvesUser(t *testing.T) {
	httpClient := &fakeHTTP{}

	c, err := newClient(testConfig(), &helix.Options{
		ClientID:     "client",
		ClientSecret: "secret",
		HTTPClient:   httpClient,
	})
	require.NoError(t, err)

	assert.Equal(t, "access-1", c.AccessToken())
	assert.Equal(t, "42", c.UserID())
	assert.Equal(t, "prefrontalbot", c.Login())

	require.NoError(t, c.refresh())
	assert.Equal(t, "access-2", c.AccessToken())

	httpClient.mu.Lock()
	defer httpClient.mu.Unlock()

	require.NotEmpty(t, httpClient.requests)
	assert.Contains(t, httpClient.requests[0].URL.Path, "/oauth2/token")
}
