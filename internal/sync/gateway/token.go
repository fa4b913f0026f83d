package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const tokenPath = "/oauth/v1/generate?grant_type=client_credentials"

// tokenSource fetches client-credential tokens with HTTP basic auth. The
// gateway serves them from a GET endpoint, which the oauth2 clientcredentials
// flow does not support.
type tokenSource struct {
	client  *http.Client
	url     string
	key     string
	secret  string
	timeout time.Duration
	now     func() time.Time
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Token implements oauth2.TokenSource.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "bad token url", Err: err}
	}
	req.SetBasicAuth(s.key, s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    KindRejected,
			Status:  resp.StatusCode,
			Code:    "token",
			Message: strings.TrimSpace(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, &Error{Kind: KindMalformed, Status: resp.StatusCode, Message: "token response", Err: err}
	}

	token := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		token.Expiry = s.now().Add(time.Duration(secs) * time.Second)
	}
	return token, nil
}

// newTokenSource returns a cached token source for the gateway at baseURL.
func newTokenSource(client *http.Client, baseURL, key, secret string, timeout time.Duration) oauth2.TokenSource {
	src := &tokenSource{
		client:  client,
		url:     strings.TrimRight(baseURL, "/") + tokenPath,
		key:     key,
		secret:  secret,
		timeout: timeout,
		now:     time.Now,
	}
	return oauth2.ReuseTokenSource(nil, src)
}
