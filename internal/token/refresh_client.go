package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sonni4154/dashboard-sub000/internal/util"
)

// RefreshResponse models the provider's token endpoint response.
// RefreshToken and RefreshExpiresIn are optional: QuickBooks returns both on
// every rotation, Jibble omits the refresh lifetime entirely.
type RefreshResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"x_refresh_token_expires_in,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Scope            string `json:"scope,omitempty"`
}

// ErrorKind classifies a failed refresh call.
type ErrorKind int

const (
	// KindTransient covers timeouts, network errors and 5xx responses.
	// The credential is left untouched and the next scheduled tick retries.
	KindTransient ErrorKind = iota
	// KindAuthRejected covers 400/401 from the token endpoint: the refresh
	// token is invalid, expired or revoked and re-authorization is required.
	KindAuthRejected
)

// RefreshError is the classified error returned by a RefreshClient.
type RefreshError struct {
	Kind       ErrorKind
	StatusCode int // 0 when the request never produced a response
	Body       string
	Err        error
}

func (e *RefreshError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	case e.Body != "":
		return fmt.Sprintf("token refresh failed (%d): %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("token refresh failed with status %d", e.StatusCode)
	}
}

func (e *RefreshError) Unwrap() error { return e.Err }

// IsAuthRejected reports whether err is a refresh rejection that requires
// human re-authorization.
func IsAuthRejected(err error) bool {
	var re *RefreshError
	return errors.As(err, &re) && re.Kind == KindAuthRejected
}

// RefreshClient performs the refresh_token grant against one provider.
type RefreshClient interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
}

// HTTPRefreshClient implements RefreshClient against a real OAuth token
// endpoint using Basic-auth'd client credentials. Retry policy lives in the
// scheduler, not here.
type HTTPRefreshClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewHTTPRefreshClient creates a refresh client for one provider.
func NewHTTPRefreshClient(tokenURL, clientID, clientSecret string, timeout time.Duration) *HTTPRefreshClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRefreshClient{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Refresh exchanges the refresh token for a new token pair.
func (c *HTTPRefreshClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &RefreshError{Kind: KindTransient, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RefreshError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return nil, &RefreshError{
			Kind:       KindAuthRejected,
			StatusCode: resp.StatusCode,
			Body:       util.TruncateLog(string(body), util.DefaultLogMaxLen),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &RefreshError{
			Kind:       KindTransient,
			StatusCode: resp.StatusCode,
			Body:       util.TruncateLog(string(body), util.DefaultLogMaxLen),
		}
	}

	var tokenResp RefreshResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &RefreshError{Kind: KindTransient, Err: fmt.Errorf("failed to parse refresh response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &RefreshError{Kind: KindTransient, Err: fmt.Errorf("refresh response missing access_token")}
	}

	return &tokenResp, nil
}
