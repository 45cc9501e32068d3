package normalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kubev2v/role-normalizer/pkg/metrics"
	"github.com/kubev2v/role-normalizer/pkg/requestid"
	"go.uber.org/zap"
)

const (
	maxErrorBody = 512
	// a result entry is at most an int64 or null plus its separator
	maxBytesPerID    = 24
	responseOverhead = 4096
)

// Normalizer maps raw titles to canonical role ids. The result has the same
// length and order as titles; nil means no confident match.
type Normalizer interface {
	Normalize(ctx context.Context, titles []string) ([]*int64, error)
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

type normalizeRequest struct {
	Titles []string `json:"titles"`
}

// Client is an HTTP client for the role normalization service
type Client struct {
	url            string
	credentials    Credentials
	attemptTimeout time.Duration
	policy         RetryPolicy
	httpClient     *http.Client
}

var _ Normalizer = (*Client)(nil)

type ClientOption func(c *Client)

func WithCredentials(creds Credentials) ClientOption {
	return func(c *Client) {
		c.credentials = creds
	}
}

func WithAttemptTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.attemptTimeout = timeout
	}
}

func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:            url,
		attemptTimeout: 30 * time.Second,
		policy:         DefaultRetryPolicy(),
		httpClient:     &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Normalize(ctx context.Context, titles []string) ([]*int64, error) {
	if len(titles) == 0 {
		return []*int64{}, nil
	}

	body, err := json.Marshal(normalizeRequest{Titles: titles})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var ids []*int64
	start := time.Now()
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		res, err := c.attempt(ctx, body, len(titles))
		if err != nil {
			zap.S().Named("normalizer_client").Debugw("normalization attempt failed", "request_id", requestid.FromContext(ctx), "titles", len(titles), "error", err)
			return err
		}
		ids = res
		return nil
	})
	metrics.ObserveNormalizationRequest(outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (c *Client) attempt(ctx context.Context, body []byte, expected int) ([]*int64, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	requestid.Inject(ctx, httpReq)
	if !c.credentials.Empty() {
		httpReq.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, newTransientError("failed to call normalization service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	limit := responseLimit(expected)
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, newTransientError("failed to read response body: %w", err)
	}
	oversized := int64(len(bodyBytes)) > limit

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewErrServiceAuthFailure(resp.StatusCode, truncate(bodyBytes))
	case resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, newTransientError("normalization service returned status %d: %s", resp.StatusCode, truncate(bodyBytes))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, NewErrMalformedRequest(resp.StatusCode, truncate(bodyBytes))
	}

	if oversized {
		return nil, NewErrProtocolMismatch("response exceeds %d bytes for %d title(s)", limit, expected)
	}

	var ids []*int64
	if err := json.Unmarshal(bodyBytes, &ids); err != nil {
		return nil, NewErrProtocolMismatch("failed to decode response: %v", err)
	}
	if len(ids) != expected {
		return nil, NewErrLengthMismatch(expected, len(ids))
	}

	return ids, nil
}

// responseLimit bounds the body accepted for a batch of expected titles.
func responseLimit(expected int) int64 {
	return int64(expected)*maxBytesPerID + responseOverhead
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

func outcome(err error) string {
	var (
		auth     *ErrServiceAuthFailure
		protocol *ErrProtocolMismatch
		bad      *ErrMalformedRequest
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &auth):
		return "auth_failure"
	case errors.As(err, &protocol):
		return "protocol_mismatch"
	case errors.As(err, &bad):
		return "malformed_request"
	default:
		return "transient"
	}
}
