package abtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/internal/routine"
	"github.com/kubev2v/role-normalizer/pkg/requestid"
	"go.uber.org/zap"
)

const maxResponseBody = 64 << 10

// Client asks the AB testing service whether an owner was drawn into the
// group under test.
type Client struct {
	baseURL        string
	test           string
	group          string
	auth           string
	attemptTimeout time.Duration
	policy         normalizer.RetryPolicy
	httpClient     *http.Client
	log            *zap.SugaredLogger
}

var _ routine.OwnerFilter = (*Client)(nil)

type ClientOption func(c *Client)

// WithAuthorization sets the raw Authorization header of every call.
func WithAuthorization(auth string) ClientOption {
	return func(c *Client) {
		c.auth = auth
	}
}

func WithAttemptTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.attemptTimeout = timeout
	}
}

func WithRetryPolicy(policy normalizer.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// DefaultRetryPolicy retries five times, five seconds apart.
func DefaultRetryPolicy() normalizer.RetryPolicy {
	return normalizer.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   5 * time.Second,
		MaxDelay:    5 * time.Second,
	}
}

// NewClient returns a client of test on host. host may omit the scheme.
func NewClient(host, test, group string, opts ...ClientOption) *Client {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	c := &Client{
		baseURL:        host,
		test:           test,
		group:          group,
		attemptTimeout: 10 * time.Second,
		policy:         DefaultRetryPolicy(),
		httpClient:     &http.Client{},
		log:            zap.S().Named("abtest_client").With("test", test, "group", group),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Allow reports whether ownerID belongs to the configured group. Any answer
// but 200 counts as not belonging. Unreachable services are retried.
func (c *Client) Allow(ctx context.Context, ownerID uint64) (bool, error) {
	var allowed bool
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		ok, err := c.attempt(ctx, ownerID)
		if err != nil {
			c.log.Debugw("ab test lookup failed", "owner_id", ownerID, "error", err)
			return err
		}
		allowed = ok
		return nil
	})
	return allowed, err
}

func (c *Client) attempt(ctx context.Context, ownerID uint64) (bool, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "ab", c.test, "candidate", strconv.FormatUint(ownerID, 10))
	if err != nil {
		return false, fmt.Errorf("failed to build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	requestid.Inject(ctx, req)
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, normalizer.Retryable(fmt.Errorf("failed to call ab test service: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		c.log.Warnw("ab test service refused the lookup", "owner_id", ownerID, "status", resp.StatusCode)
		return false, nil
	}

	var body map[string]any
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return false, normalizer.NewErrProtocolMismatch("failed to decode ab test response: %v", err)
	}

	group, ok := body["ab_test_group"]
	if !ok || group == nil {
		return false, nil
	}
	return fmt.Sprint(group) == c.group, nil
}
