package portal

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

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultBaseURL is the App Store Connect API host
const DefaultBaseURL = "https://api.appstoreconnect.apple.com"

const (
	pageLimit       = "200"
	maxResponseSize = 16 << 20
)

// certificateTypes lists the certificate types queried for each platform.
var certificateTypes = map[Platform][]string{
	PlatformIOS: {
		"IOS_DEVELOPMENT",
		"IOS_DISTRIBUTION",
		"DEVELOPMENT",
		"DISTRIBUTION",
	},
	PlatformMacOS: {
		"MAC_APP_DEVELOPMENT",
		"MAC_APP_DISTRIBUTION",
		"MAC_INSTALLER_DISTRIBUTION",
		"DEVELOPER_ID_APPLICATION",
		"DEVELOPER_ID_KEXT",
		"DEVELOPMENT",
		"DISTRIBUTION",
	},
}

// HTTPClient talks to the App Store Connect REST API.
type HTTPClient struct {
	key        APIKey
	baseURL    string
	http       *http.Client
	logger     *zap.Logger
	maxRetries uint64
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithBaseURL points the client at another host, e.g. an httptest server.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithLogger enables request logging
func WithLogger(l *zap.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// WithMaxRetries bounds retries of rate-limited and 5xx responses
func WithMaxRetries(n uint64) Option {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// WithBackOff sets the retry schedule
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *HTTPClient) { c.newBackOff = f }
}

// NewHTTPClient creates a portal client authenticating with key.
func NewHTTPClient(key APIKey, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		key:        key,
		baseURL:    DefaultBaseURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login creates a session for the team the API key belongs to and checks
// that the portal accepts the credentials.
func (c *HTTPClient) Login(ctx context.Context, user, teamID, teamName string) (*Session, error) {
	sess := NewSession(user, teamID, teamName, newJWTSource(c.key, c.now))

	q := url.Values{}
	q.Set("limit", "1")
	var doc document[bundleIDAttributes]
	if err := c.do(ctx, sess, http.MethodGet, c.endpoint("/v1/bundleIds", q), &doc); err != nil {
		return nil, fmt.Errorf("logging in to App Store Connect: %w", err)
	}

	c.logger.Debug("portal session established",
		zap.String("user", user),
		zap.String("team_id", teamID),
		zap.String("key_id", c.key.KeyID),
	)
	return sess, nil
}

// FindBundleID looks up a bundle identifier. The server-side filter is not an
// exact match, so results are compared by identifier.
func (c *HTTPClient) FindBundleID(ctx context.Context, sess *Session, identifier string) (*BundleID, error) {
	q := url.Values{}
	q.Set("filter[identifier]", identifier)
	q.Set("limit", pageLimit)

	resources, err := list[bundleIDAttributes](ctx, c, sess, c.endpoint("/v1/bundleIds", q))
	if err != nil {
		return nil, fmt.Errorf("finding bundle identifier %q: %w", identifier, err)
	}
	for _, r := range resources {
		if r.Attributes.Identifier == identifier {
			b := r.Attributes.toBundleID(r.ID)
			return &b, nil
		}
	}
	return nil, nil
}

// ListBundleIDs returns every bundle identifier of the team
func (c *HTTPClient) ListBundleIDs(ctx context.Context, sess *Session) ([]BundleID, error) {
	q := url.Values{}
	q.Set("limit", pageLimit)

	resources, err := list[bundleIDAttributes](ctx, c, sess, c.endpoint("/v1/bundleIds", q))
	if err != nil {
		return nil, fmt.Errorf("listing bundle identifiers: %w", err)
	}
	out := make([]BundleID, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.Attributes.toBundleID(r.ID))
	}
	return out, nil
}

// ListCertificates returns the certificates usable for platform.
func (c *HTTPClient) ListCertificates(ctx context.Context, sess *Session, platform Platform) ([]Certificate, error) {
	q := url.Values{}
	q.Set("filter[certificateType]", strings.Join(certificateTypes[platform.CertificatePlatform()], ","))
	q.Set("limit", pageLimit)

	resources, err := list[certificateAttributes](ctx, c, sess, c.endpoint("/v1/certificates", q))
	if err != nil {
		return nil, fmt.Errorf("listing %s certificates: %w", platform.CertificatePlatform(), err)
	}
	out := make([]Certificate, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.Attributes.toCertificate(r.ID))
	}
	return out, nil
}

// ListProfiles returns every provisioning profile of the team
func (c *HTTPClient) ListProfiles(ctx context.Context, sess *Session) ([]Profile, error) {
	q := url.Values{}
	q.Set("limit", pageLimit)

	resources, err := list[profileAttributes](ctx, c, sess, c.endpoint("/v1/profiles", q))
	if err != nil {
		return nil, fmt.Errorf("listing provisioning profiles: %w", err)
	}
	out := make([]Profile, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.Attributes.toProfile(r.ID))
	}
	return out, nil
}

// DeleteProfile removes a provisioning profile from the portal
func (c *HTTPClient) DeleteProfile(ctx context.Context, sess *Session, id string) error {
	if id == "" {
		return fmt.Errorf("profile id is required")
	}
	if err := c.do(ctx, sess, http.MethodDelete, c.endpoint("/v1/profiles/"+url.PathEscape(id), nil), nil); err != nil {
		return fmt.Errorf("deleting provisioning profile %s: %w", id, err)
	}
	return nil
}

func (c *HTTPClient) endpoint(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// list fetches a collection, following links.next until the last page.
func list[T any](ctx context.Context, c *HTTPClient, sess *Session, rawURL string) ([]resource[T], error) {
	var out []resource[T]
	seen := map[string]bool{}
	for next := rawURL; next != ""; {
		if seen[next] {
			return nil, fmt.Errorf("pagination loop at %s", next)
		}
		seen[next] = true

		var doc document[T]
		if err := c.do(ctx, sess, http.MethodGet, next, &doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Data...)
		next = doc.Links.Next
	}
	return out, nil
}

// do sends one request, retrying rate-limited and server errors.
func (c *HTTPClient) do(ctx context.Context, sess *Session, method, rawURL string, dest any) error {
	auth, err := sess.authorization()
	if err != nil {
		return fmt.Errorf("authorizing request: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request to App Store Connect: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("making request to App Store Connect: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("reading response body from App Store Connect: %w", err)
		}

		c.logger.Debug("portal request",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt),
		)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := newAPIError(resp.StatusCode, body)
			if retryable(resp.StatusCode) {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if dest != nil && len(body) > 0 {
			if err := json.Unmarshal(body, dest); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response data from App Store Connect: %w", err))
			}
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	err = backoff.Retry(op, b)
	var apiErr *APIError
	if errors.As(err, &apiErr) && retryable(apiErr.StatusCode) {
		c.logger.Warn("portal request failed after retries",
			zap.String("url", rawURL),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
	return err
}
