package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/pantry-sync/internal/errors"
	"github.com/alexjbarnes/pantry-sync/internal/logging"
	"github.com/tidwall/gjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// DefaultRequestTimeout bounds a single request when the caller does
	// not configure a timeout.
	DefaultRequestTimeout = 16 * time.Second

	// maxResponseBytes caps response body reads. Entry payloads can carry
	// inline article images.
	maxResponseBytes = 8 * 1024 * 1024

	// apiVersion is sent with every request so the server can reject
	// clients speaking an older protocol.
	apiVersion       = 3
	apiVersionHeader = "X-Expiry-Sync-Api-Version"
)

// Client implements Gateway over the server's JSON API. Session cookies
// set by sign-in are kept in a cookie jar and sent on later requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	locale     string
	logger     *slog.Logger
	now        func() time.Time

	// skewMillis is the last measured skew, sent along with change-set
	// requests.
	skewMillis atomic.Int64
}

var _ Gateway = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its cookie jar is replaced by
// a fresh one when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLocale sets the Accept-Language sent with every request.
func WithLocale(locale string) Option {
	return func(c *Client) { c.locale = locale }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithNow replaces the local clock used to stamp response receipt.
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so session cookies and credentials
// never reach a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a client for the server at baseURL. A zero timeout
// uses DefaultRequestTimeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}

	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		locale:  "en",
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:       timeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}

		c.httpClient.Jar = jar
	}

	c.logger = logging.Component(c.logger, "remote")

	return c, nil
}

// LastSkew returns the skew measured on the most recent response.
func (c *Client) LastSkew() time.Duration {
	return time.Duration(c.skewMillis.Load()) * time.Millisecond
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// do sends a request and returns the parsed JSON body together with the
// server clock reading. GET requests carry params in the query string,
// all others send body as JSON.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body any) (gjson.Result, Clock, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, Clock{}, fmt.Errorf("%s: marshalling request body: %w", op, err)
		}

		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return gjson.Result{}, Clock{}, fmt.Errorf("%s: creating request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json; charset=utf-8")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept-Language", c.locale)
	req.Header.Set(apiVersionHeader, strconv.Itoa(apiVersion))

	c.logger.Debug("api request", slog.String("op", op), slog.String("method", method), slog.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, Clock{}, unreachable(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, Clock{}, unreachable(op, fmt.Errorf("reading response: %w", err))
	}

	clock := Clock{ReceivedAt: c.now().UTC()}
	if date := resp.Header.Get("Date"); date != "" {
		if t, err := http.ParseTime(date); err == nil {
			clock.ServerTime = t.UTC()
			c.skewMillis.Store(clock.Skew().Milliseconds())
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, clock, fmt.Errorf("%s: %w", op, apperrors.ErrRemoteGone)
	case isTransientStatus(resp.StatusCode):
		return gjson.Result{}, clock, unreachable(op, fmt.Errorf("status %d: %s", resp.StatusCode, sanitizeResponseBody(respBody)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return gjson.Result{}, clock, &RejectedError{Op: op, Status: resp.StatusCode, Details: sanitizeResponseBody(respBody)}
	}

	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, clock, fmt.Errorf("%s: response is not valid JSON: %s", op, sanitizeResponseBody(respBody))
	}

	result := gjson.ParseBytes(respBody)
	if status := result.Get("status").String(); status != "success" {
		return gjson.Result{}, clock, &RejectedError{Op: op, Status: resp.StatusCode, Details: sanitizeResponseBody(respBody)}
	}

	c.logger.Debug("api success", slog.String("op", op), slog.Duration("skew", clock.Skew()))

	return result, clock, nil
}

// decodeField unmarshals the value at path into dst. A missing value
// leaves dst untouched.
func decodeField(op string, result gjson.Result, path string, dst any) error {
	v := result.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}

	if err := json.Unmarshal([]byte(v.Raw), dst); err != nil {
		return fmt.Errorf("%s: decoding %s: %w", op, path, err)
	}

	return nil
}

func (c *Client) changeParams(since *time.Time) url.Values {
	if since == nil {
		return nil
	}

	return url.Values{
		"from_timestamp": {FormatHTTPDate(*since)},
		"time_skew":      {strconv.FormatInt(c.skewMillis.Load(), 10)},
	}
}

// FetchLocations returns the locations of the signed-in user changed or
// deleted since the given time.
func (c *Client) FetchLocations(ctx context.Context, since *time.Time) (LocationChanges, error) {
	const op = "fetch locations"

	res, clock, err := c.do(ctx, op, http.MethodGet, "/locations/index_mine_changed", c.changeParams(since), nil)
	if err != nil {
		return LocationChanges{Clock: clock}, err
	}

	out := LocationChanges{Clock: clock}
	if err := decodeField(op, res, "locations", &out.Changed); err != nil {
		return out, err
	}

	err = decodeField(op, res, "deleted_locations", &out.Deleted)

	return out, err
}

// FetchEntries returns the product entries of one location changed or
// deleted since the given time. A location that no longer exists gives
// an error wrapping ErrRemoteGone.
func (c *Client) FetchEntries(ctx context.Context, locationServerID int64, since *time.Time) (EntryChanges, error) {
	const op = "fetch product entries"

	path := fmt.Sprintf("/locations/%d/product_entries/index_changed", locationServerID)

	res, clock, err := c.do(ctx, op, http.MethodGet, path, c.changeParams(since), nil)
	if err != nil {
		return EntryChanges{Clock: clock}, err
	}

	out := EntryChanges{Clock: clock}
	if err := decodeField(op, res, "product_entries", &out.Changed); err != nil {
		return out, err
	}

	err = decodeField(op, res, "deleted_product_entries", &out.Deleted)

	return out, err
}

// CreateLocation creates a location owned by the signed-in user.
func (c *Client) CreateLocation(ctx context.Context, loc LocationPayload) (LocationResult, error) {
	return c.pushLocation(ctx, "create location", http.MethodPost, "/locations", loc)
}

// UpdateLocation updates the location addressed by loc.ID.
func (c *Client) UpdateLocation(ctx context.Context, loc LocationPayload) (LocationResult, error) {
	return c.pushLocation(ctx, "update location", http.MethodPut, fmt.Sprintf("/locations/%d", loc.ID), loc)
}

func (c *Client) pushLocation(ctx context.Context, op, method, path string, loc LocationPayload) (LocationResult, error) {
	res, clock, err := c.do(ctx, op, method, path, nil, map[string]any{"location": loc})
	if err != nil {
		return LocationResult{Clock: clock}, err
	}

	out := LocationResult{Clock: clock}
	err = decodeField(op, res, "location", &out.Location)

	return out, err
}

// LeaveLocation removes the user's share of a location.
func (c *Client) LeaveLocation(ctx context.Context, locationServerID, userServerID int64) (Clock, error) {
	path := fmt.Sprintf("/locations/%d/location_shares/%d", locationServerID, userServerID)
	_, clock, err := c.do(ctx, "leave location", http.MethodDelete, path, nil, nil)

	return clock, err
}

// CreateEntry creates a product entry. The server may answer with an
// article carrying a different id than the one sent when it merged the
// article with an existing one.
func (c *Client) CreateEntry(ctx context.Context, entry EntryPayload) (EntryResult, error) {
	return c.pushEntry(ctx, "create product entry", http.MethodPost, "/product_entries", entry)
}

// UpdateEntry updates the product entry addressed by entry.ID.
func (c *Client) UpdateEntry(ctx context.Context, entry EntryPayload) (EntryResult, error) {
	return c.pushEntry(ctx, "update product entry", http.MethodPut, fmt.Sprintf("/product_entries/%d", entry.ID), entry)
}

func (c *Client) pushEntry(ctx context.Context, op, method, path string, entry EntryPayload) (EntryResult, error) {
	res, clock, err := c.do(ctx, op, method, path, nil, map[string]any{"product_entry": entry})
	if err != nil {
		return EntryResult{Clock: clock}, err
	}

	out := EntryResult{Clock: clock}
	err = decodeField(op, res, "product_entry", &out.Entry)

	return out, err
}

// DeleteEntry deletes a product entry.
func (c *Client) DeleteEntry(ctx context.Context, serverID int64) (Clock, error) {
	_, clock, err := c.do(ctx, "delete product entry", http.MethodDelete, fmt.Sprintf("/product_entries/%d", serverID), nil, nil)
	return clock, err
}

// ShareLocation shares a location with another user, named by user name
// or email address. The server answers with the user it found.
func (c *Client) ShareLocation(ctx context.Context, locationServerID int64, login string) (UserResult, error) {
	const op = "share location"

	user := map[string]string{"username": login}
	if strings.Contains(login, "@") {
		user = map[string]string{"email": login}
	}

	path := fmt.Sprintf("/locations/%d/location_shares", locationServerID)

	res, clock, err := c.do(ctx, op, http.MethodPost, path, nil, map[string]any{"user": user})
	if err != nil {
		return UserResult{Clock: clock}, err
	}

	out := UserResult{Clock: clock}
	err = decodeField(op, res, "user", &out.User)

	return out, err
}

// Login signs in with a user name or email and a password. The session
// cookie is kept for later calls. Wrong credentials give an error
// wrapping ErrInvalidLogin.
func (c *Client) Login(ctx context.Context, login, password string) (UserResult, error) {
	const op = "sign in"

	res, clock, err := c.do(ctx, op, http.MethodPost, "/users/sign_in", nil, map[string]any{
		"user": LoginRequest{Login: login, Password: password},
	})

	var rejected *RejectedError
	if errors.As(err, &rejected) && rejected.Status == http.StatusUnauthorized {
		return UserResult{Clock: clock}, fmt.Errorf("%s: %w", op, apperrors.ErrInvalidLogin)
	}

	if err != nil {
		return UserResult{Clock: clock}, err
	}

	out := UserResult{Clock: clock}
	err = decodeField(op, res, "user", &out.User)

	return out, err
}

// Logout ends the server session.
func (c *Client) Logout(ctx context.Context) error {
	_, _, err := c.do(ctx, "sign out", http.MethodDelete, "/users/sign_out", nil, nil)
	return err
}

// ArticleByBarcode looks up article details by barcode.
func (c *Client) ArticleByBarcode(ctx context.Context, barcode string) (ArticleResult, error) {
	const op = "article by barcode"

	res, clock, err := c.do(ctx, op, http.MethodGet, "/articles/by_barcode/"+url.PathEscape(barcode), nil, nil)
	if err != nil {
		return ArticleResult{Clock: clock}, err
	}

	out := ArticleResult{Clock: clock}
	err = decodeField(op, res, "article", &out.Article)

	return out, err
}
