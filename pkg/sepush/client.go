// Package sepush is a client for the EskomSePush business API.
package sepush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/loadshed/pkg/common"
	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/types"
)

const (
	DefaultBaseURL = "https://developer.sepush.co.za/business/2.0"
	DefaultTimeout = 10 * time.Second

	EndpointStatus      = "/status"
	EndpointAllowance   = "/api_allowance"
	EndpointArea        = "/area"
	EndpointAreasSearch = "/areas_search"

	tokenHeader     = "Token"
	maxResponseSize = 4 << 20
)

// Client queries the EskomSePush API. The API key is supplied per call so a
// single Client can serve any number of configured entries.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration

	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration
}

// Configured sets up the client from flags.
func Configured() *Client {
	c := NewClient(DefaultBaseURL, DefaultTimeout)
	apiURL := lflag.String("sepush-api-url", DefaultBaseURL, "Base URL for the EskomSePush API")
	timeout := lflag.Duration("sepush-timeout", DefaultTimeout, "Timeout for a single EskomSePush request")

	lflag.Do(func() {
		c.baseURL = *apiURL
		if *timeout > 0 {
			c.timeout = *timeout
		}
		if err := c.Validate(); err != nil {
			panic(err)
		}
	})
	return c
}

// NewClient returns a Client for baseURL with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		// timeouts are applied per attempt through the request context
		client:      common.HTTPClient(0),
		timeout:     timeout,
		maxAttempts: 3,
		retryBase:   500 * time.Millisecond,
		retryMax:    5 * time.Second,
	}
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.baseURL == "" {
		return errors.New("sepush-api-url is required")
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return fmt.Errorf("failed to parse sepush url (%s): %w", c.baseURL, err)
	}
	return nil
}

// Query issues a GET against endpoint and decodes the JSON body into dest.
// Transient network failures and 502/503/504 responses are retried a limited
// number of times with exponential backoff. Timeouts are not retried.
func (c *Client) Query(ctx context.Context, apiKey, endpoint string, params url.Values, dest any) error {
	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := common.Backoff(attempt-1, c.retryBase, c.retryMax)
			log.Ctx(ctx).DebugContext(
				ctx,
				"retrying sepush request",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("sepush %s: %w", endpoint, ctx.Err())
			case <-time.After(delay):
			}
		}

		var retry bool
		retry, err = c.do(ctx, apiKey, endpoint, params, dest)
		if err == nil {
			return nil
		}
		if !retry {
			break
		}
	}

	if ctx.Err() != nil {
		// the caller gave up; that is not a failure of the upstream
		log.Ctx(ctx).DebugContext(ctx, "sepush request abandoned", slog.String("endpoint", endpoint))
		return fmt.Errorf("sepush %s: %w", endpoint, ctx.Err())
	}

	var qe *QueryError
	if errors.As(err, &qe) {
		log.Ctx(ctx).ErrorContext(
			ctx,
			"error fetching information from sepush",
			slog.String("endpoint", endpoint),
			slog.String("kind", qe.Kind.Error()),
			slog.Int("status", qe.StatusCode),
			slog.String("message", qe.Message),
			slog.Any("error", qe.Err),
		)
	}
	return err
}

// do performs a single attempt and reports whether a failure may be retried.
func (c *Client) do(ctx context.Context, apiKey, endpoint string, params url.Values, dest any) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return false, &QueryError{Endpoint: endpoint, Kind: ErrNetwork, Err: fmt.Errorf("invalid url: %w", err)}
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, &QueryError{Endpoint: endpoint, Kind: ErrNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set(tokenHeader, apiKey)
	req.Header.Set("Accept", "application/json")

	log.Ctx(ctx).DebugContext(ctx, "querying sepush", slog.String("endpoint", endpoint))

	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return c.transportError(ctx, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		qe := &QueryError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			qe.Kind = ErrAuth
		case http.StatusTooManyRequests:
			qe.Kind = ErrQuotaExceeded
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			qe.Kind = ErrNetwork
			return true, qe
		default:
			qe.Kind = ErrNetwork
		}
		return false, qe
	}

	if dest == nil {
		return false, nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return false, &QueryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Kind: ErrParse, Err: err}
	}
	return false, nil
}

func (c *Client) transportError(ctx context.Context, endpoint string, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return false, &QueryError{Endpoint: endpoint, Kind: ErrTimeout, Err: err}
	}
	return retryable(err), &QueryError{Endpoint: endpoint, Kind: ErrNetwork, Err: err}
}

func retryable(err error) bool {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}

func errorMessage(body []byte) string {
	var res struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return ""
	}
	return res.Error
}

// Status returns the national and Cape Town load-shedding status.
func (c *Client) Status(ctx context.Context, apiKey string) (types.StatusResponse, error) {
	var res types.StatusResponse
	if err := c.Query(ctx, apiKey, EndpointStatus, nil, &res); err != nil {
		return types.StatusResponse{}, err
	}
	return res, nil
}

// Allowance returns the API quota for the key.
func (c *Client) Allowance(ctx context.Context, apiKey string) (types.Allowance, error) {
	var res types.AllowanceResponse
	if err := c.Query(ctx, apiKey, EndpointAllowance, nil, &res); err != nil {
		return types.Allowance{}, err
	}
	return res.Allowance, nil
}

// AreaInformation returns events and the schedule for an area.
func (c *Client) AreaInformation(ctx context.Context, apiKey, areaID string) (types.AreaInformation, error) {
	params := url.Values{}
	params.Set("id", areaID)
	var res types.AreaInformation
	if err := c.Query(ctx, apiKey, EndpointArea, params, &res); err != nil {
		return types.AreaInformation{}, err
	}
	return res, nil
}

// SearchAreas finds areas matching text. No matches is an empty slice.
func (c *Client) SearchAreas(ctx context.Context, apiKey, text string) ([]types.Area, error) {
	params := url.Values{}
	params.Set("text", text)
	var res types.AreaSearchResponse
	if err := c.Query(ctx, apiKey, EndpointAreasSearch, params, &res); err != nil {
		return nil, err
	}
	if res.Areas == nil {
		return []types.Area{}, nil
	}
	return res.Areas, nil
}

// ValidateKey performs an allowance check with apiKey. A rejected key is
// reported as (false, nil); any other failure is returned so callers can tell
// a bad key from an outage.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) (bool, error) {
	if apiKey == "" {
		return false, nil
	}
	if _, err := c.Allowance(ctx, apiKey); err != nil {
		if errors.Is(err, ErrAuth) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
