package weatherlink

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

	"github.com/sony/gobreaker"

	"github.com/02loveslollipop/aws-rainfall/internal/logging"
	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

const (
	secretHeader = "X-API-SECRET"
	maxBodyBytes = 4 << 20

	defaultFailureThreshold = 3
	defaultOpenTimeout      = time.Minute
)

var (
	// ErrFetch is the parent of every fetch failure. The worker treats it as
	// a transient skip unless strict fetching is enabled.
	ErrFetch = errors.New("fetch current conditions")

	ErrRequest     = fmt.Errorf("%w: request failed", ErrFetch)
	ErrStatus      = fmt.Errorf("%w: unexpected status", ErrFetch)
	ErrDecode      = fmt.Errorf("%w: decode payload", ErrFetch)
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrFetch)
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	StationID string

	HTTPClient *http.Client

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. OpenTimeout is how long it stays open before probing again;
	// keep it below the polling interval so no scheduled cycle is skipped.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	Logger *logging.Logger
}

// Client fetches current conditions for one station.
type Client struct {
	endpoint  string
	apiKey    string
	apiSecret string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    *logging.Logger
}

// New builds a Client for {BaseURL}/current/{StationID}.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	openTimeout := opts.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}

	c := &Client{
		endpoint:  strings.TrimRight(opts.BaseURL, "/") + "/current/" + url.PathEscape(opts.StationID),
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		http:      httpClient,
		logger:    logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weatherlink",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("api circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Endpoint returns the URL polled by the client, without credentials.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// BreakerState reports the circuit breaker state (closed, half-open, open).
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// FetchCurrent performs one request and returns the first data point of the
// sensor whose lsid equals sensorID. It returns nil, nil when the sensor is
// absent or has no data.
func (c *Client) FetchCurrent(ctx context.Context, sensorID int) (*models.DataPoint, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return FetchCurrentConditions(ctx, c.http, c.endpoint, c.apiKey, c.apiSecret)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}

	payload, ok := result.(models.CurrentResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type %T", ErrDecode, result)
	}
	return SelectSensor(payload, sensorID), nil
}

// FetchCurrentConditions retrieves the current conditions payload.
func FetchCurrentConditions(ctx context.Context, client *http.Client, endpoint, apiKey, apiSecret string) (models.CurrentResponse, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return models.CurrentResponse{}, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	q := u.Query()
	q.Set("api-key", apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.CurrentResponse{}, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set(secretHeader, apiSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return models.CurrentResponse{}, fmt.Errorf("%w: %s", ErrRequest, redact(err.Error(), apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return models.CurrentResponse{}, fmt.Errorf("%w %s", ErrStatus, resp.Status)
	}

	var payload models.CurrentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return models.CurrentResponse{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return payload, nil
}

// SelectSensor returns the first data point of the matching sensor, or nil.
func SelectSensor(payload models.CurrentResponse, sensorID int) *models.DataPoint {
	for _, s := range payload.Sensors {
		if s.LSID != sensorID {
			continue
		}
		if len(s.Data) == 0 {
			return nil
		}
		point := s.Data[0]
		return &point
	}
	return nil
}

// redact keeps the API key out of error messages, which embed the request URL.
func redact(msg, secret string) string {
	if secret == "" {
		return msg
	}
	return strings.ReplaceAll(msg, secret, "REDACTED")
}
