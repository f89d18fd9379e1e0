package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoRoute is returned when the provider answers but has no usable route.
var ErrNoRoute = errors.New("routing: no route found")

// Location is a routable point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// IsZero reports whether the location carries neither coordinates nor an address.
func (l Location) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0 && l.Address == ""
}

func (l Location) query() string {
	if l.Latitude != 0 || l.Longitude != 0 {
		return strconv.FormatFloat(l.Latitude, 'f', 6, 64) + "," + strconv.FormatFloat(l.Longitude, 'f', 6, 64)
	}
	return l.Address
}

// Route is the travel estimate between two locations.
type Route struct {
	DistanceMeters  int `json:"distanceMeters"`
	DurationSeconds int `json:"durationSeconds"`
}

// Client looks up travel distance between two locations.
type Client interface {
	Lookup(ctx context.Context, origin, dest Location) (*Route, error)
}

// Options configures the HTTP routing client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RPS        float64
	Burst      int
	HTTPClient *http.Client
}

// HTTPClient calls a distance-matrix style HTTP endpoint, throttled by a token bucket.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a routing client from options.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPClient{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, opts.Burst),
	}
}

type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// Lookup resolves the route between origin and dest.
func (c *HTTPClient) Lookup(ctx context.Context, origin, dest Location) (*Route, error) {
	if origin.IsZero() || dest.IsZero() {
		return nil, fmt.Errorf("routing: origin and destination are required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("routing: wait for rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("origins", origin.query())
	params.Set("destinations", dest.query())
	params.Set("units", "metric")
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("routing: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routing: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing: unexpected status %d", resp.StatusCode)
	}

	var payload matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("routing: decode response: %w", err)
	}
	if payload.Status != "" && payload.Status != "OK" {
		return nil, fmt.Errorf("routing: provider status %s", payload.Status)
	}
	if len(payload.Rows) == 0 || len(payload.Rows[0].Elements) == 0 {
		return nil, ErrNoRoute
	}
	element := payload.Rows[0].Elements[0]
	if element.Status != "" && element.Status != "OK" {
		return nil, ErrNoRoute
	}
	return &Route{DistanceMeters: element.Distance.Value, DurationSeconds: element.Duration.Value}, nil
}
