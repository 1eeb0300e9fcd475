// Package places is a client for the Google Places legacy Nearby Search API.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

// Service status codes returned in the response envelope.
const (
	StatusOK             = "OK"
	StatusZeroResults    = "ZERO_RESULTS"
	StatusOverQueryLimit = "OVER_QUERY_LIMIT"
	StatusRequestDenied  = "REQUEST_DENIED"
)

// Sentinel errors classifying terminal and retryable lookup failures.
var (
	// ErrRateLimited is returned on OVER_QUERY_LIMIT; the caller may retry
	// after backing off.
	ErrRateLimited = eris.New("places: rate limited")
	// ErrDenied is returned on REQUEST_DENIED; retrying cannot succeed.
	ErrDenied = eris.New("places: request denied")
	// ErrUnrecognizedStatus is returned for any other non-OK service status
	// or a non-200 HTTP response; the lookup is abandoned.
	ErrUnrecognizedStatus = eris.New("places: unrecognized status")
)

// IsTimeout reports whether err stems from a transport-level timeout, which
// the caller treats as retryable with a fixed backoff.
func IsTimeout(err error) bool {
	var netErr net.Error
	return eris.As(err, &netErr) && netErr.Timeout()
}

// Client performs nearby lookups against the places service.
type Client interface {
	NearbySearch(ctx context.Context, req NearbySearchRequest) (*NearbySearchResponse, error)
}

// NearbySearchRequest describes one lookup: a center coordinate, a search
// radius, and either a category filter or a free-text keyword.
type NearbySearchRequest struct {
	Lat     float64
	Lon     float64
	RadiusM float64
	Type    string
	Keyword string
}

// NearbySearchResponse is the parsed service response envelope.
type NearbySearchResponse struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Results      []Result `json:"results"`
}

// Result is one place returned by a nearby lookup.
type Result struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Geometry         Geometry `json:"geometry"`
	Types            []string `json:"types"`
	Rating           float64  `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
}

// Geometry holds a result's coordinate.
type Geometry struct {
	Location LatLng `json:"location"`
}

// LatLng is a coordinate pair in the service's wire format.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) NearbySearch(ctx context.Context, r NearbySearchRequest) (*NearbySearchResponse, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("location", fmt.Sprintf("%f,%f", r.Lat, r.Lon))
	params.Set("radius", strconv.FormatFloat(r.RadiusM, 'f', -1, 64))
	if r.Type != "" {
		params.Set("type", r.Type)
	}
	if r.Keyword != "" {
		params.Set("keyword", r.Keyword)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/nearbysearch/json?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(ErrUnrecognizedStatus, "http %d", resp.StatusCode)
	}

	var result NearbySearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	switch result.Status {
	case StatusOK:
		return &result, nil
	case StatusZeroResults:
		result.Results = nil
		return &result, nil
	case StatusOverQueryLimit:
		return nil, ErrRateLimited
	case StatusRequestDenied:
		return nil, eris.Wrapf(ErrDenied, "%s", result.ErrorMessage)
	default:
		return nil, eris.Wrapf(ErrUnrecognizedStatus, "status %s: %s", result.Status, result.ErrorMessage)
	}
}
