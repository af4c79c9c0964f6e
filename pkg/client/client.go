package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/facility-mgmt/pkg/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var ErrBadRequest = errors.New("bad request")

type FacilityClient interface {
	RadiusSearch(ctx context.Context, center types.Location, radius float64, layers ...string) (map[string]types.FeatureCollection, error)
	DangerousTrees(ctx context.Context) (types.FeatureCollection, error)
	DevicesToCheck(ctx context.Context) (types.FeatureCollection, error)
}

type facilityClient struct {
	url        string
	token      string
	httpClient http.Client
}

var tracer = otel.Tracer("facility-mgmt-client")

// New returns a client for the facility service at facilityURL. The token,
// when not empty, is sent as a bearer token.
func New(facilityURL, token string) FacilityClient {
	return &facilityClient{
		url:   strings.TrimSuffix(facilityURL, "/"),
		token: token,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *facilityClient) RadiusSearch(ctx context.Context, center types.Location, radius float64, layers ...string) (map[string]types.FeatureCollection, error) {
	var err error
	ctx, span := tracer.Start(ctx, "radius-search")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(center.Latitude, 'f', -1, 64))
	params.Set("lng", strconv.FormatFloat(center.Longitude, 'f', -1, 64))
	params.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))
	if len(layers) > 0 {
		params.Set("layers", strings.Join(layers, ","))
	}

	result := map[string]types.FeatureCollection{}
	err = c.get(ctx, "/radius-search?"+params.Encode(), &result)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *facilityClient) DangerousTrees(ctx context.Context) (types.FeatureCollection, error) {
	var err error
	ctx, span := tracer.Start(ctx, "dangerous-trees")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	fc := types.NewFeatureCollection()
	err = c.get(ctx, "/dangerous-trees", &fc)
	return fc, err
}

func (c *facilityClient) DevicesToCheck(ctx context.Context) (types.FeatureCollection, error) {
	var err error
	ctx, span := tracer.Start(ctx, "devices-to-check")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	fc := types.NewFeatureCollection()
	err = c.get(ctx, "/devices-to-check", &fc)
	return fc, err
}

func (c *facilityClient) get(ctx context.Context, path string, result any) error {
	log := logging.GetFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		msg := struct {
			Error string `json:"error"`
		}{}
		json.Unmarshal(body, &msg)
		return fmt.Errorf("%w: %s", ErrBadRequest, msg.Error)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("path", path).Msg("unexpected response")
		return fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}

	if err = json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}
