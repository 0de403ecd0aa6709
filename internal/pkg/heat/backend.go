package heat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
)

// Backend queries a time-series telemetry backend for a single metric.
// samples is the number of samples in the response vector; value is the
// first sample's value and is meaningful only when samples > 0.
type Backend interface {
	Query(ctx context.Context, metric, volumeID string, window time.Duration) (samples int, value float64, err error)
}

// queryResponse mirrors the Prometheus HTTP API's instant-query envelope.
type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Value  [2]interface{}    `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// httpBackend is a Backend implementation over the Prometheus-compatible
// HTTP instant-query interface described by spec §6:
// GET /api/v1/query?query=<expr>.
type httpBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend returns a Backend that queries baseURL using an instant
// query per call, bounded by timeout. token, if non-empty, is sent as a
// bearer token on every request.
func NewHTTPBackend(baseURL, token string, timeout time.Duration) Backend {
	return &httpBackend{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Query issues an instant query for avg_over_time(metric{volume_id="id"}[window]).
func (b *httpBackend) Query(ctx context.Context, metric, volumeID string, window time.Duration) (int, float64, error) {
	expr := fmt.Sprintf(`avg_over_time(%s{volume_id=%q}[%s])`, metric, volumeID, model.Duration(window).String())

	u, err := url.Parse(b.baseURL)
	if err != nil {
		return 0, 0, errors.Wrap(err, "invalid telemetry backend url")
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	q.Set("query", expr)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to build telemetry request")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, 0, errors.Wrap(err, "telemetry backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, errors.Errorf("telemetry backend returned status %d", resp.StatusCode)
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, 0, errors.Wrap(err, "malformed telemetry response")
	}
	if parsed.Status != "success" {
		return 0, 0, errors.Errorf("telemetry query rejected: status=%q", parsed.Status)
	}

	samples := len(parsed.Data.Result)
	if samples == 0 {
		return 0, 0, nil
	}

	raw, ok := parsed.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, 0, errors.New("malformed telemetry sample value")
	}
	sv, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "malformed telemetry sample value")
	}
	if model.SampleValue(sv).String() == "NaN" {
		return 0, 0, nil
	}

	return samples, sv, nil
}
