package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"PotLedger/internal/observability"

	"github.com/rs/zerolog"
)

// HTTPOracle queries a remote balance index over HTTP/JSON:
// GET {base}/balances/{participant} -> {"holdings": [...]}.
// Lookups are retried with exponential backoff up to maxRetries; after
// exhaustion the failure surfaces as ErrOracleUnavailable.
type HTTPOracle struct {
	base       string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func NewHTTPOracle(base string, maxRetries int, log zerolog.Logger) *HTTPOracle {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &HTTPOracle{
		base:       base,
		client:     &http.Client{Timeout: 5 * time.Second},
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
		log:        log,
	}
}

// WithMetrics attaches request metrics to the oracle.
func (o *HTTPOracle) WithMetrics(m *observability.Metrics) *HTTPOracle {
	o.metrics = m
	return o
}

type holdingsResponse struct {
	Holdings []Holding `json:"holdings"`
}

func (o *HTTPOracle) Holdings(ctx context.Context, participant string) ([]Holding, error) {
	endpoint := fmt.Sprintf("%s/balances/%s", o.base, url.PathEscape(participant))

	start := time.Now()
	backoff := o.backoff
	var lastErr error

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		if attempt > 0 {
			o.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Str("participant", participant).Msg("oracle retry")
			if o.metrics != nil {
				o.metrics.OracleRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		holdings, err := o.fetch(ctx, endpoint)
		if err == nil {
			if o.metrics != nil {
				o.metrics.OracleRequests.WithLabelValues("ok").Inc()
				o.metrics.OracleDuration.Observe(time.Since(start).Seconds())
			}
			return holdings, nil
		}
		lastErr = err
	}

	if o.metrics != nil {
		o.metrics.OracleRequests.WithLabelValues("error").Inc()
		o.metrics.OracleDuration.Observe(time.Since(start).Seconds())
	}
	return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, lastErr)
}

func (o *HTTPOracle) fetch(ctx context.Context, endpoint string) ([]Holding, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	var body holdingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	return body.Holdings, nil
}

// StaticOracle serves fixed holdings; used in tests and local runs.
type StaticOracle struct {
	ByParticipant map[string][]Holding
}

func (s *StaticOracle) Holdings(_ context.Context, participant string) ([]Holding, error) {
	return s.ByParticipant[participant], nil
}
