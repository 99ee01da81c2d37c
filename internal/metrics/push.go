package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the default registry to a Prometheus Pushgateway. Batch
// ingestion runs are too short-lived to be scraped.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
