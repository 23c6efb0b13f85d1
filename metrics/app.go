package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds all the application metrics
type AppMetrics struct {
	metric.Meter

	ActivePeers       metric.Int64UpDownCounter
	WaitingPeers      metric.Int64UpDownCounter
	Matches           metric.Int64Counter
	MessagesForwarded metric.Int64Counter
	MessagesDropped   metric.Int64Counter
	StaleEntriesSwept metric.Int64Counter
	MatchScanTime     metric.Float64Histogram
}

func NewAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	activePeers, err := meter.Int64UpDownCounter("active_peers_total")
	if err != nil {
		return nil, err
	}

	waitingPeers, err := meter.Int64UpDownCounter("waiting_peers_total")
	if err != nil {
		return nil, err
	}

	matches, err := meter.Int64Counter("matches_total")
	if err != nil {
		return nil, err
	}

	messagesForwarded, err := meter.Int64Counter("messages_forwarded_total")
	if err != nil {
		return nil, err
	}

	messagesDropped, err := meter.Int64Counter("messages_dropped_total")
	if err != nil {
		return nil, err
	}

	staleEntriesSwept, err := meter.Int64Counter("stale_pool_entries_swept_total")
	if err != nil {
		return nil, err
	}

	matchScanTime, err := meter.Float64Histogram("match_scan_milliseconds",
		metric.WithExplicitBucketBoundaries(getStandardBucketBoundaries()...))
	if err != nil {
		return nil, err
	}

	return &AppMetrics{
		Meter:             meter,
		ActivePeers:       activePeers,
		WaitingPeers:      waitingPeers,
		Matches:           matches,
		MessagesForwarded: messagesForwarded,
		MessagesDropped:   messagesDropped,
		StaleEntriesSwept: staleEntriesSwept,
		MatchScanTime:     matchScanTime,
	}, nil
}

func getStandardBucketBoundaries() []float64 {
	return []float64{
		0.1,
		0.5,
		1,
		5,
		10,
		50,
		100,
		500,
		1000,
	}
}
