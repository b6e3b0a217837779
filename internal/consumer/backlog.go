package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/metrics"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

// nsqStats is the subset of nsqd's /stats?format=json response we read.
type nsqStats struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Depth    int64  `json:"depth"`
		Channels []struct {
			Name  string `json:"channel_name"`
			Depth int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

// BacklogMonitor polls nsqd stats and exports queue depth gauges for the
// watched topics. Topic-level depth is exported with an empty channel label.
type BacklogMonitor struct {
	statsURL string
	topics   map[string]bool
	interval time.Duration
	http     *http.Client
	logger   *logging.Logger
}

func NewBacklogMonitor(nsqdHTTPAddr string, topics []string, interval time.Duration, logger *logging.Logger) *BacklogMonitor {
	addr := nsqdHTTPAddr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	watched := make(map[string]bool, len(topics))
	for _, t := range topics {
		watched[t] = true
	}
	return &BacklogMonitor{
		statsURL: strings.TrimRight(addr, "/") + "/stats?format=json",
		topics:   watched,
		interval: interval,
		http:     tracing.HTTPClient("nsqd.stats", 5*time.Second),
		logger:   logger,
	}
}

// Run polls until ctx is done.
func (m *BacklogMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				m.logger.Plain().WithError(err).Warn("backlog poll failed")
			}
		}
	}
}

// Poll fetches stats once and updates the gauges.
func (m *BacklogMonitor) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsq stats: status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsq stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if !m.topics[topic.Name] {
			continue
		}
		metrics.UpdateQueueDepth(topic.Name, "", float64(topic.Depth))
		for _, ch := range topic.Channels {
			metrics.UpdateQueueDepth(topic.Name, ch.Name, float64(ch.Depth))
		}
	}
	return nil
}
