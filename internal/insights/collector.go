package insights

import (
	"context"
	"time"

	"github.com/adkarma/adkarma/internal/circuitbreaker"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/tracking"
)

const collectPageSize = 100

// Collector polls the provider for every registered piece of content and
// appends the readings as view snapshots. Per-content failures are logged
// and skipped. A circuit breaker per platform stops a round from burning
// its whole budget on an API that is down.
type Collector struct {
	provider Provider
	events   *tracking.Service
	breaker  *circuitbreaker.Breaker
}

func NewCollector(provider Provider, events *tracking.Service) *Collector {
	return &Collector{
		provider: provider,
		events:   events,
		breaker:  circuitbreaker.New(5, time.Minute),
	}
}

// Run collects one round of snapshots.
func (c *Collector) Run(ctx context.Context) error {
	afterID := ""
	for {
		content, err := c.events.Store().ListContent(ctx, collectPageSize, afterID)
		if err != nil {
			return err
		}
		if len(content) == 0 {
			return nil
		}
		for _, item := range content {
			if !c.breaker.Allow(item.Platform) {
				continue
			}
			stats, err := c.provider.Fetch(ctx, item.Platform, item.ContentURL)
			if err != nil {
				c.breaker.RecordFailure(item.Platform)
				logging.L(ctx).Warn("insights fetch failed",
					"content_id", item.ID, "platform", item.Platform, "error", err)
				continue
			}
			c.breaker.RecordSuccess(item.Platform)
			snap := &tracking.ViewSnapshot{
				CampaignID: item.CampaignID,
				CreatorID:  item.CreatorID,
				Platform:   item.Platform,
				ContentURL: item.ContentURL,
				Views:      stats.Views,
				Likes:      stats.Likes,
				Comments:   stats.Comments,
			}
			if err := c.events.AppendSnapshot(ctx, snap); err != nil {
				logging.L(ctx).Warn("snapshot append failed",
					"content_id", item.ID, "error", err)
			}
		}
		afterID = content[len(content)-1].ID
	}
}
