// Package events publishes pipeline notifications on Redis pub/sub for the
// Gateway to forward over SSE.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/discovery-pipeline/internal/model"
)

// ChannelJobsDiscovered carries one message per completed run that found jobs.
const ChannelJobsDiscovered = "EVENT_JOBS_DISCOVERED"

// JobsDiscovered is the message body published after a run.
type JobsDiscovered struct {
	Type         string             `json:"type"`
	RunID        string             `json:"runId,omitempty"`
	Keywords     string             `json:"keywords"`
	Location     string             `json:"location"`
	JobsFound    int                `json:"jobsFound"`
	ExternalIDs  []string           `json:"externalIds"`
	SearchMethod model.SearchMethod `json:"searchMethod"`
	Inserted     int                `json:"inserted"`
	At           time.Time          `json:"at"`
}

// NewJobsDiscovered builds the event for a finished result.
func NewJobsDiscovered(res *model.ScrapeResult, at time.Time) JobsDiscovered {
	ids := make([]string, 0, len(res.Jobs))
	for _, j := range res.Jobs {
		ids = append(ids, j.ExternalID)
	}
	ev := JobsDiscovered{
		Type:         ChannelJobsDiscovered,
		RunID:        res.RunID,
		Keywords:     res.Keywords,
		Location:     res.Location,
		JobsFound:    res.JobsFound,
		ExternalIDs:  ids,
		SearchMethod: res.SearchMethod,
		At:           at.UTC(),
	}
	if res.Upsert != nil {
		ev.Inserted = res.Upsert.Inserted
	}
	return ev
}

// RedisPublisher publishes events with PUBLISH.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a publisher on rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// JobsDiscovered publishes a JobsDiscovered event for res.
func (p *RedisPublisher) JobsDiscovered(ctx context.Context, res *model.ScrapeResult) error {
	payload, err := json.Marshal(NewJobsDiscovered(res, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChannelJobsDiscovered, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelJobsDiscovered, err)
	}
	return nil
}
