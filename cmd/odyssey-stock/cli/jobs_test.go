package cli

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/jobs"
)

func TestTriggerRejectsUnknownJobs(t *testing.T) {
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, 72*time.Hour, 0)
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Trigger(context.Background(), "mail:send")
	require.Error(t, err)

	_, err = c.Trigger(context.Background(), jobs.TaskReservationExpiry)
	assert.Error(t, err, "expiry needs a positive ttl")
}

func TestNilJobsCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskStockIntegrity)
	assert.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	assert.Error(t, err)
}
