package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// ErrClaimNotHeld is returned when the caller no longer owns a claim.
var ErrClaimNotHeld = errors.New(errors.ErrCodeConflict, "task claim not held by this owner")

const claimDone = "done"

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var completeScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
		return 1
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// TaskClaimer makes sure a prediction task is processed by one worker at a
// time. A claim is a key holding the owner ID with a TTL; a crashed worker's
// claim expires and the task can be redelivered.
type TaskClaimer struct {
	client  *Client
	ttl     time.Duration
	doneTTL time.Duration
	logger  logging.Logger
}

// NewTaskClaimer creates a claimer. Completed claims are kept for doneTTL so
// redelivered messages are skipped; zero means 24h.
func NewTaskClaimer(client *Client, ttl, doneTTL time.Duration, log logging.Logger) *TaskClaimer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if doneTTL <= 0 {
		doneTTL = 24 * time.Hour
	}
	return &TaskClaimer{client: client, ttl: ttl, doneTTL: doneTTL, logger: log}
}

func (c *TaskClaimer) key(taskID string) string {
	return c.client.Key("claim", taskID)
}

// Claim records owner as the processor of taskID. It returns false when
// another owner holds the task or it already completed.
func (c *TaskClaimer) Claim(ctx context.Context, taskID, owner string) (bool, error) {
	if c.client.isClosed() {
		return false, ErrClientClosed
	}
	ok, err := c.client.rdb.SetNX(ctx, c.key(taskID), owner, c.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to claim task").WithDetail(taskID)
	}
	if !ok {
		c.logger.Debug("task already claimed", logging.String(logging.FieldTaskID, taskID))
	}
	return ok, nil
}

// Completed reports whether taskID was marked complete.
func (c *TaskClaimer) Completed(ctx context.Context, taskID string) (bool, error) {
	if c.client.isClosed() {
		return false, ErrClientClosed
	}
	v, err := c.client.rdb.Get(ctx, c.key(taskID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read task claim").WithDetail(taskID)
	}
	return v == claimDone, nil
}

// Complete turns owner's claim into a completion marker.
func (c *TaskClaimer) Complete(ctx context.Context, taskID, owner string) error {
	return c.runOwned(ctx, completeScript, taskID, owner, claimDone, c.doneTTL.Milliseconds())
}

// Release drops owner's claim so the task can be retried elsewhere.
func (c *TaskClaimer) Release(ctx context.Context, taskID, owner string) error {
	return c.runOwned(ctx, releaseScript, taskID, owner)
}

// Extend pushes the claim expiry out by ttl.
func (c *TaskClaimer) Extend(ctx context.Context, taskID, owner string, ttl time.Duration) error {
	return c.runOwned(ctx, extendScript, taskID, owner, ttl.Milliseconds())
}

func (c *TaskClaimer) runOwned(ctx context.Context, script *redis.Script, taskID, owner string, args ...interface{}) error {
	if c.client.isClosed() {
		return ErrClientClosed
	}
	argv := append([]interface{}{owner}, args...)
	n, err := script.Run(ctx, c.client.rdb, []string{c.key(taskID)}, argv...).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "task claim script failed").WithDetail(taskID)
	}
	if n == 0 {
		return ErrClaimNotHeld.WithDetail(taskID)
	}
	return nil
}
