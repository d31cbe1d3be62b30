package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the audit ledger.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new ledger client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Vanguard instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
// Returns an error if Redis is not reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AppendEntry writes an audit entry to Redis and publishes an event.
// Validates the entry before writing. The entry is stored as a Redis hash at
// vanguard:{instance}:audit:{id}, added to the time-ordered index and the
// per-execution index, and its full JSON is published to
// vanguard:{instance}:audit_events.
//
// This method is idempotent - writing the same entry twice is safe.
func (c *Client) AppendEntry(ctx context.Context, e *Entry) error {
	// Validate entry
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid audit entry: %w", err)
	}

	// Convert to Redis hash
	hash, err := EntryToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	// Write to Redis
	key := EntryKey(c.instanceName, e.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write audit entry to Redis: %w", err)
	}

	// Add to the time-ordered index
	indexKey := EntryIndexKey(c.instanceName)
	z := redis.Z{Score: float64(e.CreatedAtMs), Member: e.ID}
	if err := c.rdb.ZAdd(ctx, indexKey, z).Err(); err != nil {
		return fmt.Errorf("failed to index audit entry: %w", err)
	}

	// Add to the per-execution index
	execKey := EntriesByExecutionKey(c.instanceName, e.ExecutionID)
	if err := c.rdb.ZAdd(ctx, execKey, z).Err(); err != nil {
		return fmt.Errorf("failed to index audit entry by execution: %w", err)
	}

	return c.publishEntry(ctx, e)
}

// UpdateEntry replaces an existing entry with new data (full HSET replacement).
// Used by the guard to write an entry's terminal result exactly once, and by
// emergency stop to annotate still-pending entries.
// Validates the entry and publishes the updated entry as an audit event.
func (c *Client) UpdateEntry(ctx context.Context, e *Entry) error {
	// Validate entry
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid audit entry: %w", err)
	}

	// Convert to Redis hash
	hash, err := EntryToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	// Write to Redis (full replacement)
	key := EntryKey(c.instanceName, e.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update audit entry in Redis: %w", err)
	}

	return c.publishEntry(ctx, e)
}

// publishEntry publishes the full entry JSON to the audit events channel.
func (c *Client) publishEntry(ctx context.Context, e *Entry) error {
	entryJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry for event: %w", err)
	}

	channel := AuditEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, entryJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	return nil
}

// GetEntry retrieves an audit entry by ID.
// Returns (nil, redis.Nil) if the entry doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	key := EntryKey(c.instanceName, entryID)

	// Read hash from Redis
	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entry from Redis: %w", err)
	}

	// Check if key exists (HGetAll returns empty map for non-existent keys)
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	// Convert to Entry
	entry, err := HashToEntry(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize audit entry: %w", err)
	}

	return entry, nil
}

// ListEntries retrieves audit entries matching the filter, oldest first.
// A nil filter returns every entry. Entries whose hashes have been deleted
// out from under the index are skipped rather than treated as errors.
func (c *Client) ListEntries(ctx context.Context, filter *Filter) ([]*Entry, error) {
	indexKey := EntryIndexKey(c.instanceName)

	// Range over the time index. Since/Until bounds are applied in Redis,
	// the remaining criteria in memory.
	min, max := "-inf", "+inf"
	if filter != nil && filter.SinceMs > 0 {
		min = fmt.Sprintf("%d", filter.SinceMs)
	}
	if filter != nil && filter.UntilMs > 0 {
		max = fmt.Sprintf("%d", filter.UntilMs)
	}

	ids, err := c.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range audit index: %w", err)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := c.GetEntry(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if filter == nil || filter.Matches(entry) {
			entries = append(entries, entry)
		}
	}

	// The index is already score-ordered, but ties on the same millisecond
	// come back in lexical member order; keep output deterministic.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtMs < entries[j].CreatedAtMs
	})

	return entries, nil
}

// ListExecutionEntries retrieves the full audit trail of a single execution,
// oldest first. Returns an empty slice if the execution has no entries.
func (c *Client) ListExecutionEntries(ctx context.Context, executionID string) ([]*Entry, error) {
	execKey := EntriesByExecutionKey(c.instanceName, executionID)

	ids, err := c.rdb.ZRange(ctx, execKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range execution audit index: %w", err)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := c.GetEntry(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Subscription represents an active Pub/Sub subscription to audit events.
// Caller must call Close() when done to clean up resources.
// Subscriptions deliver full entry objects via the Events() channel.
type Subscription struct {
	events <-chan *Entry
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of audit entry events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Entry {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeAuditEvents subscribes to audit entry events for this instance.
// Returns a Subscription that delivers full entry objects.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery).
func (c *Client) SubscribeAuditEvents(ctx context.Context) (*Subscription, error) {
	channel := AuditEventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Create buffered channels for events and errors
	eventsChan := make(chan *Entry, 10)
	errorsChan := make(chan error, 10)

	// Create cancellation context
	subCtx, cancelFunc := context.WithCancel(ctx)

	// Start goroutine to process messages
	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				// Unmarshal entry from JSON
				var entry Entry
				if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
					// Send error on error channel, skip message
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal audit event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				// Send entry on events channel
				select {
				case eventsChan <- &entry:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if GetEntry returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
