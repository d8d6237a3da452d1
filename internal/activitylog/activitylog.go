// Package activitylog persists logged walking and running sessions.
package activitylog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// HTTPLogger POSTs each record as JSON to the activity endpoint.
type HTTPLogger struct {
	url    string
	client *http.Client
}

// NewHTTPLogger posts to url, e.g. https://host/api/device-motion/activity.
func NewHTTPLogger(url string) *HTTPLogger {
	return &HTTPLogger{url: url, client: &http.Client{Timeout: 15 * time.Second}}
}

func (l *HTTPLogger) LogActivity(ctx context.Context, rec motion.ActivityRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("activitylog: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("activitylog: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", rec.ID)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("activitylog: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("activitylog: post: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

// DefaultKeep bounds the Redis activity list.
const DefaultKeep = 500

// RedisLogger appends records to a capped Redis list and announces each one
// on the "<key>:events" channel.
type RedisLogger struct {
	client *redis.Client
	key    string
	keep   int64
}

func NewRedisLogger(client *redis.Client, key string) *RedisLogger {
	return &RedisLogger{client: client, key: key, keep: DefaultKeep}
}

// Channel is the pub/sub channel new records are published on.
func (l *RedisLogger) Channel() string { return l.key + ":events" }

func (l *RedisLogger) LogActivity(ctx context.Context, rec motion.ActivityRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("activitylog: marshal: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, l.key, payload)
	pipe.LTrim(ctx, l.key, -l.keep, -1)
	pipe.Publish(ctx, l.Channel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("activitylog: redis: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (l *RedisLogger) Recent(ctx context.Context, n int) ([]motion.ActivityRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := l.client.LRange(ctx, l.key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("activitylog: redis: %w", err)
	}
	out := make([]motion.ActivityRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec motion.ActivityRecord
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			return nil, fmt.Errorf("activitylog: decode entry: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Multi fans one record out to several loggers. Every logger is tried;
// the failures are joined.
type Multi []motion.ActivityLogger

func (m Multi) LogActivity(ctx context.Context, rec motion.ActivityRecord) error {
	var errs []error
	for _, l := range m {
		if err := l.LogActivity(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
