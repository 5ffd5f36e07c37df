// Package cacheshard implements the cache shard pool: a single
// KV+list interface fanned out across M remote cache shards, with
// per-shard daily command quotas and an in-process fallback map.
package cacheshard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/errs"
)

// Shard is the KV+list contract every cache backend must satisfy. A
// single backend is implemented, httpShard below; a second backend
// could satisfy this same interface without touching the Pool or the
// tiered cache facade above it.
type Shard interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int) error
	Info(ctx context.Context) (string, error)
	DBSize(ctx context.Context) (int64, error)
	FlushDB(ctx context.Context) error
	Ping(ctx context.Context) error
}

// httpShard is a small JSON-over-HTTP client for one remote cache
// shard, speaking a generic op-dispatch protocol over stdlib
// net/http.
type httpShard struct {
	id       int
	endpoint string
	token    string
	client   *http.Client
}

func newHTTPShard(id int, endpoint, token string) *httpShard {
	return &httpShard{
		id:       id,
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type shardRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
	TTL  int64    `json:"ttlSeconds,omitempty"`
}

type shardResponse struct {
	Value  string            `json:"value,omitempty"`
	Found  bool              `json:"found,omitempty"`
	Count  int64             `json:"count,omitempty"`
	List   []string          `json:"list,omitempty"`
	Map    map[string]string `json:"map,omitempty"`
	Error  string            `json:"error,omitempty"`
	Status string            `json:"status,omitempty"`
}

func (s *httpShard) call(ctx context.Context, req shardRequest) (*shardResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode shard request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build shard request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCacheShardDown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &quotaExceededError{id: s.id}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: shard %d status %d", errs.ErrCacheShardDown, s.id, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read shard response: %w", err)
	}
	var out shardResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode shard response: %w", err)
		}
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", errs.ErrCacheShardDown, out.Error)
	}
	return &out, nil
}

func (s *httpShard) Get(ctx context.Context, key string) (string, bool, error) {
	r, err := s.call(ctx, shardRequest{Op: "get", Args: []string{key}})
	if err != nil {
		return "", false, err
	}
	return r.Value, r.Found, nil
}

func (s *httpShard) Set(ctx context.Context, key, value string) error {
	_, err := s.call(ctx, shardRequest{Op: "set", Args: []string{key, value}})
	return err
}

func (s *httpShard) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.call(ctx, shardRequest{Op: "setex", Args: []string{key, value}, TTL: int64(ttl.Seconds())})
	return err
}

func (s *httpShard) Del(ctx context.Context, keys ...string) (int64, error) {
	r, err := s.call(ctx, shardRequest{Op: "del", Args: keys})
	if err != nil {
		return 0, err
	}
	return r.Count, nil
}

func (s *httpShard) Exists(ctx context.Context, key string) (bool, error) {
	r, err := s.call(ctx, shardRequest{Op: "exists", Args: []string{key}})
	if err != nil {
		return false, err
	}
	return r.Found, nil
}

func (s *httpShard) TTL(ctx context.Context, key string) (time.Duration, error) {
	r, err := s.call(ctx, shardRequest{Op: "ttl", Args: []string{key}})
	if err != nil {
		return 0, err
	}
	return time.Duration(r.Count) * time.Second, nil
}

func (s *httpShard) Incr(ctx context.Context, key string) (int64, error) {
	r, err := s.call(ctx, shardRequest{Op: "incr", Args: []string{key}})
	if err != nil {
		return 0, err
	}
	return r.Count, nil
}

func (s *httpShard) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.call(ctx, shardRequest{Op: "expire", Args: []string{key}, TTL: int64(ttl.Seconds())})
	return err
}

func (s *httpShard) Keys(ctx context.Context, pattern string) ([]string, error) {
	r, err := s.call(ctx, shardRequest{Op: "keys", Args: []string{pattern}})
	if err != nil {
		return nil, err
	}
	return r.List, nil
}

func (s *httpShard) HGet(ctx context.Context, key, field string) (string, bool, error) {
	r, err := s.call(ctx, shardRequest{Op: "hget", Args: []string{key, field}})
	if err != nil {
		return "", false, err
	}
	return r.Value, r.Found, nil
}

func (s *httpShard) HSet(ctx context.Context, key, field, value string) error {
	_, err := s.call(ctx, shardRequest{Op: "hset", Args: []string{key, field, value}})
	return err
}

func (s *httpShard) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	r, err := s.call(ctx, shardRequest{Op: "hgetall", Args: []string{key}})
	if err != nil {
		return nil, err
	}
	return r.Map, nil
}

func (s *httpShard) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	r, err := s.call(ctx, shardRequest{Op: "lpush", Args: append([]string{key}, values...)})
	if err != nil {
		return 0, err
	}
	return r.Count, nil
}

func (s *httpShard) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	r, err := s.call(ctx, shardRequest{Op: "rpush", Args: append([]string{key}, values...)})
	if err != nil {
		return 0, err
	}
	return r.Count, nil
}

func (s *httpShard) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	r, err := s.call(ctx, shardRequest{Op: "lrange", Args: []string{key, itoa(start), itoa(stop)}})
	if err != nil {
		return nil, err
	}
	return r.List, nil
}

func (s *httpShard) LLen(ctx context.Context, key string) (int64, error) {
	r, err := s.call(ctx, shardRequest{Op: "llen", Args: []string{key}})
	if err != nil {
		return 0, err
	}
	return r.Count, nil
}

func (s *httpShard) LTrim(ctx context.Context, key string, start, stop int) error {
	_, err := s.call(ctx, shardRequest{Op: "ltrim", Args: []string{key, itoa(start), itoa(stop)}})
	return err
}

func (s *httpShard) Info(ctx context.Context) (string, error) {
	r, err := s.call(ctx, shardRequest{Op: "info"})
	if err != nil {
		return "", err
	}
	return r.Value, nil
}

func (s *httpShard) DBSize(ctx context.Context) (int64, error) {
	r, err := s.call(ctx, shardRequest{Op: "dbsize"})
	if err != nil {
		return 0, err
	}
	return r.Count, nil
}

func (s *httpShard) FlushDB(ctx context.Context) error {
	_, err := s.call(ctx, shardRequest{Op: "flushdb"})
	return err
}

func (s *httpShard) Ping(ctx context.Context) error {
	_, err := s.call(ctx, shardRequest{Op: "ping"})
	return err
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

// quotaExceededError signals a shard's daily command quota has been hit,
// distinct from a generic transport failure: the pool marks the shard
// dead for the UTC day rather than merely unhealthy.
type quotaExceededError struct {
	id int
}

func (e *quotaExceededError) Error() string {
	return fmt.Sprintf("shard %d limit exceeded", e.id)
}

func (e *quotaExceededError) Unwrap() error {
	return errs.ErrCacheShardDown
}
