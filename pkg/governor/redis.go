package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWindowScript maintains fixed-window counters for all four spans in a
// single atomic round trip.
// KEYS[1..4] = window keys (second, minute, hour, day)
// ARGV[1..4] = ceilings (0 disables the window)
// ARGV[5..8] = window TTLs in seconds
// Returns {allowed, retry_after_seconds, first_exhaustion}.
var redisWindowScript = redis.NewScript(`
local allowed = 1
local retry = 0
local first = 0
local violated = {}

for i = 1, 4 do
    local ceiling = tonumber(ARGV[i])
    if ceiling > 0 then
        local count = tonumber(redis.call("GET", KEYS[i]) or "0")
        if count >= ceiling then
            allowed = 0
            local ttl = redis.call("TTL", KEYS[i])
            if ttl < 0 then ttl = tonumber(ARGV[i + 4]) end
            if retry == 0 or ttl < retry then retry = ttl end
            table.insert(violated, i)
        end
    end
end

if allowed == 1 then
    for i = 1, 4 do
        if tonumber(ARGV[i]) > 0 then
            local count = redis.call("INCR", KEYS[i])
            if count == 1 then
                redis.call("EXPIRE", KEYS[i], tonumber(ARGV[i + 4]))
            end
        end
    end
else
    for _, i in ipairs(violated) do
        local marker = KEYS[i] .. ":exhausted"
        if redis.call("SET", marker, "1", "NX", "EX", tonumber(ARGV[i + 4])) then
            first = 1
        end
    end
end

return {allowed, retry, first}
`)

// RedisWindowStore implements SharedWindowStore over Redis, so the per-window
// ceilings hold across every node admitting calls for the same integration.
type RedisWindowStore struct {
	client *redis.Client
}

// NewRedisWindowStore creates a store backed by the given Redis address.
func NewRedisWindowStore(addr, password string, db int) *RedisWindowStore {
	return &RedisWindowStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
	}
}

var windowSpans = []struct {
	suffix string
	ttl    int
}{
	{"1s", 1},
	{"1m", 60},
	{"1h", 3600},
	{"1d", 86400},
}

func (s *RedisWindowStore) Admit(ctx context.Context, integration string, cfg WindowConfig) (bool, time.Duration, bool, error) {
	keys := make([]string, 0, len(windowSpans))
	for _, w := range windowSpans {
		keys = append(keys, fmt.Sprintf("governor:%s:%s", integration, w.suffix))
	}
	args := []any{
		cfg.PerSecond, cfg.PerMinute, cfg.PerHour, cfg.PerDay,
		windowSpans[0].ttl, windowSpans[1].ttl, windowSpans[2].ttl, windowSpans[3].ttl,
	}

	res, err := redisWindowScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return false, 0, false, fmt.Errorf("redis window admit: %w", err)
	}
	return parseWindowReply(res)
}

// parseWindowReply decodes the script's {allowed, retry, first} triple.
// Replies that are not plain integers (e.g. from a proxy rewriting script
// results) return an error, which the caller turns into a fail-safe
// throttle.
func parseWindowReply(res any) (bool, time.Duration, bool, error) {
	values, ok := res.([]any)
	if !ok || len(values) != 3 {
		return false, 0, false, fmt.Errorf("redis window admit: unexpected reply %v", res)
	}
	var nums [3]int64
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return false, 0, false, fmt.Errorf("redis window admit: unexpected reply element %d (%T)", i, v)
		}
		nums[i] = n
	}
	return nums[0] == 1, time.Duration(nums[1]) * time.Second, nums[2] == 1, nil
}

// Close releases the underlying client.
func (s *RedisWindowStore) Close() error {
	return s.client.Close()
}

var _ SharedWindowStore = (*RedisWindowStore)(nil)
