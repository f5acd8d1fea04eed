package llmpool

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownMirror publishes an account's cooldown/disable transitions to
// Redis, so every Pool instance sharing the same account set (one per
// loomd replica) sees a quarantined account immediately instead of
// discovering the same quota/auth failure itself on its own next call.
type CooldownMirror struct {
	client *redis.Client
	prefix string
}

// NewCooldownMirror wraps client. A nil client is valid and makes every
// method a no-op, so a Pool can hold a CooldownMirror unconditionally and
// only skip cross-instance visibility when Redis isn't configured.
func NewCooldownMirror(client *redis.Client) *CooldownMirror {
	return &CooldownMirror{client: client, prefix: "llmpool:cooldown:"}
}

// MarkCoolingDown records that accountID is cooling down until until,
// visible to every Pool sharing this Redis instance.
func (m *CooldownMirror) MarkCoolingDown(ctx context.Context, accountID string, until time.Time) {
	if m == nil || m.client == nil {
		return
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}
	_ = m.client.Set(ctx, m.prefix+accountID, until.Format(time.RFC3339Nano), ttl).Err()
}

// disabledMirrorTTL is the TTL used to mirror a permanent disablement.
// CooldownMirror has no separate disabled-key namespace; a disablement is
// published as an ordinary cooldown entry far enough in the future that it
// outlives any realistic process lifetime, and MarkAvailable clears it the
// same way a cooldown is cleared.
const disabledMirrorTTL = 24 * 365 * time.Hour

// MarkDisabled records that accountID is permanently disabled, visible to
// every Pool sharing this Redis instance until explicitly cleared.
func (m *CooldownMirror) MarkDisabled(ctx context.Context, accountID string) {
	if m == nil || m.client == nil {
		return
	}
	_ = m.client.Set(ctx, m.prefix+accountID, "disabled", disabledMirrorTTL).Err()
}

// MarkAvailable clears accountID's cross-instance cooldown marker.
func (m *CooldownMirror) MarkAvailable(ctx context.Context, accountID string) {
	if m == nil || m.client == nil {
		return
	}
	_ = m.client.Del(ctx, m.prefix+accountID).Err()
}

// CoolingDownUntil reports whether another Pool instance has marked
// accountID as cooling down (or disabled, which mirrors as a cooldown far in
// the future), and until when.
func (m *CooldownMirror) CoolingDownUntil(ctx context.Context, accountID string) (time.Time, bool) {
	if m == nil || m.client == nil {
		return time.Time{}, false
	}
	raw, err := m.client.Get(ctx, m.prefix+accountID).Result()
	if err != nil {
		return time.Time{}, false
	}
	if raw == "disabled" {
		return time.Now().Add(disabledMirrorTTL), true
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return until, true
}
