package llmpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/infrastructure/metrics"
)

// TokenRefresher renews an account's OAuth credentials. The HTTP detail of
// talking to the vendor's token endpoint is out of scope here; Pool only
// owns the schedule and the resulting state transition.
type TokenRefresher interface {
	Refresh(ctx context.Context, account Account) (accessToken string, expiresAt time.Time, err error)
}

// refreshMargin is how far ahead of expires_at the background job renews a
// token.
const refreshMargin = 10 * time.Minute

// Config configures a Pool.
type Config struct {
	Accounts     []Account
	Refresher    TokenRefresher
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	RefreshEvery time.Duration

	// Mirror, if set, publishes cooldown/disable transitions to Redis so
	// other Pool instances sharing the same account set see a quarantined
	// account immediately. Optional: a nil Mirror keeps the Pool
	// single-instance, as if Redis weren't configured for the deployment.
	Mirror *CooldownMirror
}

// Pool routes calls to Available accounts in least-recently-used order,
// quarantining accounts that hit vendor-side quota or auth failures.
type Pool struct {
	mu       sync.Mutex
	accounts map[string]*Account

	refresher    TokenRefresher
	refreshEvery time.Duration
	metrics      *metrics.Metrics
	logger       *logging.Logger
	mirror       *CooldownMirror

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool seeded with cfg.Accounts.
func New(cfg Config) (*Pool, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("llmpool: at least one account is required")
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewWithRegistry("llm-pool", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("llm-pool", "info", "json")
	}

	p := &Pool{
		accounts:     make(map[string]*Account, len(cfg.Accounts)),
		refresher:    cfg.Refresher,
		refreshEvery: cfg.RefreshEvery,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		mirror:       cfg.Mirror,
		stopCh:       make(chan struct{}),
	}
	for i := range cfg.Accounts {
		acc := cfg.Accounts[i]
		p.accounts[acc.ID] = &acc
		p.reportStatus(&acc)
	}
	return p, nil
}

// Start launches the background token-refresh job. It returns immediately;
// call Stop to shut it down.
func (p *Pool) Start(ctx context.Context) {
	if p.refresher == nil {
		return
	}
	p.wg.Add(1)
	go p.runTokenRefresh(ctx)
}

// Stop halts the background refresh job and waits for it to exit.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Acquire selects an Available account in least-recently-used order. If
// none is Available, it waits until the earliest CoolingDown account's
// timer elapses and promotes it. It fails if every account is Disabled.
func (p *Pool) Acquire(ctx context.Context) (Account, error) {
	for {
		acc, waitUntil, err := p.tryAcquire(ctx)
		if err != nil {
			return Account{}, err
		}
		if acc != nil {
			return *acc, nil
		}

		timer := time.NewTimer(time.Until(waitUntil))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Account{}, ctx.Err()
		}
	}
}

// tryAcquire returns a ready-to-use account snapshot, or (if every account
// is currently cooling down) the earliest time to retry, or an error if
// every account is disabled.
func (p *Pool) tryAcquire(ctx context.Context) (*Account, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var candidates []*Account
	allDisabled := true
	earliestCooldown := time.Time{}

	for _, acc := range p.accounts {
		if acc.Status == StatusCoolingDown && !acc.CoolingUntil.After(now) {
			acc.markAvailable()
			p.reportStatus(acc)
		}
		if acc.Status == StatusAvailable {
			if until, cooling := p.mirror.CoolingDownUntil(ctx, acc.ID); cooling && until.After(now) {
				acc.markCoolingDown(until, "cooling down on another instance")
				p.reportStatus(acc)
			}
		}
		switch acc.Status {
		case StatusAvailable:
			allDisabled = false
			candidates = append(candidates, acc)
		case StatusCoolingDown:
			allDisabled = false
			if earliestCooldown.IsZero() || acc.CoolingUntil.Before(earliestCooldown) {
				earliestCooldown = acc.CoolingUntil
			}
		}
	}

	if allDisabled {
		return nil, time.Time{}, errNoAccountsAvailable
	}
	if len(candidates) == 0 {
		return nil, earliestCooldown, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastUsedAt.Before(candidates[j].LastUsedAt)
	})
	chosen := candidates[0]
	chosen.LastUsedAt = now
	snap := chosen.snapshot()
	return &snap, time.Time{}, nil
}

// RecordResult applies a call outcome to the account that served it,
// transitioning its state per the vendor's quota/auth-failure semantics.
func (p *Pool) RecordResult(ctx context.Context, accountID string, result CallResult) {
	class := Classify(result)

	p.mu.Lock()
	acc, ok := p.accounts[accountID]
	if !ok {
		p.mu.Unlock()
		return
	}
	from := acc.Status

	var mirrorCooldownUntil time.Time
	var mirrorDisabled bool

	switch class {
	case ClassTransient:
		// handled by the call-level retry driver on the same account
	case ClassQuotaExceeded:
		mirrorCooldownUntil = time.Now().Add(quotaCooldown)
		acc.markCoolingDown(mirrorCooldownUntil, result.Body)
	case ClassPermanent:
		mirrorDisabled = true
		acc.markDisabled(result.Body)
	}
	to := acc.Status
	p.reportStatus(acc)
	p.mu.Unlock()

	switch {
	case mirrorDisabled:
		p.mirror.MarkDisabled(ctx, accountID)
	case !mirrorCooldownUntil.IsZero():
		p.mirror.MarkCoolingDown(ctx, accountID, mirrorCooldownUntil)
	}

	if from != to {
		p.logger.LogPoolAccount(ctx, accountID, from.String(), to.String(), class.String())
	}
}

// RecordSuccess clears an account's last_error and updates its
// last-used time after a successful call.
func (p *Pool) RecordSuccess(ctx context.Context, accountID string) {
	p.mu.Lock()
	_, ok := p.accounts[accountID]
	if ok {
		p.accounts[accountID].markSuccess()
	}
	p.mu.Unlock()
	if ok {
		p.mirror.MarkAvailable(ctx, accountID)
	}
}

func (p *Pool) reportStatus(acc *Account) {
	if p.metrics != nil {
		p.metrics.LLMPoolAccountStatus.WithLabelValues(acc.ID).Set(statusGaugeValue(acc.Status))
	}
}

func (p *Pool) runTokenRefresh(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.refreshDueAccounts(ctx)
		}
	}
}

func (p *Pool) refreshDueAccounts(ctx context.Context) {
	p.mu.Lock()
	due := make([]Account, 0)
	now := time.Now()
	for _, acc := range p.accounts {
		if acc.Status != StatusDisabled && !acc.ExpiresAt.IsZero() && now.Add(refreshMargin).After(acc.ExpiresAt) {
			due = append(due, acc.snapshot())
		}
	}
	p.mu.Unlock()

	for _, acc := range due {
		token, expiresAt, err := p.refresher.Refresh(ctx, acc)
		p.mu.Lock()
		if live, ok := p.accounts[acc.ID]; ok {
			if err != nil {
				live.LastError = err.Error()
			} else {
				live.AccessToken = token
				live.ExpiresAt = expiresAt
			}
		}
		p.mu.Unlock()
		if err != nil {
			p.logger.Warn(ctx, "llm pool token refresh failed", map[string]interface{}{
				"account_id": acc.ID,
				"error":      err.Error(),
			})
		}
	}
}
