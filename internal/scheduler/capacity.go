// Package scheduler allocates automation accounts to competing work units:
// running nightly batches, upcoming batch reservations, and onboardings.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/cache"
	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
)

// Allocation is one exclusively claimed account. Holders must call Release
// when the session ends; the lease TTL bounds the damage if they crash first.
type Allocation struct {
	Account    *models.Account
	LeaseToken string
}

// WaitEstimate is the "no capacity" answer: when the pool is expected to
// free up, rounded up to whole minutes and never below 1.
type WaitEstimate struct {
	NextFreeAt time.Time `json:"next_free_at"`
	Minutes    int       `json:"minutes"`
}

// Status is a read-only snapshot of the pool for the capacity endpoint.
type Status struct {
	Eligible     int           `json:"eligible"`
	Busy         int           `json:"busy"`
	Reserved     int           `json:"reserved"`
	Free         int           `json:"free"`
	WaitEstimate *WaitEstimate `json:"wait_estimate,omitempty"`
}

// Capacity decides whether a free account exists right now and claims one
// when it does. All sets are recomputed from the store on every call, so a
// reservation whose window has passed stops blocking automatically. The
// claim itself goes through a Redis lease, which closes the gap between
// observing an account as free and persisting the work that binds it.
type Capacity struct {
	store store.Store
	cache cache.Cache
	cfg   config.CapacityConfig
	log   *slog.Logger
}

func New(s store.Store, c cache.Cache, cfg config.CapacityConfig, log *slog.Logger) *Capacity {
	return &Capacity{store: s, cache: c, cfg: cfg, log: log}
}

// poolView is the live state TryAllocate and Snapshot both work from.
type poolView struct {
	eligible     []*models.Account
	busyBy       map[uuid.UUID]time.Time // account id -> estimated free-at
	reservations []*models.ScheduledBatch
}

func (c *Capacity) view(ctx context.Context, now time.Time) (*poolView, error) {
	eligible, err := c.store.ListEligibleAccounts(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := c.store.ListActiveBatches(ctx)
	if err != nil {
		return nil, err
	}
	onboardings, err := c.store.ListRunningOnboardings(ctx)
	if err != nil {
		return nil, err
	}

	v := &poolView{eligible: eligible, busyBy: make(map[uuid.UUID]time.Time)}
	for _, b := range batches {
		switch {
		case b.Status == models.BatchStatusRunning && b.AccountID != nil:
			v.busyBy[*b.AccountID] = b.ExecuteAt.Add(time.Duration(b.Size) * c.cfg.PerItemDuration)
		case b.Status == models.BatchStatusScheduled && !b.ExecuteAt.After(now.Add(c.cfg.ReservationWindow)):
			// Reservations hold a pool slot, not a named account.
			v.reservations = append(v.reservations, b)
		}
	}
	for _, ob := range onboardings {
		if ob.AccountID == nil {
			continue
		}
		remaining := ob.Remaining
		if remaining < 1 {
			remaining = 1
		}
		v.busyBy[*ob.AccountID] = now.Add(time.Duration(remaining) * c.cfg.PerItemDuration)
	}
	return v, nil
}

// free returns the eligible accounts not backing any running work unit,
// preserving the store's least-recently-used ordering.
func (v *poolView) free() []*models.Account {
	var out []*models.Account
	for _, a := range v.eligible {
		if _, busy := v.busyBy[a.ID]; !busy {
			out = append(out, a)
		}
	}
	return out
}

// TryAllocate claims the least-recently-used free account. No capacity is
// not an error: the WaitEstimate result tells the caller when to try again.
func (c *Capacity) TryAllocate(ctx context.Context, now time.Time) (*Allocation, *WaitEstimate, error) {
	v, err := c.view(ctx, now)
	if err != nil {
		return nil, nil, err
	}

	free := v.free()
	available := len(free) - len(v.reservations)
	if available <= 0 {
		return nil, c.estimateWait(v, now), nil
	}

	// The tail of the LRU list stays behind for the reserved slots.
	for _, account := range free[:available] {
		token, ok, err := c.cache.AcquireLease(ctx, account.ID, c.cfg.LeaseTTL)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			// Another allocator got here first; it will persist the
			// binding before its lease expires.
			continue
		}
		c.log.Debug("account allocated", "account_id", account.ID, "label", account.Label)
		return &Allocation{Account: account, LeaseToken: token}, nil, nil
	}

	// Every candidate is mid-claim elsewhere. Treat it like a full pool
	// that frees up almost immediately.
	return nil, &WaitEstimate{NextFreeAt: now.Add(time.Minute), Minutes: 1}, nil
}

// Release frees the lease and stamps the account's last use so the LRU
// ordering rotates the pool.
func (c *Capacity) Release(ctx context.Context, alloc *Allocation, now time.Time) error {
	if err := c.store.TouchAccountUsed(ctx, alloc.Account.ID, now); err != nil {
		return err
	}
	return c.cache.ReleaseLease(ctx, alloc.Account.ID, alloc.LeaseToken)
}

// Snapshot reports the pool state without claiming anything.
func (c *Capacity) Snapshot(ctx context.Context, now time.Time) (*Status, error) {
	v, err := c.view(ctx, now)
	if err != nil {
		return nil, err
	}
	free := v.free()
	st := &Status{
		Eligible: len(v.eligible),
		Busy:     len(v.busyBy),
		Reserved: len(v.reservations),
		Free:     len(free) - len(v.reservations),
	}
	if st.Free < 0 {
		st.Free = 0
	}
	if st.Free == 0 && st.Eligible > 0 {
		st.WaitEstimate = c.estimateWait(v, now)
	}
	return st, nil
}

// estimateWait computes, per eligible account, when it is expected to be
// free again, and returns the soonest as whole minutes (rounded up,
// floored at 1).
func (c *Capacity) estimateWait(v *poolView, now time.Time) *WaitEstimate {
	// Free-but-reserved accounts inherit the finish time of the batch
	// holding their slot, earliest batch first.
	reservations := append([]*models.ScheduledBatch(nil), v.reservations...)
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].ExecuteAt.Before(reservations[j].ExecuteAt)
	})

	earliest := time.Time{}
	consider := func(at time.Time) {
		if at.Before(now) {
			at = now
		}
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}

	reservedIdx := 0
	for _, a := range v.eligible {
		if freeAt, busy := v.busyBy[a.ID]; busy {
			consider(freeAt)
			continue
		}
		if reservedIdx < len(reservations) {
			b := reservations[reservedIdx]
			reservedIdx++
			consider(b.ExecuteAt.Add(time.Duration(b.Size) * c.cfg.PerItemDuration))
			continue
		}
		consider(now.Add(c.cfg.DefaultWait))
	}
	if earliest.IsZero() {
		// Empty pool: nothing will ever free up on its own.
		earliest = now.Add(c.cfg.DefaultWait)
	}

	minutes := int(math.Ceil(earliest.Sub(now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return &WaitEstimate{NextFreeAt: earliest, Minutes: minutes}
}
