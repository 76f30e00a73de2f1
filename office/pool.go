package office

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ShoshinNikita/thumbnailer/pkg/metrics"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
)

// Options enable optional eviction policies. The zero value disables all of them:
// handles live until [HandlePool.Shutdown].
type Options struct {
	// CheckHealth pings an idle handle before handing it out, if the handle implements
	// [Pinger]. Unhealthy handles are closed and removed from the pool.
	CheckHealth bool
	// MaxIdleTime is the time after which an idle handle is closed and removed.
	MaxIdleTime time.Duration
	// LeaseTimeout is the time after which a busy handle is removed from the pool.
	// The handle is closed when its holder finally releases it.
	LeaseTimeout time.Duration
	// CleanupInterval defines how often MaxIdleTime and LeaseTimeout are checked.
	// Default is 1 minute.
	CleanupInterval time.Duration
}

// PooledHandle is a [Handle] registered in a [HandlePool]. All its state is guarded
// by the pool mutex.
type PooledHandle struct {
	handle Handle
	target Target

	inUse     bool
	lastUsed  time.Time // time of the last acquire
	idleSince time.Time // time of the last release
	// lease is the id of the last lease. Releases with other ids are ignored.
	lease uint64
	// detached handles are no longer in the registry and must be closed once idle.
	detached bool
}

func (h *PooledHandle) acquire(lease uint64, now time.Time) {
	if h.inUse {
		panic("office: acquire of a busy handle")
	}
	h.inUse = true
	h.lease = lease
	h.lastUsed = now
}

// release marks the handle idle. It returns false if the handle is already idle or
// was acquired by another lease.
func (h *PooledHandle) release(lease uint64, now time.Time) bool {
	if !h.inUse || h.lease != lease {
		return false
	}
	h.inUse = false
	h.idleSince = now
	return true
}

// Lease grants exclusive use of a [PooledHandle] until [Lease.Release] is called.
type Lease struct {
	pool   *HandlePool
	handle *PooledHandle
	id     uint64
}

func (l *Lease) Target() Target {
	return l.handle.target
}

// ConvertToPDF calls the underlying handle. It doesn't hold the pool lock during
// the conversion. It returns [ErrLeaseReleased] after the lease is released.
func (l *Lease) ConvertToPDF(ctx context.Context, path string) ([]byte, error) {
	if !l.isActive() {
		return nil, ErrLeaseReleased
	}

	now := time.Now()
	pdf, err := l.handle.handle.ConvertToPDF(ctx, path)
	if err != nil {
		metrics.OfficeConversionErrors.Inc()
		return nil, err
	}
	metrics.OfficeConversionDuration.Observe(time.Since(now).Seconds())
	return pdf, nil
}

func (l *Lease) isActive() bool {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()

	return l.handle.inUse && l.handle.lease == l.id
}

// Release returns the handle to the pool. It is safe to call it multiple times.
func (l *Lease) Release() {
	l.pool.Release(l)
}

// HandlePool hands out office sessions to concurrent callers. A handle is never held by
// two callers at the same time. New handles are opened when there are no idle ones,
// there is no capacity limit.
type HandlePool struct {
	opener Opener
	opts   Options
	now    func() time.Time

	mu        sync.Mutex
	handles   map[Target][]*PooledHandle
	lastLease uint64
	closed    bool

	stopCh      chan struct{}
	janitorDone chan struct{}
}

func NewHandlePool(opener Opener, opts Options) *HandlePool {
	return newHandlePool(opener, opts, time.Now)
}

func newHandlePool(opener Opener, opts Options, now func() time.Time) *HandlePool {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}

	p := &HandlePool{
		opener:  opener,
		opts:    opts,
		now:     now,
		handles: make(map[Target][]*PooledHandle),
		//
		stopCh:      make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	if opts.MaxIdleTime > 0 || opts.LeaseTimeout > 0 {
		go p.startJanitor()
	} else {
		close(p.janitorDone)
	}

	return p
}

// Acquire returns a lease for an idle handle bound to the target. If there are no idle
// handles, a new one is opened. The caller must release the lease on every exit path,
// see [HandlePool.Do].
func (p *HandlePool) Acquire(ctx context.Context, target Target) (*Lease, error) {
	for {
		lease, err := p.acquireIdle(target)
		if err != nil {
			return nil, err
		}
		if lease == nil {
			break
		}
		if p.opts.CheckHealth && !p.isHealthy(ctx, lease) {
			p.evict(lease, "unhealthy")
			continue
		}
		return lease, nil
	}

	return p.acquireNew(ctx, target)
}

// acquireIdle leases a random idle handle. It returns nil if there are no idle handles.
func (p *HandlePool) acquireIdle(target Target) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	handles, ok := p.handles[target]
	if !ok {
		p.handles[target] = nil
	}

	idle := lo.Filter(handles, func(h *PooledHandle, _ int) bool {
		return !h.inUse
	})
	if len(idle) == 0 {
		return nil, nil
	}
	return p.lease(lo.Sample(idle)), nil
}

// acquireNew opens a new handle without holding the lock. The handle becomes visible to
// other callers only after it is registered as busy.
func (p *HandlePool) acquireNew(ctx context.Context, target Target) (*Lease, error) {
	now := time.Now()
	handle, err := p.opener.Open(ctx, target)
	metrics.OfficeHandleOpenDuration.Observe(time.Since(now).Seconds())
	if err != nil {
		metrics.OfficeHandleOpenErrors.WithLabelValues(target.String()).Inc()

		if !errors.Is(err, ErrConnection) {
			err = fmt.Errorf("%w: %w", ErrConnection, err)
		}
		return nil, fmt.Errorf("couldn't open session to %s: %w", target, err)
	}

	h := &PooledHandle{
		handle: handle,
		target: target,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		p.closeHandle(h)
		return nil, ErrPoolClosed
	}
	p.handles[target] = append(p.handles[target], h)
	total := len(p.handles[target])
	lease := p.lease(h)
	p.mu.Unlock()

	metrics.OfficeHandlesCreated.WithLabelValues(target.String()).Inc()
	rlog.Debugf("new office session for %s, total sessions: %d", target, total)

	return lease, nil
}

// lease must be called with the held lock.
func (p *HandlePool) lease(h *PooledHandle) *Lease {
	p.lastLease++
	h.acquire(p.lastLease, p.now())

	metrics.OfficeHandlesInUse.WithLabelValues(h.target.String()).Inc()

	return &Lease{
		pool:   p,
		handle: h,
		id:     p.lastLease,
	}
}

// Release marks the leased handle idle. Outdated and repeated releases are no-ops.
func (p *HandlePool) Release(l *Lease) {
	if l == nil {
		return
	}
	if l.pool != p {
		panic("office: release of a lease that belongs to another pool")
	}

	p.mu.Lock()
	released := l.handle.release(l.id, p.now())
	shouldClose := released && l.handle.detached
	p.mu.Unlock()

	if !released {
		return
	}
	metrics.OfficeHandlesInUse.WithLabelValues(l.handle.target.String()).Dec()

	if shouldClose {
		p.closeHandle(l.handle)
	}
}

// Do acquires a handle for the target, passes it to fn and releases it on every exit path.
func (p *HandlePool) Do(ctx context.Context, target Target, fn func(*Lease) error) error {
	lease, err := p.Acquire(ctx, target)
	if err != nil {
		return err
	}
	defer lease.Release()

	return fn(lease)
}

func (p *HandlePool) isHealthy(ctx context.Context, l *Lease) bool {
	pinger, ok := l.handle.handle.(Pinger)
	if !ok {
		return true
	}
	if err := pinger.Ping(ctx); err != nil {
		rlog.Warnf("office session for %s is unhealthy: %s", l.handle.target, err)
		return false
	}
	return true
}

// evict removes the leased handle from the pool and closes it.
func (p *HandlePool) evict(l *Lease, reason string) {
	p.mu.Lock()
	l.handle.release(l.id, p.now())
	p.detach(l.handle)
	p.mu.Unlock()

	metrics.OfficeHandlesInUse.WithLabelValues(l.handle.target.String()).Dec()
	metrics.OfficeHandlesEvicted.WithLabelValues(reason).Inc()

	p.closeHandle(l.handle)
}

// detach must be called with the held lock.
func (p *HandlePool) detach(h *PooledHandle) {
	h.detached = true
	p.handles[h.target] = slices.DeleteFunc(p.handles[h.target], func(v *PooledHandle) bool {
		return v == h
	})
}

func (p *HandlePool) closeHandle(h *PooledHandle) {
	if err := h.handle.Close(); err != nil {
		rlog.Errorf("couldn't close office session for %s: %s", h.target, err)
	}
}

func (p *HandlePool) startJanitor() {
	defer close(p.janitorDone)

	ticker := time.NewTicker(p.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.cleanup(p.now())
		case <-p.stopCh:
			return
		}
	}
}

func (p *HandlePool) cleanup(now time.Time) {
	var toClose []*PooledHandle

	p.mu.Lock()
	for _, handles := range p.handles {
		// Clone because detach modifies the slice.
		for _, h := range slices.Clone(handles) {
			switch {
			case !h.inUse && p.opts.MaxIdleTime > 0 && now.Sub(h.idleSince) > p.opts.MaxIdleTime:
				p.detach(h)
				toClose = append(toClose, h)

				metrics.OfficeHandlesEvicted.WithLabelValues("idle").Inc()

			case h.inUse && p.opts.LeaseTimeout > 0 && now.Sub(h.lastUsed) > p.opts.LeaseTimeout:
				p.detach(h)

				metrics.OfficeHandlesEvicted.WithLabelValues("lease_timeout").Inc()
				rlog.Warnf("office session for %s is busy for more than %s, remove it from the pool", h.target, p.opts.LeaseTimeout)
			}
		}
	}
	p.mu.Unlock()

	for _, h := range toClose {
		p.closeHandle(h)
	}
	if len(toClose) > 0 {
		rlog.Debugf("%d idle office sessions have been closed", len(toClose))
	}
}

type TargetStats struct {
	Target string `json:"target"`
	Total  int    `json:"total"`
	InUse  int    `json:"in_use"`
}

// Stats returns the number of handles per target, sorted by target.
func (p *HandlePool) Stats() []TargetStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := make([]TargetStats, 0, len(p.handles))
	for target, handles := range p.handles {
		res = append(res, TargetStats{
			Target: target.String(),
			Total:  len(handles),
			InUse: lo.CountBy(handles, func(h *PooledHandle) bool {
				return h.inUse
			}),
		})
	}
	slices.SortFunc(res, func(a, b TargetStats) int {
		return cmp.Compare(a.Target, b.Target)
	})
	return res
}

// Shutdown closes all idle handles. Busy handles are closed when they are released.
// Acquire returns [ErrPoolClosed] after Shutdown.
func (p *HandlePool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var toClose []*PooledHandle
	for target, handles := range p.handles {
		for _, h := range handles {
			h.detached = true
			if !h.inUse {
				toClose = append(toClose, h)
			}
		}
		delete(p.handles, target)
	}
	p.mu.Unlock()

	close(p.stopCh)

	for _, h := range toClose {
		p.closeHandle(h)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.janitorDone:
		return nil
	}
}
