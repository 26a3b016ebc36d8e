// Package scheduler runs the per-sector simulation loop: advance price,
// persist it, and bootstrap a discussion whenever the sector is idle.
// Each sector gets its own independent loop; a global pause flag stops
// them all together.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sectorsim/tradesim/internal/bus"
	"github.com/sectorsim/tradesim/internal/domain"
	"github.com/sectorsim/tradesim/internal/pricesim"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_scheduler_ticks_total",
		Help: "Total number of per-sector scheduler ticks processed.",
	}, []string{"sector_id"})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesim_scheduler_tick_duration_seconds",
		Help:    "Wall time of one scheduler tick, including any bootstrapped discussion.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sector_id"})

	discussionsBootstrapped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_scheduler_discussions_bootstrapped_total",
		Help: "Discussions the scheduler started because a sector was idle.",
	}, []string{"sector_id"})

	tickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_scheduler_tick_errors_total",
		Help: "Scheduler tick failures by sector and stage.",
	}, []string{"sector_id", "stage"})
)

// SectorStore is the subset of the sector collection the scheduler needs.
type SectorStore interface {
	List() ([]domain.Sector, error)
	Get(id string) (*domain.Sector, error)
	Update(id string, mutator func(*domain.Sector) error) error
}

// PriceHistoryStore records one append-only entry per tick.
type PriceHistoryStore interface {
	Append(entry domain.PriceHistoryEntry) error
	ListBySector(sectorID string, limit int) ([]domain.PriceHistoryEntry, error)
}

// DiscussionActiveChecker reports whether a sector already has a
// non-terminal discussion, the serial-execution lock.
type DiscussionActiveChecker interface {
	HasActiveDiscussion(sectorID string) (bool, error)
}

// DiscussionBootstrapper starts and drives a discussion to completion.
// discussion.Engine satisfies this.
type DiscussionBootstrapper interface {
	Bootstrap(ctx context.Context, sector *domain.Sector, title string, numRounds int) (*domain.Discussion, error)
}

// Config tunes the scheduler. Zero values are replaced with defaults in
// New, mirroring internal/config's SchedulerConfig defaults.
type Config struct {
	TickInterval        time.Duration
	RoundsPerDiscussion int
	RingCapacity        int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.RoundsPerDiscussion <= 0 {
		c.RoundsPerDiscussion = 2
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = 50
	}
	return c
}

// Scheduler runs one independent periodic loop per sector.
type Scheduler struct {
	sectors SectorStore
	prices  PriceHistoryStore
	active  DiscussionActiveChecker
	discuss DiscussionBootstrapper
	bus     *bus.Bus
	cache   *pricesim.TickCache
	cfg     Config
	log     zerolog.Logger

	paused atomic.Bool

	mu    sync.Mutex
	rings map[string]*pricesim.Ring

	tickLock singleflight.Group

	eg    *errgroup.Group
	egCtx context.Context
}

// New builds a Scheduler. b may be nil, in which case tick/discussion
// lifecycle events are simply not published.
func New(sectors SectorStore, prices PriceHistoryStore, active DiscussionActiveChecker, discuss DiscussionBootstrapper, b *bus.Bus, cfg Config) *Scheduler {
	return &Scheduler{
		sectors: sectors,
		prices:  prices,
		active:  active,
		discuss: discuss,
		bus:     b,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "scheduler").Logger(),
		rings:   make(map[string]*pricesim.Ring),
	}
}

// WithTickCache wires the optional Redis tick cache: every tick is
// written through, and a cold ring is seeded from the last cached tick
// when no persisted history exists. A nil cache is a no-op.
func (s *Scheduler) WithTickCache(c *pricesim.TickCache) *Scheduler {
	s.cache = c
	return s
}

// Pause stops every sector loop from advancing price or bootstrapping
// discussions until Resume is called. In-flight ticks run to completion.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	s.log.Info().Msg("simulation paused")
}

// Resume undoes Pause.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
	s.log.Info().Msg("simulation resumed")
}

// IsPaused reports the current pause state.
func (s *Scheduler) IsPaused() bool { return s.paused.Load() }

// Run loads every existing sector and starts one ticking goroutine per
// sector, returning once ctx is cancelled and all loops have exited.
func (s *Scheduler) Run(ctx context.Context) error {
	sectors, err := s.sectors.List()
	if err != nil {
		return err
	}

	s.eg, s.egCtx = errgroup.WithContext(ctx)
	for i := range sectors {
		id := sectors[i].ID
		s.eg.Go(func() error {
			s.runSectorLoop(s.egCtx, id)
			return nil
		})
	}
	return s.eg.Wait()
}

// Track adds id to the set of sectors ticked by a running scheduler,
// for sectors created after Run started. A no-op before Run is called.
func (s *Scheduler) Track(id string) {
	if s.eg == nil {
		return
	}
	s.eg.Go(func() error {
		s.runSectorLoop(s.egCtx, id)
		return nil
	})
}

func (s *Scheduler) runSectorLoop(ctx context.Context, sectorID string) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info().Str("sector", sectorID).Dur("interval", s.cfg.TickInterval).Msg("sector tick loop started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Str("sector", sectorID).Msg("sector tick loop stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, sectorID)
		}
	}
}

// Tick runs one tick for sectorID immediately, deduplicated against any
// concurrently running tick for the same sector (the periodic loop and an
// operator-triggered manual tick can race on the same sector otherwise).
// Errors are logged, not returned: a tick failure skips this sector for
// one cycle, it does not stop the loop.
func (s *Scheduler) Tick(ctx context.Context, sectorID string) {
	if s.IsPaused() {
		s.log.Debug().Str("sector", sectorID).Msg("simulation paused, skipping tick")
		return
	}

	_, _, _ = s.tickLock.Do(sectorID, func() (interface{}, error) {
		start := time.Now()
		err := s.tick(ctx, sectorID)
		tickDuration.WithLabelValues(sectorID).Observe(time.Since(start).Seconds())
		return nil, err
	})
}

func (s *Scheduler) tick(ctx context.Context, sectorID string) error {
	sector, err := s.sectors.Get(sectorID)
	if err != nil {
		tickErrors.WithLabelValues(sectorID, "load").Inc()
		s.log.Error().Err(err).Str("sector", sectorID).Msg("failed to load sector for tick")
		return err
	}

	tick := pricesim.Advance(sector.Price, sector.BaselinePrice, sector.Volatility, s.ringFor(sectorID, sector))

	err = s.sectors.Update(sectorID, func(sec *domain.Sector) error {
		sec.Price = tick.Price
		sec.ChangeAbs = tick.ChangeAbs
		sec.ChangePercent = tick.ChangePercent
		// sec.Volatility stays as configured: it scales the walk itself,
		// while the realized figure only feeds the risk score.
		sec.RiskScore = tick.RiskScore
		return nil
	})
	if err != nil {
		tickErrors.WithLabelValues(sectorID, "persist").Inc()
		s.log.Error().Err(err).Str("sector", sectorID).Msg("failed to persist tick")
		return err
	}

	if err := s.prices.Append(domain.PriceHistoryEntry{
		ID:        uuid.NewString(),
		SectorID:  sectorID,
		Price:     tick.Price,
		Timestamp: time.Now(),
	}); err != nil {
		tickErrors.WithLabelValues(sectorID, "history").Inc()
		s.log.Warn().Err(err).Str("sector", sectorID).Msg("failed to append price history")
	}

	ticksTotal.WithLabelValues(sectorID).Inc()
	s.cache.Set(ctx, sectorID, tick)
	s.publish(bus.Event{Type: bus.EventSectorTick, SectorID: sectorID})

	return s.maybeBootstrap(ctx, sectorID)
}

// ringFor returns the in-memory recent-price window for sectorID, seeding
// it from persisted price history the first time the sector is ticked
// (e.g. after a process restart) so realized volatility isn't computed
// from a cold, single-sample window.
func (s *Scheduler) ringFor(sectorID string, sector *domain.Sector) *pricesim.Ring {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rings[sectorID]; ok {
		return r
	}

	r := pricesim.NewRing(s.cfg.RingCapacity)
	if history, err := s.prices.ListBySector(sectorID, s.cfg.RingCapacity); err == nil {
		for _, entry := range history {
			r.Push(entry.Price)
		}
	}
	if len(r.Values()) == 0 {
		if cached, ok := s.cache.Get(context.Background(), sectorID); ok {
			r.Push(cached.Price)
		}
	}
	if len(r.Values()) == 0 {
		r.Push(sector.Price)
	}
	s.rings[sectorID] = r
	return r
}

// maybeBootstrap starts a new discussion on sectorID if none is active.
// A ContentionError here just means another caller won the race to start
// one first; that's the serial-execution lock working as intended, not a
// failure worth logging loudly.
func (s *Scheduler) maybeBootstrap(ctx context.Context, sectorID string) error {
	active, err := s.active.HasActiveDiscussion(sectorID)
	if err != nil {
		tickErrors.WithLabelValues(sectorID, "active-check").Inc()
		return err
	}
	if active {
		return nil
	}

	sector, err := s.sectors.Get(sectorID)
	if err != nil {
		return err
	}

	d, err := s.discuss.Bootstrap(ctx, sector, "scheduled sector review", s.cfg.RoundsPerDiscussion)
	if err != nil {
		// A lost serial-lock race or a failed eligibility check is normal
		// steady state, not a tick failure.
		if domain.IsCode(err, domain.ErrCodeContention) || domain.IsCode(err, domain.ErrCodeValidation) {
			return nil
		}
		tickErrors.WithLabelValues(sectorID, "bootstrap").Inc()
		s.log.Error().Err(err).Str("sector", sectorID).Msg("failed to bootstrap discussion")
		return err
	}

	discussionsBootstrapped.WithLabelValues(sectorID).Inc()
	s.publish(bus.Event{Type: bus.EventDiscussionStarted, SectorID: sectorID})

	switch d.Status {
	case domain.DiscussionDecided:
		s.publish(bus.Event{Type: bus.EventDiscussionDecided, SectorID: sectorID})
	case domain.DiscussionClosed:
		s.publish(bus.Event{Type: bus.EventDiscussionClosed, SectorID: sectorID})
	}
	return nil
}

func (s *Scheduler) publish(evt bus.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(evt)
}
