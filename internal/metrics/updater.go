package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sectorsim/tradesim/internal/domain"
)

// SectorStore and AgentStore are the read-only store facades the updater
// polls. internal/store's SectorRepo/AgentRepo satisfy these directly.
type SectorStore interface {
	List() ([]domain.Sector, error)
}

type AgentStore interface {
	List() ([]domain.Agent, error)
}

// Updater periodically refreshes the sector/agent gauges from the
// persistence store, the system of record for both collections.
type Updater struct {
	sectors  SectorStore
	agents   AgentStore
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater.
func NewUpdater(sectors SectorStore, agents AgentStore, interval time.Duration) *Updater {
	return &Updater{
		sectors:  sectors,
		agents:   agents,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop, blocking until Stop is called or
// ctx is cancelled.
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update()

	for {
		select {
		case <-ticker.C:
			u.update()
		case <-u.stopCh:
			log.Info().Msg("metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater.
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update() {
	u.updateSectorMetrics()
	u.updateAgentMetrics()
}

func (u *Updater) updateSectorMetrics() {
	sectors, err := u.sectors.List()
	if err != nil {
		log.Error().Err(err).Msg("failed to list sectors for metrics")
		return
	}
	for _, sec := range sectors {
		SetSectorTick(sec.ID, sec.Price, sec.RiskScore, sec.Balance)
	}
}

func (u *Updater) updateAgentMetrics() {
	agents, err := u.agents.List()
	if err != nil {
		log.Error().Err(err).Msg("failed to list agents for metrics")
		return
	}
	ActiveAgents.Set(float64(len(agents)))
	for _, a := range agents {
		AgentConfidence.WithLabelValues(a.ID, string(a.Role)).Set(a.Confidence)
	}
}
