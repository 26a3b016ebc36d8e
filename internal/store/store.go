// Package store implements the JSON-file persistence contract: one JSON
// array per collection, atomic temp-file+rename writes, and a circuit
// breaker per collection so repeated disk failures fail fast instead of
// blocking every caller on a dying filesystem.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sectorsim/tradesim/internal/domain"
)

// Collection names, one file each under the store's data directory.
const (
	CollSectors       = "sectors"
	CollAgents        = "agents"
	CollDiscussions   = "discussions"
	CollPriceHistory  = "priceHistory"
	CollRejectedItems = "rejectedItems"
)

// executionLogCollection builds the dynamic per-sector collection name
// used for executionLogs/{sectorId}.json.
func executionLogCollection(sectorID string) string {
	return "executionLogs/" + sectorID
}

const (
	minRequests     = 3
	failureRatio    = 0.6
	openTimeout     = 15 * time.Second
	halfOpenMaxReqs = 2
	countInterval   = 10 * time.Second
)

var (
	globalMetrics *breakerMetrics
	metricsOnce   sync.Once
)

type breakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func initMetrics() {
	metricsOnce.Do(func() {
		globalMetrics = &breakerMetrics{
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "store_circuit_breaker_state",
				Help: "Store circuit breaker state (0=closed, 1=open, 2=half_open)",
			}, []string{"collection"}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "store_requests_total",
				Help: "Total number of store operations through the circuit breaker",
			}, []string{"collection", "result"}),
			failures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "store_failures_total",
				Help: "Total number of store operation failures",
			}, []string{"collection"}),
		}
	})
}

// Store is the single persistence handle shared by every engine component.
type Store struct {
	dataDir string
	log     zerolog.Logger

	mu       sync.Mutex // guards locks/breakers map creation, not file I/O itself
	locks    map[string]*sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	metrics  *breakerMetrics
}

// New creates a Store rooted at dataDir, creating it if absent.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, domain.StorageError("create data directory", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "executionLogs"), 0o755); err != nil {
		return nil, domain.StorageError("create execution log directory", err)
	}
	initMetrics()
	return &Store{
		dataDir:  dataDir,
		log:      log.With().Str("component", "store").Logger(),
		locks:    make(map[string]*sync.Mutex),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		metrics:  globalMetrics,
	}, nil
}

func (s *Store) lockFor(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.Mutex{}
		s.locks[collection] = l
	}
	return l
}

func (s *Store) breakerFor(collection string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[collection]
	if ok {
		return b
	}
	coll := collection
	b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store:" + coll,
		MaxRequests: halfOpenMaxReqs,
		Interval:    countInterval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// mutator-raised domain errors are not storage faults and must
			// not open the breaker.
			_, ok := err.(mutatorError)
			return ok
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.updateMetrics(coll, to)
			s.log.Warn().Str("collection", coll).Str("from", from.String()).Str("to", to.String()).Msg("store circuit breaker state change")
		},
	})
	s.breakers[collection] = b
	return b
}

func (s *Store) updateMetrics(collection string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	s.metrics.state.WithLabelValues(collection).Set(v)
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dataDir, collection+".json")
}

func (s *Store) record(collection string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		s.metrics.failures.WithLabelValues(collection).Inc()
	}
	s.metrics.requests.WithLabelValues(collection, result).Inc()
}

// readRaw loads the raw JSON array for collection, returning an empty array
// if the file does not yet exist.
func (s *Store) readRaw(collection string) ([]byte, error) {
	data, err := os.ReadFile(s.path(collection))
	if os.IsNotExist(err) {
		return []byte("[]"), nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// writeRaw writes data atomically: temp file in the same directory, then
// rename, so a crash mid-write never leaves a torn collection file.
func (s *Store) writeRaw(collection string, data []byte) error {
	dir := filepath.Dir(s.path(collection))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path(collection))+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path(collection))
}

// ReadCollection returns every record in collection as typed values.
func ReadCollection[T any](s *Store, collection string) ([]T, error) {
	breaker := s.breakerFor(collection)
	result, err := breaker.Execute(func() (any, error) {
		raw, err := s.readRaw(collection)
		if err != nil {
			return nil, err
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	})
	s.record(collection, err)
	if err != nil {
		return nil, domain.StorageError(fmt.Sprintf("read %s", collection), err)
	}
	return result.([]T), nil
}

// AtomicUpdate reads collection, passes it to mutator, and writes the
// result back atomically. Writes to the same collection are serialized by
// a per-collection mutex; writes to different collections proceed
// concurrently.
func AtomicUpdate[T any](s *Store, collection string, mutator func([]T) ([]T, error)) error {
	lock := s.lockFor(collection)
	lock.Lock()
	defer lock.Unlock()

	breaker := s.breakerFor(collection)
	_, err := breaker.Execute(func() (any, error) {
		raw, err := s.readRaw(collection)
		if err != nil {
			return nil, err
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		next, err := mutator(items)
		if err != nil {
			// mutator errors are domain errors (validation/state), not storage
			// failures: surface them directly and skip the write.
			return nil, mutatorError{err}
		}
		out, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := s.writeRaw(collection, out); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if me, ok := err.(mutatorError); ok {
		return me.err
	}
	s.record(collection, err)
	if err != nil {
		return domain.StorageError(fmt.Sprintf("update %s", collection), err)
	}
	return nil
}

// mutatorError distinguishes a mutator-raised domain error from a genuine
// I/O failure so AtomicUpdate doesn't wrap validation errors as StorageError.
type mutatorError struct{ err error }

func (m mutatorError) Error() string { return m.err.Error() }

// Append adds entry to collection without rewriting existing entries'
// positions, trimming the oldest entries once the collection exceeds cap
// (cap <= 0 means unbounded). Used for the append-only price history file.
func Append[T any](s *Store, collection string, entry T, cap int) error {
	return AtomicUpdate(s, collection, func(items []T) ([]T, error) {
		items = append(items, entry)
		if cap > 0 && len(items) > cap {
			items = items[len(items)-cap:]
		}
		return items, nil
	})
}

// ReadExecutionLog returns the trade log for sectorID.
func ReadExecutionLog(s *Store, sectorID string) ([]domain.Trade, error) {
	return ReadCollection[domain.Trade](s, executionLogCollection(sectorID))
}

// AppendExecutionLog appends a trade to sectorID's execution log.
func AppendExecutionLog(s *Store, sectorID string, trade domain.Trade) error {
	return Append(s, executionLogCollection(sectorID), trade, 0)
}
