package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorsim/tradesim/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	return s
}

func TestReadCollectionEmptyWhenFileMissing(t *testing.T) {
	s := newTestStore(t)
	sectors, err := ReadCollection[domain.Sector](s, CollSectors)
	require.NoError(t, err)
	assert.Empty(t, sectors)
}

func TestAtomicUpdateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	err := AtomicUpdate(s, CollSectors, func(items []domain.Sector) ([]domain.Sector, error) {
		return append(items, domain.Sector{ID: "s1", Name: "Sector One"}), nil
	})
	require.NoError(t, err)

	sectors, err := ReadCollection[domain.Sector](s, CollSectors)
	require.NoError(t, err)
	require.Len(t, sectors, 1)
	assert.Equal(t, "s1", sectors[0].ID)
}

func TestAtomicUpdatePropagatesMutatorError(t *testing.T) {
	s := newTestStore(t)
	sentinel := domain.ValidationError("id", "missing")
	err := AtomicUpdate(s, CollSectors, func(items []domain.Sector) ([]domain.Sector, error) {
		return nil, sentinel
	})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeValidation))

	sectors, readErr := ReadCollection[domain.Sector](s, CollSectors)
	require.NoError(t, readErr)
	assert.Empty(t, sectors, "a rejected mutation must not be written")
}

func TestAtomicUpdateSerializesSameCollection(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = AtomicUpdate(s, CollAgents, func(items []domain.Agent) ([]domain.Agent, error) {
				return append(items, domain.Agent{ID: string(rune('a' + n%26))}), nil
			})
		}(i)
	}
	wg.Wait()

	agents, err := ReadCollection[domain.Agent](s, CollAgents)
	require.NoError(t, err)
	assert.Len(t, agents, 20)
}

func TestAppendTrimsToCap(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		err := Append(s, CollPriceHistory, domain.PriceHistoryEntry{ID: string(rune('a' + i))}, 3)
		require.NoError(t, err)
	}
	entries, err := ReadCollection[domain.PriceHistoryEntry](s, CollPriceHistory)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, "e", entries[2].ID)
}

func TestExecutionLogPerSector(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, AppendExecutionLog(s, "sector-1", domain.Trade{ID: "t1", SectorID: "sector-1"}))
	require.NoError(t, AppendExecutionLog(s, "sector-2", domain.Trade{ID: "t2", SectorID: "sector-2"}))

	log1, err := ReadExecutionLog(s, "sector-1")
	require.NoError(t, err)
	require.Len(t, log1, 1)
	assert.Equal(t, "t1", log1[0].ID)

	log2, err := ReadExecutionLog(s, "sector-2")
	require.NoError(t, err)
	require.Len(t, log2, 1)
	assert.Equal(t, "t2", log2[0].ID)
}
