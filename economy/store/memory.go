// Package store provides economy.Store implementations.
package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/warp/coinage/economy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory economy.Store. Account writes are guarded by the
// account version exactly like the SQLite store, so concurrency tests
// exercise the same compare-and-commit semantics.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[economy.AccountID]economy.Account
	logs       map[economy.AccountID][]economy.Transaction // append order
	references map[refKey]bool
}

type refKey struct {
	Source    economy.SourceKind
	Reference string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[economy.AccountID]economy.Account),
		logs:       make(map[economy.AccountID][]economy.Transaction),
		references: make(map[refKey]bool),
	}
}

func (m *Memory) GetAccount(_ context.Context, id economy.AccountID) (*economy.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (m *Memory) ApplyTransaction(_ context.Context, updated economy.Account, expectedVersion int64, tx economy.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.Reference != "" {
		k := refKey{Source: tx.Source, Reference: tx.Reference}
		if m.references[k] {
			return economy.ErrDuplicateReference
		}
	}

	if err := m.saveLocked(updated, expectedVersion); err != nil {
		return err
	}

	m.logs[tx.AccountID] = append(m.logs[tx.AccountID], tx)
	if tx.Reference != "" {
		m.references[refKey{Source: tx.Source, Reference: tx.Reference}] = true
	}
	return nil
}

func (m *Memory) SaveAccount(_ context.Context, updated economy.Account, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(updated, expectedVersion)
}

func (m *Memory) saveLocked(updated economy.Account, expectedVersion int64) error {
	current, exists := m.accounts[updated.ID]
	if !exists {
		if expectedVersion != 0 {
			return economy.ErrConcurrentModification
		}
	} else if current.Version != expectedVersion {
		return economy.ErrConcurrentModification
	}

	updated.Version = expectedVersion + 1
	m.accounts[updated.ID] = updated
	return nil
}

// LoadTransactions pages newest-first. The cursor is the position (in
// append order) of the oldest entry already returned.
func (m *Memory) LoadTransactions(_ context.Context, id economy.AccountID, cursor string, limit int) ([]economy.Transaction, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.logs[id]
	start := len(log) // exclusive upper bound in append order
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(log) {
			return nil, "", nil
		}
		start = n
	}

	var result []economy.Transaction
	i := start - 1
	for ; i >= 0 && len(result) < limit; i-- {
		result = append(result, log[i])
	}

	next := ""
	if i >= 0 {
		next = strconv.Itoa(i + 1)
	}
	return result, next, nil
}

func (m *Memory) SumTransactions(_ context.Context, id economy.AccountID) (economy.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := economy.ZeroAmount()
	for _, tx := range m.logs[id] {
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}
