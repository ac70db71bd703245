// Package store provides in-memory implementations of the deposit ports.
package store

import (
	"context"
	"sync"

	"github.com/warp/deposit-refunds/deposit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	decisions map[deposit.DecisionID]deposit.Decision
	order     []deposit.DecisionID // insertion order, oldest first
	active    map[deposit.DepositID]deposit.DecisionID
	audit     []deposit.AuditEntry
	seq       int64
}

func NewMemory() *Memory {
	return &Memory{
		decisions: make(map[deposit.DecisionID]deposit.Decision),
		active:    make(map[deposit.DepositID]deposit.DecisionID),
	}
}

func (m *Memory) InsertDecision(_ context.Context, d deposit.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(d)
}

func (m *Memory) GetDecision(_ context.Context, id deposit.DecisionID) (*deposit.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) UpdateDecision(_ context.Context, d deposit.Decision, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(d, expectedVersion)
}

func (m *Memory) ListDecisions(_ context.Context, filter deposit.DecisionFilter) ([]deposit.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) DecisionStats(_ context.Context) (deposit.QueueStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked(), nil
}

// AppendAudit adds an entry. Append-only.
func (m *Memory) AppendAudit(_ context.Context, entry *deposit.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(entry)
	return nil
}

func (m *Memory) LoadAudit(_ context.Context, depositID deposit.DepositID) ([]deposit.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadAuditLocked(depositID), nil
}

// =============================================================================
// LOCKED HELPERS - Callers hold mu
// =============================================================================

func (m *Memory) insertLocked(d deposit.Decision) error {
	if _, exists := m.decisions[d.ID]; exists {
		return deposit.ErrConcurrentModification
	}
	if d.IsActive() {
		if _, busy := m.active[d.DepositID]; busy {
			return deposit.ErrDuplicateActiveDecision
		}
		m.active[d.DepositID] = d.ID
	}
	m.decisions[d.ID] = *d.Clone()
	m.order = append(m.order, d.ID)
	return nil
}

func (m *Memory) getLocked(id deposit.DecisionID) (*deposit.Decision, error) {
	d, ok := m.decisions[id]
	if !ok {
		return nil, deposit.ErrDecisionNotFound
	}
	return d.Clone(), nil
}

func (m *Memory) updateLocked(d deposit.Decision, expectedVersion int64) error {
	current, ok := m.decisions[d.ID]
	if !ok {
		return deposit.ErrDecisionNotFound
	}
	if current.Version != expectedVersion {
		return deposit.ErrConcurrentModification
	}
	if current.IsActive() && !d.IsActive() {
		delete(m.active, d.DepositID)
	}
	m.decisions[d.ID] = *d.Clone()
	return nil
}

func (m *Memory) listLocked(filter deposit.DecisionFilter) []deposit.Decision {
	var matches []deposit.Decision
	for i := len(m.order) - 1; i >= 0; i-- {
		d := m.decisions[m.order[i]]
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.DepositID != nil && d.DepositID != *filter.DepositID {
			continue
		}
		if filter.AwaitingHRReview && !d.AwaitingHRReview() {
			continue
		}
		matches = append(matches, d)
	}

	if filter.Offset >= len(matches) {
		return []deposit.Decision{}
	}
	matches = matches[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matches) {
		matches = matches[:filter.Limit]
	}

	out := make([]deposit.Decision, len(matches))
	for i := range matches {
		out[i] = *matches[i].Clone()
	}
	return out
}

func (m *Memory) statsLocked() deposit.QueueStats {
	var stats deposit.QueueStats
	for _, id := range m.order {
		d := m.decisions[id]
		stats.Add(&d)
	}
	return stats
}

func (m *Memory) appendAuditLocked(entry *deposit.AuditEntry) {
	m.seq++
	entry.Seq = m.seq
	m.audit = append(m.audit, entry.Clone())
}

func (m *Memory) loadAuditLocked(depositID deposit.DepositID) []deposit.AuditEntry {
	out := []deposit.AuditEntry{}
	for _, e := range m.audit {
		if e.DepositID == depositID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(deposit.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	decisions map[deposit.DecisionID]deposit.Decision
	order     []deposit.DecisionID
	active    map[deposit.DepositID]deposit.DecisionID
	auditLen  int
	seq       int64
}

// Stored decisions are never mutated in place, so a shallow copy of the
// maps is enough. Audit is append-only, so its length is enough.
func (tm *TxMemory) snapshot() memorySnapshot {
	decisions := make(map[deposit.DecisionID]deposit.Decision, len(tm.decisions))
	for k, v := range tm.decisions {
		decisions[k] = v
	}
	active := make(map[deposit.DepositID]deposit.DecisionID, len(tm.active))
	for k, v := range tm.active {
		active[k] = v
	}
	return memorySnapshot{
		decisions: decisions,
		order:     append([]deposit.DecisionID(nil), tm.order...),
		active:    active,
		auditLen:  len(tm.audit),
		seq:       tm.seq,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.decisions = s.decisions
	tm.order = s.order
	tm.active = s.active
	tm.audit = tm.audit[:s.auditLen]
	tm.seq = s.seq
}

// txMemoryView runs against the parent with its lock already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertDecision(_ context.Context, d deposit.Decision) error {
	return tv.parent.insertLocked(d)
}

func (tv *txMemoryView) GetDecision(_ context.Context, id deposit.DecisionID) (*deposit.Decision, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) UpdateDecision(_ context.Context, d deposit.Decision, expectedVersion int64) error {
	return tv.parent.updateLocked(d, expectedVersion)
}

func (tv *txMemoryView) ListDecisions(_ context.Context, filter deposit.DecisionFilter) ([]deposit.Decision, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) DecisionStats(_ context.Context) (deposit.QueueStats, error) {
	return tv.parent.statsLocked(), nil
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry *deposit.AuditEntry) error {
	tv.parent.appendAuditLocked(entry)
	return nil
}

func (tv *txMemoryView) LoadAudit(_ context.Context, depositID deposit.DepositID) ([]deposit.AuditEntry, error) {
	return tv.parent.loadAuditLocked(depositID), nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// Deposits is a fixed DepositLookup.
type Deposits struct {
	mu   sync.RWMutex
	refs map[deposit.DepositID]deposit.DepositRef
}

func NewDeposits(refs ...deposit.DepositRef) *Deposits {
	d := &Deposits{refs: make(map[deposit.DepositID]deposit.DepositRef)}
	for _, r := range refs {
		d.Put(r)
	}
	return d
}

func (d *Deposits) Put(ref deposit.DepositRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs[ref.ID] = ref
}

func (d *Deposits) GetDeposit(_ context.Context, id deposit.DepositID) (*deposit.DepositRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref, ok := d.refs[id]
	if !ok {
		return nil, deposit.ErrDepositNotFound
	}
	return &ref, nil
}

// Actors resolves display names from a fixed map.
type Actors map[deposit.ActorID]string

func (a Actors) DisplayName(_ context.Context, id deposit.ActorID) string {
	if name, ok := a[id]; ok {
		return name
	}
	return string(id)
}
