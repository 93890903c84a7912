package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

// MemStore is an in-memory ReportStore and AuditSink for tests and
// single-process runs without Postgres.
type MemStore struct {
	mu          sync.RWMutex
	reports     map[string]schemas.CycleReport
	deployments map[string]schemas.Deployment
	audits      []schemas.AuditRecord
	sequences   map[string]int64
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		reports:     make(map[string]schemas.CycleReport),
		deployments: make(map[string]schemas.Deployment),
		sequences:   make(map[string]int64),
	}
}

func (m *MemStore) SaveReport(ctx context.Context, report schemas.CycleReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.CycleID] = report
	return nil
}

func (m *MemStore) GetReport(ctx context.Context, cycleID string) (schemas.CycleReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[cycleID]
	if !ok {
		return schemas.CycleReport{}, fmt.Errorf("no report for cycle %s", cycleID)
	}
	return report, nil
}

func (m *MemStore) SaveDeployment(ctx context.Context, dep schemas.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[dep.ID] = dep
	return nil
}

func (m *MemStore) UpdateDeploymentStatus(ctx context.Context, id string, status schemas.DeploymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dep, ok := m.deployments[id]
	if !ok {
		return fmt.Errorf("no such deployment %s", id)
	}
	dep.Status = status
	m.deployments[id] = dep
	return nil
}

// Append assigns the next per-component sequence and stores the record.
func (m *MemStore) Append(ctx context.Context, record schemas.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[record.Component]++
	record.Sequence = m.sequences[record.Component]
	m.audits = append(m.audits, record)
	return nil
}

// AuditTrail returns a copy of all audit records in append order.
func (m *MemStore) AuditTrail() []schemas.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.AuditRecord, len(m.audits))
	copy(out, m.audits)
	return out
}

// Deployment returns a stored deployment by ID.
func (m *MemStore) Deployment(id string) (schemas.Deployment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dep, ok := m.deployments[id]
	return dep, ok
}
