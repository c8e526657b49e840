// Package document answers whether a project has an active document of a
// given type. Document storage itself lives in another module; this package
// only reads.
package document

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"projectflow/pkg/circuitbreaker"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	SiteMeasurements  = "site_measurements"
	BOM               = "bom"
	TechnicalDrawings = "technical_drawings"
	InstallationGuide = "installation_guide"
)

type Oracle interface {
	Exists(ctx context.Context, projectID, documentType string) (bool, error)
}

// PostgresOracle reads the pm_documents table owned by the document module.
type PostgresOracle struct {
	db *pgxpool.Pool
}

func NewPostgresOracle(db *pgxpool.Pool) *PostgresOracle {
	return &PostgresOracle{db: db}
}

func (o *PostgresOracle) Exists(ctx context.Context, projectID, documentType string) (bool, error) {
	var exists bool
	err := o.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pm_documents
			WHERE project_id = $1 AND document_type = $2 AND is_active
		)
	`, projectID, documentType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check document %s for project %s: %w", documentType, projectID, err)
	}
	return exists, nil
}

// MemoryOracle keeps documents in process. Used by tests and memory storage.
type MemoryOracle struct {
	mu   sync.RWMutex
	docs map[string]map[string]bool
}

func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{docs: map[string]map[string]bool{}}
}

func (o *MemoryOracle) Add(projectID, documentType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.docs[projectID] == nil {
		o.docs[projectID] = map[string]bool{}
	}
	o.docs[projectID][documentType] = true
}

func (o *MemoryOracle) Remove(projectID, documentType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.docs[projectID], documentType)
}

func (o *MemoryOracle) Exists(_ context.Context, projectID, documentType string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.docs[projectID][documentType], nil
}

// GuardedOracle fails fast once the underlying oracle keeps erroring.
type GuardedOracle struct {
	next    Oracle
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewGuardedOracle(next Oracle, cfg circuitbreaker.Config, logger *zap.Logger) *GuardedOracle {
	// caller cancellation says nothing about the oracle's health
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	return &GuardedOracle{
		next:    next,
		breaker: circuitbreaker.NewCircuitBreaker(cfg),
		logger:  logger,
	}
}

func (o *GuardedOracle) Exists(ctx context.Context, projectID, documentType string) (bool, error) {
	var exists bool
	err := o.breaker.Execute(func() error {
		var err error
		exists, err = o.next.Exists(ctx, projectID, documentType)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		o.logger.Warn("Document oracle circuit open",
			zap.String("project_id", projectID),
			zap.String("document_type", documentType),
		)
	}
	return exists, err
}
