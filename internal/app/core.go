package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keppel-erp/keppel/internal/audit"
	"github.com/keppel-erp/keppel/internal/costing"
	"github.com/keppel-erp/keppel/internal/ledger"
	"github.com/keppel-erp/keppel/internal/matching"
	"github.com/keppel-erp/keppel/internal/procurement"
	"github.com/keppel-erp/keppel/internal/sequence"
)

// Core bundles the services the surrounding system embeds in-process. It has
// no wire protocol of its own; request handlers call these directly.
type Core struct {
	Allocator   *sequence.Allocator
	Poster      *ledger.Poster
	Costing     *costing.Service
	Procurement *procurement.Service
	Matcher     *matching.Matcher
	Linker      *matching.Linker
}

// NewCore wires every service against one connection pool.
func NewCore(pool *pgxpool.Pool, cfg *Config, logger *slog.Logger) *Core {
	auditLogger := audit.NewLogger(pool)

	allocator := sequence.NewAllocator(sequence.NewRepository(pool))

	costingService := costing.NewService(costing.NewRepository(pool), auditLogger, costing.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})

	poster := ledger.NewPoster(
		ledger.NewRepository(pool),
		ledger.NewDocumentRepository(pool),
		ledger.NewMappingRepository(pool),
		ledger.NewPeriodRepository(pool),
		auditLogger,
		logger,
	)

	procurementService := procurement.NewService(procurement.NewRepository(pool), auditLogger)

	matchingRepo := matching.NewRepository(pool)

	return &Core{
		Allocator:   allocator,
		Poster:      poster,
		Costing:     costingService,
		Procurement: procurementService,
		Matcher:     matching.NewMatcher(matchingRepo, cfg.MatchTolerancePct),
		Linker:      matching.NewLinker(matchingRepo, auditLogger),
	}
}
