// Package ingest drives one feed snapshot through classification and
// storage: per §4.9, iterate entities, classify, upsert each alert within
// its own transaction, then reconcile deletions against the new snapshot.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"transitalerts/internal/alerts"
	"transitalerts/internal/store"
)

// Orchestrator wires a RouteResolver (the timetable store), an AlertStore,
// and a Clock into the per-snapshot ingest pipeline. Mirrors the teacher's
// Importer: one struct, one entry method, logging at each stage.
type Orchestrator struct {
	Resolver alerts.RouteResolver
	Alerts   *store.AlertStore
	Clock    alerts.Clock
	Logger   *slog.Logger
}

// NewOrchestrator builds an Orchestrator with the given collaborators.
func NewOrchestrator(resolver alerts.RouteResolver, alertStore *store.AlertStore, clock alerts.Clock, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{Resolver: resolver, Alerts: alertStore, Clock: clock, Logger: logger}
}

// SnapshotResult summarizes one RunSnapshot call for the caller's logs.
type SnapshotResult struct {
	Classified int
	Skipped    int
	Deleted    int64
}

// RunSnapshot classifies and upserts every raw alert in the snapshot, then
// stamps deletion_tstz on any previously-known alert absent from it.
//
// An InputMalformed alert is logged and skipped; the rest of the snapshot
// continues. A StoreTransient error aborts the snapshot immediately and is
// returned to the caller, who is expected to retry on the next cycle; the
// deletion reconciliation step is skipped in that case, since running it
// against a partially-ingested snapshot would mark alerts deleted that the
// remainder of the snapshot would have kept alive.
func (o *Orchestrator) RunSnapshot(ctx context.Context, raw []alerts.RawAlert) (SnapshotResult, error) {
	snapshotID := uuid.NewString()
	var result SnapshotResult
	presentIDs := make([]string, 0, len(raw))

	for _, r := range raw {
		n, err := alerts.Classify(ctx, r, o.Resolver)
		if err != nil {
			if errors.Is(err, alerts.ErrInputMalformed) {
				o.Logger.Warn("skipping malformed alert", "snapshot_id", snapshotID, "alert_id", r.ID, "error", err)
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("snapshot %s: classify alert %s: %w", snapshotID, r.ID, err)
		}

		if err := o.upsertOne(ctx, n); err != nil {
			return result, fmt.Errorf("snapshot %s: upsert alert %s: %w", snapshotID, n.ID, err)
		}
		presentIDs = append(presentIDs, n.ID)
		result.Classified++
	}

	deleted, err := o.Alerts.MarkDeletedExceptIDs(ctx, presentIDs, o.Clock.Now().In(alerts.Jerusalem))
	if err != nil {
		return result, fmt.Errorf("snapshot %s: reconcile deletions: %w", snapshotID, err)
	}
	result.Deleted = deleted

	o.Logger.Info("snapshot ingested",
		"snapshot_id", snapshotID,
		"classified", result.Classified,
		"skipped", result.Skipped,
		"deleted", result.Deleted,
	)
	return result, nil
}

// upsertOne runs store.UpsertAlert inside its own transaction, per the
// "one transaction per alert" rule in §4.9.
func (o *Orchestrator) upsertOne(ctx context.Context, n *alerts.NormalizedAlert) error {
	pool := o.Alerts.DB().Pool()
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", alerts.ErrStoreTransient, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := store.UpsertAlert(ctx, tx, n); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit alert %s: %v", alerts.ErrStoreTransient, n.ID, err)
	}
	return nil
}
