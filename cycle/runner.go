// Package cycle ties one synchronization cycle together: import,
// export-confirmation reconciliation, evaluation hand-off and export, all
// over a single scoped directory connection.
package cycle

import (
	"context"
	"fmt"
	"log"

	"identra/metadir/config"
	"identra/metadir/directory"
	"identra/metadir/exporter"
	"identra/metadir/importer"
	"identra/metadir/metaverse"
	"identra/metadir/reconcile"

	"github.com/google/uuid"
)

// Evaluator is the external matching/attribute-flow hook: given this
// cycle's import records, it computes newly owed exports.
type Evaluator func(records []importer.Record) ([]*metaverse.PendingExport, error)

// Resolver maps an import record to the central-store object it joined
// to, when one exists.
type Resolver func(record importer.Record) (uuid.UUID, bool)

// Runner executes cycles for one connected system. Cycles run serially;
// the Runner owns no directory connection between them.
type Runner struct {
	Settings          config.Settings
	Store             metaverse.Store
	System            *metaverse.ConnectedSystem
	Resolve           Resolver
	Evaluate          Evaluator
	MaxExportAttempts int
}

// Summary is one cycle's operator-facing outcome.
type Summary struct {
	Records       []importer.Record
	ExportResults []exporter.Result
}

// Run executes one full or delta cycle. The directory connection is
// opened at the start and released on every exit path, faults included.
func (r *Runner) Run(ctx context.Context, full bool) (*Summary, error) {
	conn, err := directory.Connect(r.Settings)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	eng := importer.New(conn, r.Store, r.System)

	var imported *importer.Result
	if full {
		imported, err = eng.FullImport(ctx)
	} else {
		imported, err = eng.DeltaImport(ctx)
	}

	summary := &Summary{}
	if imported != nil {
		summary.Records = imported.Records
	}
	if err != nil {
		return summary, err
	}

	// The snapshot becomes the next cycle's baseline only once this
	// cycle's import ran to completion.
	if imported.Watermark != nil {
		data, encErr := imported.Watermark.Encode()
		if encErr != nil {
			return summary, encErr
		}
		if saveErr := r.Store.SaveConnectorData(ctx, r.System.ID, data); saveErr != nil {
			return summary, fmt.Errorf("persist watermark: %w", saveErr)
		}
	}

	if err := r.confirmExports(ctx, summary.Records); err != nil {
		return summary, err
	}

	if r.Evaluate == nil {
		return summary, nil
	}

	batch, err := r.collectExportBatch(ctx, summary.Records)
	if err != nil {
		return summary, err
	}
	if len(batch) == 0 {
		return summary, nil
	}

	exp := exporter.New(conn, r.Settings)
	summary.ExportResults = exp.ExportBatch(ctx, batch)

	if err := r.persistBatch(ctx, batch); err != nil {
		return summary, err
	}
	return summary, nil
}

// persistBatch records each batch item's outcome. A delete that reached
// the directory is finished: the object will never be imported again, so
// confirmation has nothing to observe and the export is removed instead
// of saved.
func (r *Runner) persistBatch(ctx context.Context, batch []*metaverse.PendingExport) error {
	for _, pending := range batch {
		if pending.ChangeType == metaverse.ExportDelete && pending.Status == metaverse.ExportExported {
			if err := r.Store.DeletePendingExport(ctx, pending.ID); err != nil {
				return fmt.Errorf("delete completed export %s: %w", pending.ID, err)
			}
			continue
		}
		if err := r.Store.SavePendingExport(ctx, r.System.ID, pending); err != nil {
			return fmt.Errorf("persist pending export %s: %w", pending.ID, err)
		}
	}
	return nil
}

// confirmExports runs export-confirmation reconciliation over every
// freshly imported object that joined to a central-store object.
func (r *Runner) confirmExports(ctx context.Context, records []importer.Record) error {
	if r.Resolve == nil {
		return nil
	}

	reconciler := reconcile.New(r.Store, r.MaxExportAttempts)
	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if record.ErrorType != "" {
			continue
		}
		objectID, ok := r.Resolve(record)
		if !ok {
			continue
		}
		if err := reconciler.ConfirmObject(ctx, r.System.ID, objectID, record.AttributeMap()); err != nil {
			return err
		}
	}
	return nil
}

// collectExportBatch merges newly evaluated exports with prior ones still
// carrying unconfirmed changes. Failed exports stay parked for the
// operator; confirmed changes are never re-exported.
func (r *Runner) collectExportBatch(ctx context.Context, records []importer.Record) ([]*metaverse.PendingExport, error) {
	evaluated, err := r.Evaluate(records)
	if err != nil {
		return nil, fmt.Errorf("evaluate attribute flow: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(evaluated))
	batch := make([]*metaverse.PendingExport, 0, len(evaluated))
	for _, pending := range evaluated {
		seen[pending.ID] = struct{}{}
		batch = append(batch, pending)
	}

	outstanding, err := r.Store.UnconfirmedExports(ctx, r.System.ID)
	if err != nil {
		return nil, fmt.Errorf("load unconfirmed exports: %w", err)
	}
	for _, pending := range outstanding {
		if _, ok := seen[pending.ID]; ok {
			continue
		}
		if pending.Status == metaverse.ExportFailed {
			log.Printf("Skipping failed pending export %s for %s", pending.ID, pending.ObjectDN)
			continue
		}
		if hasExportable(pending) {
			batch = append(batch, pending)
		}
	}
	return batch, nil
}

func hasExportable(pending *metaverse.PendingExport) bool {
	for _, change := range pending.Changes {
		if change.Exportable() {
			return true
		}
	}
	return false
}
