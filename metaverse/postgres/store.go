// Package postgres implements the metaverse Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"

	"identra/metadir/attributes"
	"identra/metadir/metaverse"
	"identra/metadir/watermark"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
}

var _ metaverse.Store = (*Store)(nil)

// Connect opens a pgx connection pool for the given DSN.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the store tables. Dev convenience until migrations
// are wired into deployment.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func rollbackOrCommit(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Printf("transaction rollback failed: %v (original error: %v)", rbErr, *err)
		}
		return
	}
	if cmErr := tx.Commit(ctx); cmErr != nil {
		*err = fmt.Errorf("commit failed: %w", cmErr)
	}
}

func (s *Store) ConnectorData(ctx context.Context, systemID uuid.UUID) (string, error) {
	var data string
	err := s.pool.QueryRow(ctx, selectConnectorData, systemID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select connector data: %w", err)
	}
	return data, nil
}

func (s *Store) SaveConnectorData(ctx context.Context, systemID uuid.UUID, data string) error {
	if _, err := s.pool.Exec(ctx, upsertConnectorData, systemID, data); err != nil {
		return fmt.Errorf("upsert connector data: %w", err)
	}
	return nil
}

func (s *Store) PageCookie(ctx context.Context, systemID uuid.UUID, key watermark.PageKey) ([]byte, error) {
	var cookie []byte
	err := s.pool.QueryRow(ctx, selectPageCookie, systemID, key.ContainerID, key.ObjectTypeID).Scan(&cookie)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select page cookie: %w", err)
	}
	return cookie, nil
}

func (s *Store) SavePageCookie(ctx context.Context, systemID uuid.UUID, key watermark.PageKey, cookie []byte) error {
	if _, err := s.pool.Exec(ctx, upsertPageCookie, systemID, key.ContainerID, key.ObjectTypeID, cookie); err != nil {
		return fmt.Errorf("upsert page cookie: %w", err)
	}
	return nil
}

func (s *Store) ClearPageCookie(ctx context.Context, systemID uuid.UUID, key watermark.PageKey) error {
	if _, err := s.pool.Exec(ctx, deletePageCookie, systemID, key.ContainerID, key.ObjectTypeID); err != nil {
		return fmt.Errorf("delete page cookie: %w", err)
	}
	return nil
}

func (s *Store) SavePendingExport(ctx context.Context, systemID uuid.UUID, export *metaverse.PendingExport) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollbackOrCommit(ctx, tx, &err)

	lastAttempt := pgtype.Timestamp{Time: export.LastAttempt, Valid: !export.LastAttempt.IsZero()}
	_, err = tx.Exec(ctx, upsertPendingExport,
		export.ID, systemID, export.ObjectID, export.ObjectDN,
		int(export.ChangeType), int(export.Status), lastAttempt)
	if err != nil {
		return fmt.Errorf("upsert pending export: %w", err)
	}

	// Replace the change list wholesale; confirmed changes have already
	// been removed from it.
	if _, err = tx.Exec(ctx, deletePendingExportChanges, export.ID); err != nil {
		return fmt.Errorf("delete pending export changes: %w", err)
	}
	for i, change := range export.Changes {
		_, err = tx.Exec(ctx, insertPendingExportChange,
			change.ID, export.ID, i, change.Name, int(change.ChangeType),
			int(change.Value.Kind()), change.Value.String(), int(change.Status),
			change.ExportAttemptCount, change.LastImportedValue)
		if err != nil {
			return fmt.Errorf("insert pending export change %s: %w", change.Name, err)
		}
	}
	return nil
}

func (s *Store) DeletePendingExport(ctx context.Context, id uuid.UUID) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollbackOrCommit(ctx, tx, &err)

	if _, err = tx.Exec(ctx, deletePendingExportChanges, id); err != nil {
		return fmt.Errorf("delete pending export changes: %w", err)
	}
	if _, err = tx.Exec(ctx, deletePendingExport, id); err != nil {
		return fmt.Errorf("delete pending export: %w", err)
	}
	return nil
}

func (s *Store) PendingExportsFor(ctx context.Context, objectID uuid.UUID) ([]*metaverse.PendingExport, error) {
	return s.queryExports(ctx, selectPendingExportsByObject, objectID)
}

func (s *Store) UnconfirmedExports(ctx context.Context, systemID uuid.UUID) ([]*metaverse.PendingExport, error) {
	exports, err := s.queryExports(ctx, selectPendingExportsBySystem, systemID)
	if err != nil {
		return nil, err
	}

	var out []*metaverse.PendingExport
	for _, pe := range exports {
		// Changes still Pending were persisted but never dispatched; they
		// are owed a retry just like unconfirmed ones.
		for _, c := range pe.Changes {
			if c.AwaitingConfirmation() || c.Exportable() {
				out = append(out, pe)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) queryExports(ctx context.Context, query string, arg uuid.UUID) ([]*metaverse.PendingExport, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select pending exports: %w", err)
	}
	defer rows.Close()

	var exports []*metaverse.PendingExport
	for rows.Next() {
		var (
			pe          metaverse.PendingExport
			changeType  int
			status      int
			lastAttempt pgtype.Timestamp
		)
		if err := rows.Scan(&pe.ID, &pe.ObjectID, &pe.ObjectDN, &changeType, &status, &lastAttempt); err != nil {
			return nil, fmt.Errorf("scan pending export: %w", err)
		}
		pe.ChangeType = metaverse.ExportChangeType(changeType)
		pe.Status = metaverse.ExportStatus(status)
		if lastAttempt.Valid {
			pe.LastAttempt = lastAttempt.Time
		}
		exports = append(exports, &pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending exports: %w", err)
	}

	for _, pe := range exports {
		if pe.Changes, err = s.loadChanges(ctx, pe.ID); err != nil {
			return nil, err
		}
	}
	return exports, nil
}

func (s *Store) loadChanges(ctx context.Context, exportID uuid.UUID) ([]*metaverse.AttributeValueChange, error) {
	rows, err := s.pool.Query(ctx, selectChangesByExport, exportID)
	if err != nil {
		return nil, fmt.Errorf("select pending export changes: %w", err)
	}
	defer rows.Close()

	var changes []*metaverse.AttributeValueChange
	for rows.Next() {
		var (
			change       metaverse.AttributeValueChange
			changeType   int
			valueKind    int
			value        string
			status       int
			lastImported pgtype.Text
		)
		if err := rows.Scan(&change.ID, &change.Name, &changeType, &valueKind, &value,
			&status, &change.ExportAttemptCount, &lastImported); err != nil {
			return nil, fmt.Errorf("scan pending export change: %w", err)
		}
		change.ChangeType = metaverse.AttributeChangeType(changeType)
		change.Status = metaverse.AttributeChangeStatus(status)
		if lastImported.Valid {
			change.LastImportedValue = lastImported.String
		}
		change.Value, err = attributes.Parse(attributes.Kind(valueKind), value)
		if err != nil {
			return nil, fmt.Errorf("parse stored value for %s: %w", change.Name, err)
		}
		changes = append(changes, &change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending export changes: %w", err)
	}
	return changes, nil
}

// ResetSchema drops and recreates the store database. Dev convenience
// mirroring InitSchema.
func ResetSchema(ctx context.Context, managementDSN, dsn, dbName string) error {
	managementPool, err := pgxpool.New(ctx, managementDSN)
	if err != nil {
		return fmt.Errorf("unable to connect: %w", err)
	}
	defer managementPool.Close()

	if _, err = managementPool.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}
	if _, err = managementPool.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	store, err := Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.InitSchema(ctx)
}
