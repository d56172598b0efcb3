// Package data contains AuditStore and SnapshotStore implementations.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/data/database"
	"github.com/dxpops/conductor/internal/data/pgxutil"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/jackc/pgx/v5"
)

// Advisory lock namespace for audit maintenance; major key 2000 belongs to the audit store.
const (
	advisoryLockAuditMajor  = 2000
	advisoryLockAuditDelete = 1

	defaultAuditDeleteBatch = 5000
	auditTable              = "audit_entries"
)

var auditColumns = []string{"id", "operation", "kind", "tenant", "started_at", "duration_ms", "status", "error", "params"}

// AuditRepo is the Postgres AuditStore.
type AuditRepo struct {
	DB        *sql.DB
	batchSize int
}

var _ core.AuditStore = (*AuditRepo)(nil)

// NewAuditRepo creates an AuditRepo. batchSize bounds rows removed per delete statement.
func NewAuditRepo(db *sql.DB, batchSize int) *AuditRepo {
	if batchSize <= 0 {
		batchSize = defaultAuditDeleteBatch
	}
	return &AuditRepo{DB: db, batchSize: batchSize}
}

// Append inserts one entry.
func (r *AuditRepo) Append(ctx context.Context, e model.AuditEntry) error {
	var params []byte
	if len(e.Params) > 0 {
		b, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("marshal audit params: %w", err)
		}
		params = b
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO audit_entries (id, operation, kind, tenant, started_at, duration_ms, status, error, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Operation, e.Kind, e.Tenant, e.StartedAt.UTC(), e.DurationMs, string(e.Status), e.Error, params)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", apperrors.MapDBError(err))
	}
	return nil
}

func auditConditions(f model.AuditFilter) []database.Condition {
	var conds []database.Condition
	if f.From != nil {
		conds = append(conds, database.WhereCond("started_at", database.GreaterThanOrEqual, f.From.UTC()))
	}
	if f.To != nil {
		conds = append(conds, database.WhereCond("started_at", database.LessThan, f.To.UTC()))
	}
	if f.Operation != "" {
		conds = append(conds, database.WhereCond("operation", database.Equal, f.Operation))
	}
	if f.Kind != "" {
		conds = append(conds, database.WhereCond("kind", database.Equal, f.Kind))
	}
	if f.Tenant != "" {
		conds = append(conds, database.WhereCond("tenant", database.Equal, f.Tenant))
	}
	if f.Status != "" {
		conds = append(conds, database.WhereCond("status", database.Equal, string(f.Status)))
	}
	return conds
}

// Query returns entries ordered by StartedAt descending.
func (r *AuditRepo) Query(ctx context.Context, f model.AuditFilter) (*model.AuditPage, error) {
	conds := auditConditions(f)
	opts := []database.ListQueryOption{
		database.WithColumns(auditColumns...),
		database.WithConditions(conds...),
		database.WithOrderBy("started_at", "DESC"),
		database.WithOffset(f.Offset),
	}
	if f.Limit > 0 {
		opts = append(opts, database.WithLimit(f.Limit))
	}
	listQuery, listArgs := database.BuildListQuery(database.NewListQueryOptions(auditTable, opts...))
	countQuery, countArgs := database.BuildListQuery(database.NewListQueryOptions(auditTable,
		database.WithCountOnly(),
		database.WithConditions(conds...),
	))

	page := &model.AuditPage{Entries: []model.AuditEntry{}}
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, listQuery, listArgs...)
		if err != nil {
			return err
		}
		entries, err := pgx.CollectRows(rows, scanAuditEntry)
		if err != nil {
			return err
		}
		page.Entries = entries

		var total int64
		if err := conn.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
			return err
		}
		page.Total = int(total)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", apperrors.MapDBError(err))
	}
	page.HasMore = f.Offset+len(page.Entries) < page.Total
	return page, nil
}

func scanAuditEntry(row pgx.CollectableRow) (model.AuditEntry, error) {
	var (
		e      model.AuditEntry
		status string
		params []byte
	)
	if err := row.Scan(&e.ID, &e.Operation, &e.Kind, &e.Tenant, &e.StartedAt, &e.DurationMs, &status, &e.Error, &params); err != nil {
		return e, err
	}
	e.Status = model.AuditStatus(status)
	e.StartedAt = e.StartedAt.UTC()
	if len(params) > 0 {
		if err := json.Unmarshal(params, &e.Params); err != nil {
			return e, fmt.Errorf("decode params of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// DeleteBefore removes entries that started before cutoff, in batches. When another
// instance holds the maintenance lock the call returns 0 without deleting anything.
func (r *AuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		n, locked, err := r.deleteBatch(ctx, cutoff)
		if err != nil {
			return total, err
		}
		total += n
		if !locked || n < int64(r.batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (r *AuditRepo) deleteBatch(ctx context.Context, cutoff time.Time) (n int64, locked bool, err error) {
	err = pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			ok, lockErr := pgxutil.TryXactLock(ctx, tx, advisoryLockAuditMajor, advisoryLockAuditDelete)
			if lockErr != nil || !ok {
				return lockErr
			}
			locked = true

			res, execErr := tx.ExecContext(ctx, `
				DELETE FROM audit_entries
				WHERE id IN (
					SELECT id FROM audit_entries
					WHERE started_at < $1
					ORDER BY started_at
					LIMIT $2
				)
			`, cutoff.UTC(), r.batchSize)
			if execErr != nil {
				return fmt.Errorf("delete audit entries: %w", execErr)
			}
			n, execErr = res.RowsAffected()
			if execErr != nil {
				return fmt.Errorf("rows affected: %w", execErr)
			}
			return nil
		},
	})
	if err != nil {
		return 0, false, apperrors.MapDBError(err)
	}
	return n, locked, nil
}
