// internal/store/store.go
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists run reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.RunStore = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the runs and step_reports tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const (
	sqlUpsertRun = `
        INSERT INTO runs (id, source, started_at, finished_at, passed)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            source = EXCLUDED.source,
            started_at = EXCLUDED.started_at,
            finished_at = EXCLUDED.finished_at,
            passed = EXCLUDED.passed;
    `
	sqlDeleteSteps = `DELETE FROM step_reports WHERE run_id = $1;`
	sqlGetRun      = `
        SELECT source, started_at, finished_at, passed
        FROM runs
        WHERE id = $1;
    `
	sqlGetSteps = `
        SELECT idx, name, action, target, status, error, error_kind, strategy, attempts, started_at, finished_at, detail
        FROM step_reports
        WHERE run_id = $1
        ORDER BY idx ASC;
    `
)

var stepColumns = []string{
	"run_id", "idx", "name", "action", "target", "status", "error", "error_kind",
	"strategy", "attempts", "started_at", "finished_at", "detail",
}

// stepDetail holds the nested parts of a step report, stored as jsonb.
type stepDetail struct {
	States      []string                 `json:"states,omitempty"`
	Resolved    *schemas.ResolvedElement `json:"resolved,omitempty"`
	Attachments []schemas.Attachment     `json:"attachments,omitempty"`
}

// PersistRun writes a run and its step reports in one transaction. Writing the
// same run id twice replaces the earlier rows.
func (s *Store) PersistRun(ctx context.Context, report *schemas.RunReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertRun,
		report.RunID, report.Source, report.StartedAt.UTC(), report.FinishedAt.UTC(), report.Passed,
	); err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", report.RunID, err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteSteps, report.RunID); err != nil {
		return fmt.Errorf("failed to clear steps of run %s: %w", report.RunID, err)
	}
	if len(report.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, report); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", report.RunID), zap.Int("steps", len(report.Steps)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, report *schemas.RunReport) error {
	rows := make([][]any, len(report.Steps))
	for i, st := range report.Steps {
		detail, err := json.Marshal(stepDetail{States: st.States, Resolved: st.Resolved, Attachments: st.Attachments})
		if err != nil {
			return fmt.Errorf("failed to encode detail of step %d: %w", st.Index, err)
		}
		rows[i] = []any{
			report.RunID, st.Index, st.Name, string(st.Action), st.Target, string(st.Status),
			st.Error, string(st.ErrorKind), string(st.Outcome.StrategyUsed), st.Outcome.Attempts,
			st.StartedAt.UTC(), st.FinishedAt.UTC(), detail,
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"step_reports"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy step reports: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied step count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// GetRun loads a stored run with its steps in execution order.
func (s *Store) GetRun(ctx context.Context, runID string) (*schemas.RunReport, error) {
	report := &schemas.RunReport{RunID: runID}
	err := s.pool.QueryRow(ctx, sqlGetRun, runID).Scan(&report.Source, &report.StartedAt, &report.FinishedAt, &report.Passed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlGetSteps, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step reports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st schemas.StepReport
		var action, status, errorKind, strategy string
		var started, finished time.Time
		var detail []byte
		if err := rows.Scan(
			&st.Index, &st.Name, &action, &st.Target, &status, &st.Error, &errorKind,
			&strategy, &st.Outcome.Attempts, &started, &finished, &detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		st.Action = schemas.ActionKind(action)
		st.Status = schemas.StepStatus(status)
		st.ErrorKind = schemas.ErrorKind(errorKind)
		st.StartedAt, st.FinishedAt = started, finished
		st.Outcome.StrategyUsed = schemas.Strategy(strategy)
		st.Outcome.Success = st.Status == schemas.StatusPassed
		st.Outcome.Error = st.ErrorKind

		if len(detail) > 0 {
			var d stepDetail
			if err := json.Unmarshal(detail, &d); err != nil {
				return nil, fmt.Errorf("failed to decode detail of step %d: %w", st.Index, err)
			}
			st.States, st.Resolved, st.Attachments = d.States, d.Resolved, d.Attachments
		}
		report.Steps = append(report.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return report, nil
}
