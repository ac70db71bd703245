/*
Package sqlite provides a SQLite-backed implementation of the deposit ports.

PURPOSE:
  Implements deposit.TxStore (decisions + audit ledger) together with the
  read-only collaborators (deposit.DepositLookup, deposit.ActorResolver)
  using SQLite. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  deposit.TxStore:        Decisions with CAS updates, audit entries
  deposit.DepositLookup:  Deposit reference data
  deposit.ActorResolver:  Actor display names

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on audit_entries
  - No DELETE statements on audit_entries or decisions
  - Corrections happen through new decisions, never edits

KEY TABLES:
  decisions:      One row per refund decision, version column for CAS
  audit_entries:  Immutable ledger, seq is the ordering key
  deposits:       Reference data (tenant, property, room, total)
  actors:         Display names for audit rendering

INDEXES:
  - idx_decisions_one_active: Partial unique index, one draft or pending
    decision per deposit. The database enforces it, so two concurrent
    creates cannot both succeed.
  - idx_decisions_status: Queue filtering
  - idx_audit_deposit: Trail reads

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. UpdateDecision is
  "UPDATE ... WHERE id = ? AND version = ?"; zero rows affected means
  another writer got there first.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/deposits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := deposit.NewEngine(store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - deposit/store.go: Interface definitions
  - deposit/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/deposit-refunds/deposit"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Deposit reference data (owned by the housing system, mirrored here)
	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		tenant_name TEXT NOT NULL,
		property_name TEXT NOT NULL DEFAULT '',
		room_name TEXT NOT NULL DEFAULT '',
		total TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'paid',
		updated_at TEXT NOT NULL
	);

	-- Actors (display names only; authentication happens upstream)
	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT ''
	);

	-- Refund decisions
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		deposit_id TEXT NOT NULL,
		status TEXT NOT NULL,
		decision_type TEXT NOT NULL,
		assessment_json TEXT NOT NULL,
		result_json TEXT NOT NULL,
		refund_amount TEXT NOT NULL,
		requires_hr_review BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		submitted_by TEXT,
		submitted_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		finance_notes TEXT,
		hr_reviewed_by TEXT,
		hr_reviewed_at TEXT,
		hr_notes TEXT,
		report_generated BOOLEAN NOT NULL DEFAULT FALSE,
		report_path TEXT,
		notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
		notification_sent_at TEXT,
		notification_recipients_json TEXT,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: At most one active decision per deposit
	CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_one_active
		ON decisions(deposit_id)
		WHERE status IN ('draft', 'pending_finance_approval');

	CREATE INDEX IF NOT EXISTS idx_decisions_status
		ON decisions(status);
	CREATE INDEX IF NOT EXISTS idx_decisions_deposit
		ON decisions(deposit_id);

	-- Audit ledger (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		deposit_id TEXT NOT NULL,
		decision_id TEXT,
		action TEXT NOT NULL,
		description TEXT NOT NULL,
		data_json TEXT,
		actor_id TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_deposit
		ON audit_entries(deposit_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DECISION STORE (deposit.DecisionStore interface)
// =============================================================================

const decisionColumns = `
	id, deposit_id, status, decision_type, assessment_json, result_json,
	refund_amount, requires_hr_review, created_by, created_at,
	submitted_by, submitted_at, approved_by, approved_at, finance_notes,
	hr_reviewed_by, hr_reviewed_at, hr_notes,
	report_generated, report_path, notification_sent, notification_sent_at,
	notification_recipients_json, version, updated_at`

// InsertDecision persists a new decision.
func (s *Store) InsertDecision(ctx context.Context, d deposit.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertDecision(ctx, s.db, d)
}

func insertDecision(ctx context.Context, db execer, d deposit.Decision) error {
	row, err := toDecisionRow(d)
	if err != nil {
		return err
	}

	query := `INSERT INTO decisions (` + decisionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.ExecContext(ctx, query, row.args()...)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "deposit_id") {
			return deposit.ErrDuplicateActiveDecision
		}
		return unavailable("insert decision", err)
	}
	return nil
}

// GetDecision retrieves a decision by ID.
func (s *Store) GetDecision(ctx context.Context, id deposit.DecisionID) (*deposit.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDecision(ctx, s.db, id)
}

func getDecision(ctx context.Context, db execer, id deposit.DecisionID) (*deposit.Decision, error) {
	row := db.QueryRowContext(ctx, "SELECT "+decisionColumns+" FROM decisions WHERE id = ?", id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deposit.ErrDecisionNotFound
	}
	if err != nil {
		return nil, unavailable("get decision", err)
	}
	return d, nil
}

// UpdateDecision replaces a decision if the stored version matches.
func (s *Store) UpdateDecision(ctx context.Context, d deposit.Decision, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateDecision(ctx, s.db, d, expectedVersion)
}

func updateDecision(ctx context.Context, db execer, d deposit.Decision, expectedVersion int64) error {
	row, err := toDecisionRow(d)
	if err != nil {
		return err
	}

	query := `
		UPDATE decisions SET
			status = ?, decision_type = ?,
			submitted_by = ?, submitted_at = ?,
			approved_by = ?, approved_at = ?, finance_notes = ?,
			hr_reviewed_by = ?, hr_reviewed_at = ?, hr_notes = ?,
			report_generated = ?, report_path = ?,
			notification_sent = ?, notification_sent_at = ?, notification_recipients_json = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := db.ExecContext(ctx, query,
		row.Status, row.DecisionType,
		row.SubmittedBy, row.SubmittedAt,
		row.ApprovedBy, row.ApprovedAt, row.FinanceNotes,
		row.HRReviewedBy, row.HRReviewedAt, row.HRNotes,
		row.ReportGenerated, row.ReportPath,
		row.NotificationSent, row.NotificationSentAt, row.RecipientsJSON,
		row.Version, row.UpdatedAt,
		row.ID, expectedVersion,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return deposit.ErrDuplicateActiveDecision
		}
		return unavailable("update decision", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update decision", err)
	}
	if n == 0 {
		// Either the row is gone or the version moved on.
		var exists int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM decisions WHERE id = ?", d.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return deposit.ErrDecisionNotFound
		}
		if err != nil {
			return unavailable("update decision", err)
		}
		return deposit.ErrConcurrentModification
	}
	return nil
}

// ListDecisions returns matching decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, filter deposit.DecisionFilter) ([]deposit.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDecisions(ctx, s.db, filter)
}

func listDecisions(ctx context.Context, db execer, filter deposit.DecisionFilter) ([]deposit.Decision, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.DepositID != nil {
		where = append(where, "deposit_id = ?")
		args = append(args, string(*filter.DepositID))
	}
	if filter.AwaitingHRReview {
		where = append(where, "requires_hr_review = 1 AND hr_reviewed_at IS NULL")
	}

	query := "SELECT " + decisionColumns + " FROM decisions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list decisions", err)
	}
	defer rows.Close()

	decisions := []deposit.Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, unavailable("scan decision", err)
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list decisions", err)
	}
	return decisions, nil
}

// DecisionStats aggregates per status in SQL. refund_amount is stored as
// text, so each group's amounts come back concatenated and are summed as
// decimals in Go; SQLite's SUM would go through floating point.
func (s *Store) DecisionStats(ctx context.Context) (deposit.QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return decisionStats(ctx, s.db)
}

const decisionStatsQuery = `
	SELECT status,
		COUNT(*),
		COALESCE(SUM(CASE WHEN requires_hr_review AND hr_reviewed_at IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(GROUP_CONCAT(refund_amount, ' '), '')
	FROM decisions
	GROUP BY status`

func decisionStats(ctx context.Context, db execer) (deposit.QueueStats, error) {
	rows, err := db.QueryContext(ctx, decisionStatsQuery)
	if err != nil {
		return deposit.QueueStats{}, unavailable("decision stats", err)
	}
	defer rows.Close()

	var stats deposit.QueueStats
	for rows.Next() {
		var status, amounts string
		var count, awaitingHR int
		if err := rows.Scan(&status, &count, &awaitingHR, &amounts); err != nil {
			return deposit.QueueStats{}, unavailable("decision stats", err)
		}
		sum := decimal.Zero
		for _, raw := range strings.Fields(amounts) {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return deposit.QueueStats{}, fmt.Errorf("decision stats: bad refund amount %q: %w", raw, err)
			}
			sum = sum.Add(amount)
		}

		st := deposit.Status(status)
		switch st {
		case deposit.StatusDraft:
			stats.Pending += count
		case deposit.StatusPendingFinanceApproval:
			stats.RequiresFinanceApproval += count
		case deposit.StatusApproved:
			stats.Approved += count
		case deposit.StatusRejected:
			stats.Rejected += count
		}
		stats.Total += count
		stats.AwaitingHRReview += awaitingHR
		stats.TotalRefundAmount = stats.TotalRefundAmount.Add(sum)
		if !st.IsTerminal() {
			stats.PendingRefundAmount = stats.PendingRefundAmount.Add(sum)
		}
	}
	if err := rows.Err(); err != nil {
		return deposit.QueueStats{}, unavailable("decision stats", err)
	}
	return stats, nil
}

// =============================================================================
// AUDIT STORE (deposit.AuditStore interface)
// =============================================================================

// AppendAudit adds an entry to the ledger and sets its Seq.
func (s *Store) AppendAudit(ctx context.Context, entry *deposit.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, db execer, entry *deposit.AuditEntry) error {
	var dataJSON sql.NullString
	if len(entry.Data) > 0 {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("encode audit data: %w", err)
		}
		dataJSON = sql.NullString{String: string(b), Valid: true}
	}

	var decisionID sql.NullString
	if entry.DecisionID != nil {
		decisionID = nullString(string(*entry.DecisionID))
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, deposit_id, decision_id, action, description, data_json, actor_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.DepositID,
		decisionID,
		entry.Action,
		entry.Description,
		dataJSON,
		entry.ActorID,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return unavailable("append audit entry", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return unavailable("append audit entry", err)
	}
	entry.Seq = seq
	return nil
}

// LoadAudit returns a deposit's entries, oldest first.
func (s *Store) LoadAudit(ctx context.Context, depositID deposit.DepositID) ([]deposit.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadAudit(ctx, s.db, depositID)
}

func loadAudit(ctx context.Context, db execer, depositID deposit.DepositID) ([]deposit.AuditEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, id, deposit_id, decision_id, action, description, data_json, actor_id, timestamp
		FROM audit_entries
		WHERE deposit_id = ?
		ORDER BY seq ASC
	`, depositID)
	if err != nil {
		return nil, unavailable("load audit", err)
	}
	defer rows.Close()

	entries := []deposit.AuditEntry{}
	for rows.Next() {
		var e deposit.AuditEntry
		var decisionID, dataJSON sql.NullString
		var ts string
		if err := rows.Scan(&e.Seq, &e.ID, &e.DepositID, &decisionID, &e.Action,
			&e.Description, &dataJSON, &e.ActorID, &ts); err != nil {
			return nil, unavailable("scan audit entry", err)
		}
		if decisionID.Valid {
			id := deposit.DecisionID(decisionID.String)
			e.DecisionID = &id
		}
		if dataJSON.Valid {
			if err := json.Unmarshal([]byte(dataJSON.String), &e.Data); err != nil {
				return nil, fmt.Errorf("decode audit data for %s: %w", e.ID, err)
			}
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load audit", err)
	}
	return entries, nil
}

// =============================================================================
// TRANSACTIONAL STORE (deposit.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store deposit.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// txStore runs every call on the open transaction. The parent's mutex is
// already held by WithTx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertDecision(ctx context.Context, d deposit.Decision) error {
	return insertDecision(ctx, ts.tx, d)
}

func (ts *txStore) GetDecision(ctx context.Context, id deposit.DecisionID) (*deposit.Decision, error) {
	return getDecision(ctx, ts.tx, id)
}

func (ts *txStore) UpdateDecision(ctx context.Context, d deposit.Decision, expectedVersion int64) error {
	return updateDecision(ctx, ts.tx, d, expectedVersion)
}

func (ts *txStore) ListDecisions(ctx context.Context, filter deposit.DecisionFilter) ([]deposit.Decision, error) {
	return listDecisions(ctx, ts.tx, filter)
}

func (ts *txStore) DecisionStats(ctx context.Context) (deposit.QueueStats, error) {
	return decisionStats(ctx, ts.tx)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry *deposit.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) LoadAudit(ctx context.Context, depositID deposit.DepositID) ([]deposit.AuditEntry, error) {
	return loadAudit(ctx, ts.tx, depositID)
}

// =============================================================================
// DEPOSIT REFERENCE DATA (deposit.DepositLookup interface)
// =============================================================================

// SaveDeposit upserts a deposit reference record.
func (s *Store) SaveDeposit(ctx context.Context, ref deposit.DepositRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO deposits (id, tenant_name, property_name, room_name, total, payment_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_name = excluded.tenant_name,
			property_name = excluded.property_name,
			room_name = excluded.room_name,
			total = excluded.total,
			payment_status = excluded.payment_status,
			updated_at = excluded.updated_at
	`
	status := ref.PaymentStatus
	if status == "" {
		status = deposit.PaymentPaid
	}
	_, err := s.db.ExecContext(ctx, query,
		ref.ID, ref.TenantName, ref.PropertyName, ref.RoomName,
		ref.Total.String(), status,
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return unavailable("save deposit", err)
	}
	return nil
}

// GetDeposit retrieves a deposit by ID.
func (s *Store) GetDeposit(ctx context.Context, id deposit.DepositID) (*deposit.DepositRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ref deposit.DepositRef
	var total string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, tenant_name, property_name, room_name, total, payment_status FROM deposits WHERE id = ?",
		id,
	).Scan(&ref.ID, &ref.TenantName, &ref.PropertyName, &ref.RoomName, &total, &ref.PaymentStatus)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, deposit.ErrDepositNotFound
	}
	if err != nil {
		return nil, unavailable("get deposit", err)
	}

	ref.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("deposit %s has malformed total %q: %w", id, total, err)
	}
	return &ref, nil
}

// =============================================================================
// ACTORS (deposit.ActorResolver interface)
// =============================================================================

// SaveActor upserts an actor.
func (s *Store) SaveActor(ctx context.Context, a deposit.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (id, display_name, role) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			role = excluded.role
	`, a.ID, a.DisplayName, a.Role)
	if err != nil {
		return unavailable("save actor", err)
	}
	return nil
}

// DisplayName resolves an actor's name, falling back to the raw id.
func (s *Store) DisplayName(ctx context.Context, id deposit.ActorID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRowContext(ctx, "SELECT display_name FROM actors WHERE id = ?", id).Scan(&name)
	if err != nil || name == "" {
		return string(id)
	}
	return name
}

// =============================================================================
// ROW MAPPING
// =============================================================================

type decisionRow struct {
	ID                 string
	DepositID          string
	Status             string
	DecisionType       string
	AssessmentJSON     string
	ResultJSON         string
	RefundAmount       string
	RequiresHRReview   bool
	CreatedBy          string
	CreatedAt          string
	SubmittedBy        sql.NullString
	SubmittedAt        sql.NullString
	ApprovedBy         sql.NullString
	ApprovedAt         sql.NullString
	FinanceNotes       sql.NullString
	HRReviewedBy       sql.NullString
	HRReviewedAt       sql.NullString
	HRNotes            sql.NullString
	ReportGenerated    bool
	ReportPath         sql.NullString
	NotificationSent   bool
	NotificationSentAt sql.NullString
	RecipientsJSON     sql.NullString
	Version            int64
	UpdatedAt          string
}

func (r *decisionRow) args() []any {
	return []any{
		r.ID, r.DepositID, r.Status, r.DecisionType, r.AssessmentJSON, r.ResultJSON,
		r.RefundAmount, r.RequiresHRReview, r.CreatedBy, r.CreatedAt,
		r.SubmittedBy, r.SubmittedAt, r.ApprovedBy, r.ApprovedAt, r.FinanceNotes,
		r.HRReviewedBy, r.HRReviewedAt, r.HRNotes,
		r.ReportGenerated, r.ReportPath, r.NotificationSent, r.NotificationSentAt,
		r.RecipientsJSON, r.Version, r.UpdatedAt,
	}
}

func (r *decisionRow) dest() []any {
	return []any{
		&r.ID, &r.DepositID, &r.Status, &r.DecisionType, &r.AssessmentJSON, &r.ResultJSON,
		&r.RefundAmount, &r.RequiresHRReview, &r.CreatedBy, &r.CreatedAt,
		&r.SubmittedBy, &r.SubmittedAt, &r.ApprovedBy, &r.ApprovedAt, &r.FinanceNotes,
		&r.HRReviewedBy, &r.HRReviewedAt, &r.HRNotes,
		&r.ReportGenerated, &r.ReportPath, &r.NotificationSent, &r.NotificationSentAt,
		&r.RecipientsJSON, &r.Version, &r.UpdatedAt,
	}
}

func toDecisionRow(d deposit.Decision) (*decisionRow, error) {
	assessment, err := json.Marshal(d.Assessment)
	if err != nil {
		return nil, fmt.Errorf("encode assessment: %w", err)
	}
	result, err := json.Marshal(d.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	var recipients sql.NullString
	if d.NotificationRecipients != nil {
		b, err := json.Marshal(d.NotificationRecipients)
		if err != nil {
			return nil, fmt.Errorf("encode recipients: %w", err)
		}
		recipients = sql.NullString{String: string(b), Valid: true}
	}

	return &decisionRow{
		ID:                 string(d.ID),
		DepositID:          string(d.DepositID),
		Status:             string(d.Status),
		DecisionType:       string(d.Type),
		AssessmentJSON:     string(assessment),
		ResultJSON:         string(result),
		RefundAmount:       d.Result.RefundAmount.String(),
		RequiresHRReview:   d.Result.RequiresHRReview,
		CreatedBy:          string(d.CreatedBy),
		CreatedAt:          formatTime(d.CreatedAt),
		SubmittedBy:        nullString(string(d.SubmittedBy)),
		SubmittedAt:        nullTime(d.SubmittedAt),
		ApprovedBy:         nullString(string(d.ApprovedBy)),
		ApprovedAt:         nullTime(d.ApprovedAt),
		FinanceNotes:       nullString(d.FinanceNotes),
		HRReviewedBy:       nullString(string(d.HRReviewedBy)),
		HRReviewedAt:       nullTime(d.HRReviewedAt),
		HRNotes:            nullString(d.HRNotes),
		ReportGenerated:    d.ReportGenerated,
		ReportPath:         nullString(d.ReportPath),
		NotificationSent:   d.NotificationSent,
		NotificationSentAt: nullTime(d.NotificationSentAt),
		RecipientsJSON:     recipients,
		Version:            d.Version,
		UpdatedAt:          formatTime(d.UpdatedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(sc scanner) (*deposit.Decision, error) {
	var r decisionRow
	if err := sc.Scan(r.dest()...); err != nil {
		return nil, err
	}

	d := &deposit.Decision{
		ID:                 deposit.DecisionID(r.ID),
		DepositID:          deposit.DepositID(r.DepositID),
		Status:             deposit.Status(r.Status),
		Type:               deposit.DecisionType(r.DecisionType),
		CreatedBy:          deposit.ActorID(r.CreatedBy),
		CreatedAt:          parseTime(r.CreatedAt),
		SubmittedBy:        deposit.ActorID(r.SubmittedBy.String),
		SubmittedAt:        parseNullTime(r.SubmittedAt),
		ApprovedBy:         deposit.ActorID(r.ApprovedBy.String),
		ApprovedAt:         parseNullTime(r.ApprovedAt),
		FinanceNotes:       r.FinanceNotes.String,
		HRReviewedBy:       deposit.ActorID(r.HRReviewedBy.String),
		HRReviewedAt:       parseNullTime(r.HRReviewedAt),
		HRNotes:            r.HRNotes.String,
		ReportGenerated:    r.ReportGenerated,
		ReportPath:         r.ReportPath.String,
		NotificationSent:   r.NotificationSent,
		NotificationSentAt: parseNullTime(r.NotificationSentAt),
		Version:            r.Version,
		UpdatedAt:          parseTime(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.AssessmentJSON), &d.Assessment); err != nil {
		return nil, fmt.Errorf("decode assessment for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.ResultJSON), &d.Result); err != nil {
		return nil, fmt.Errorf("decode result for %s: %w", r.ID, err)
	}
	if r.RecipientsJSON.Valid {
		if err := json.Unmarshal([]byte(r.RecipientsJSON.String), &d.NotificationRecipients); err != nil {
			return nil, fmt.Errorf("decode recipients for %s: %w", r.ID, err)
		}
	}
	return d, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// unavailable wraps driver failures so callers can treat them as retryable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, deposit.ErrStorageUnavailable, err)
}
