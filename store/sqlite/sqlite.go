/*
Package sqlite provides a SQLite-backed implementation of every storage
interface in the system.

INTERFACES IMPLEMENTED:
  economy.Store:        Accounts + append-only transaction log
  streak.Store:         Versioned streak records
  rewards.CatalogStore: Reward definitions
  rewards.GrantStore:   Grants, including atomic payout-plus-grant
  rewards.ActivityStore:Append-only trigger event stream
  workflow.DraftStore:  Mutable-in-place reward drafts

APPEND-ONLY ENFORCEMENT:
  transactions, reward_grants and activity_events never see UPDATE or
  DELETE statements. Corrections are compensating transactions.

COMPARE-AND-COMMIT:
  Account and streak writes are conditioned on the version the caller
  read (UPDATE ... WHERE version = ?); zero rows affected means another
  writer won and the caller retries with a fresh read. The payout path
  applies the account update, the ledger transaction and the grant row
  inside one SQL transaction.

DOUBLE-PAYOUT GUARD:
  A partial unique index on reward_grants(account_id, reward_id) for
  non-repeatable grants backs up the in-transaction existence check, so
  even racing processes cannot double-pay.

WAL MODE:
  Opened with WAL for concurrent readers; a process-wide mutex
  serializes writers, matching SQLite's single-writer model.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/coinage/economy"
	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/streak"
	"github.com/warp/coinage/workflow"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a store at dbPath (":memory:" for in-memory) and migrates
// the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and pooled
	// connections would each get their own ":memory:" database.
	db.SetMaxOpenConns(1)

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

func (s *Store) migrate() error {
	schema := `
	-- Accounts (materialized balances, version-guarded)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		lifetime_earned TEXT NOT NULL,
		lifetime_spent TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		resulting_balance TEXT NOT NULL,
		source TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, seq DESC);

	-- One ledger effect per (source, reference): retries become no-ops.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_source_reference
		ON transactions(source, reference) WHERE reference != '';

	-- Streaks (version-guarded)
	CREATE TABLE IF NOT EXISTS streaks (
		account_id TEXT PRIMARY KEY,
		current INTEGER NOT NULL,
		longest INTEGER NOT NULL,
		last_activity_day INTEGER NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_streaks_last_day
		ON streaks(last_activity_day) ;

	-- Activity events (append-only trigger stream)
	CREATE TABLE IF NOT EXISTS activity_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		at TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_activity_account_kind_at
		ON activity_events(account_id, kind, at);

	-- Reward definitions
	CREATE TABLE IF NOT EXISTS reward_definitions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		payout_kind TEXT NOT NULL,
		payout_coins TEXT NOT NULL DEFAULT '0',
		payout_token TEXT NOT NULL DEFAULT '',
		repeatable INTEGER NOT NULL DEFAULT 0,
		cooldown_ns INTEGER NOT NULL DEFAULT 0,
		required_role TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		conditions_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_definitions_active
		ON reward_definitions(active);

	-- Grants (append-only)
	CREATE TABLE IF NOT EXISTS reward_grants (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		reward_id TEXT NOT NULL,
		repeatable INTEGER NOT NULL DEFAULT 0,
		granted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_grants_account
		ON reward_grants(account_id, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_grants_account_reward
		ON reward_grants(account_id, reward_id, seq DESC);

	-- CRITICAL: a non-repeatable reward pays out at most once per account.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_grant
		ON reward_grants(account_id, reward_id) WHERE repeatable = 0;

	-- Drafts (the only mutable-in-place, ephemeral table)
	CREATE TABLE IF NOT EXISTS reward_drafts (
		admin_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		draft_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Sweep runs (daily streak-expiry audit + idempotency record)
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT NOT NULL,
		day INTEGER NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		streaks_reset INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ECONOMY STORE (economy.Store interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id economy.AccountID) (*economy.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, balance, lifetime_earned, lifetime_spent, active, created_at, version
		FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

func scanAccount(row *sql.Row) (*economy.Account, error) {
	var a economy.Account
	var balance, earned, spent, createdAt string
	var active int

	if err := row.Scan(&a.ID, &balance, &earned, &spent, &active, &createdAt, &a.Version); err != nil {
		return nil, err
	}

	var err error
	if a.Balance, err = parseAmount(balance); err != nil {
		return nil, err
	}
	if a.LifetimeEarned, err = parseAmount(earned); err != nil {
		return nil, err
	}
	if a.LifetimeSpent, err = parseAmount(spent); err != nil {
		return nil, err
	}
	a.Active = active != 0
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ApplyTransaction(ctx context.Context, updated economy.Account, expectedVersion int64, tx economy.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.writeAccountTx(ctx, sqlTx, updated, expectedVersion); err != nil {
		return err
	}
	if err := s.appendTransactionTx(ctx, sqlTx, tx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) SaveAccount(ctx context.Context, updated economy.Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.writeAccountTx(ctx, sqlTx, updated, expectedVersion); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// writeAccountTx performs the compare-and-commit account write.
// expectedVersion 0 inserts; anything else updates conditioned on the
// stored version.
func (s *Store) writeAccountTx(ctx context.Context, db execer, a economy.Account, expectedVersion int64) error {
	active := 0
	if a.Active {
		active = 1
	}

	if expectedVersion == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO accounts (id, balance, lifetime_earned, lifetime_spent, active, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			a.ID, a.Balance.String(), a.LifetimeEarned.String(), a.LifetimeSpent.String(),
			active, formatTime(a.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				// Someone else created the account first.
				return economy.ErrConcurrentModification
			}
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = ?, lifetime_earned = ?, lifetime_spent = ?, active = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		a.Balance.String(), a.LifetimeEarned.String(), a.LifetimeSpent.String(),
		active, a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrConcurrentModification
	}
	return nil
}

func (s *Store) appendTransactionTx(ctx context.Context, db execer, tx economy.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, amount, resulting_balance, source, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Amount.String(), tx.ResultingBalance.String(),
		tx.Source, tx.Reference, formatTime(tx.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDuplicateReference
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *Store) LoadTransactions(ctx context.Context, id economy.AccountID, cursor string, limit int) ([]economy.Transaction, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT seq, id, account_id, amount, resulting_balance, source, reference, created_at
		FROM transactions WHERE account_id = ?`
	args := []any{id}

	if cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("bad cursor %q", cursor)
		}
		query += ` AND seq < ?`
		args = append(args, seq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit+1) // one extra row detects a next page

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	var txs []economy.Transaction
	var seqs []int64
	for rows.Next() {
		var tx economy.Transaction
		var seq int64
		var amount, resulting, createdAt string
		if err := rows.Scan(&seq, &tx.ID, &tx.AccountID, &amount, &resulting, &tx.Source, &tx.Reference, &createdAt); err != nil {
			return nil, "", err
		}
		if tx.Amount, err = parseAmount(amount); err != nil {
			return nil, "", err
		}
		if tx.ResultingBalance, err = parseAmount(resulting); err != nil {
			return nil, "", err
		}
		if tx.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, "", err
		}
		txs = append(txs, tx)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(txs) > limit {
		// The extra probe row proved another page exists; the cursor is
		// the seq of the last row actually returned.
		txs = txs[:limit]
		next = strconv.FormatInt(seqs[limit-1], 10)
	}
	return txs, next, nil
}

func (s *Store) SumTransactions(ctx context.Context, id economy.AccountID) (economy.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM transactions WHERE account_id = ?`, id)
	if err != nil {
		return economy.Amount{}, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	sum := economy.ZeroAmount()
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return economy.Amount{}, err
		}
		a, err := parseAmount(amount)
		if err != nil {
			return economy.Amount{}, err
		}
		sum = sum.Add(a)
	}
	return sum, rows.Err()
}

// =============================================================================
// STREAK STORE (streak.Store interface)
// =============================================================================

func (s *Store) GetStreak(ctx context.Context, id economy.AccountID) (*streak.StreakRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec streak.StreakRecord
	var day int64
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, current, longest, last_activity_day, version
		FROM streaks WHERE account_id = ?`, id).
		Scan(&rec.AccountID, &rec.Current, &rec.Longest, &day, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get streak: %w", err)
	}
	rec.LastActivityDay = streak.Day(day)
	return &rec, nil
}

func (s *Store) SaveStreak(ctx context.Context, rec streak.StreakRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO streaks (account_id, current, longest, last_activity_day, version)
			VALUES (?, ?, ?, ?, 1)`,
			rec.AccountID, rec.Current, rec.Longest, int64(rec.LastActivityDay))
		if err != nil {
			if isUniqueConstraintError(err) {
				return economy.ErrConcurrentModification
			}
			return fmt.Errorf("insert streak: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE streaks SET current = ?, longest = ?, last_activity_day = ?, version = version + 1
		WHERE account_id = ? AND version = ?`,
		rec.Current, rec.Longest, int64(rec.LastActivityDay), rec.AccountID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update streak: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrConcurrentModification
	}
	return nil
}

func (s *Store) ListStaleStreaks(ctx context.Context, lastActivityBefore streak.Day) ([]streak.StreakRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, current, longest, last_activity_day, version
		FROM streaks WHERE current > 0 AND last_activity_day < ?`,
		int64(lastActivityBefore))
	if err != nil {
		return nil, fmt.Errorf("list stale streaks: %w", err)
	}
	defer rows.Close()

	var recs []streak.StreakRecord
	for rows.Next() {
		var rec streak.StreakRecord
		var day int64
		if err := rows.Scan(&rec.AccountID, &rec.Current, &rec.Longest, &day, &rec.Version); err != nil {
			return nil, err
		}
		rec.LastActivityDay = streak.Day(day)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// CATALOG STORE (rewards.CatalogStore interface)
// =============================================================================

const definitionCols = `id, name, description, payout_kind, payout_coins, payout_token,
	repeatable, cooldown_ns, required_role, active, conditions_json, created_at, updated_at`

func (s *Store) SaveDefinition(ctx context.Context, def rewards.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDefinitionTx(ctx, s.db, def)
}

func (s *Store) saveDefinitionTx(ctx context.Context, db execer, def rewards.Definition) error {
	condJSON, err := json.Marshal(def.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	repeatable := 0
	if def.Repeatable {
		repeatable = 1
	}
	active := 0
	if def.Active {
		active = 1
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO reward_definitions (`+definitionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			payout_kind = excluded.payout_kind,
			payout_coins = excluded.payout_coins,
			payout_token = excluded.payout_token,
			repeatable = excluded.repeatable,
			cooldown_ns = excluded.cooldown_ns,
			required_role = excluded.required_role,
			active = excluded.active,
			conditions_json = excluded.conditions_json,
			updated_at = excluded.updated_at`,
		def.ID, def.Name, def.Description, def.Payout.Kind, def.Payout.Coins.String(),
		def.Payout.Token, repeatable, int64(def.Cooldown), def.RequiredRole, active,
		string(condJSON), formatTime(def.CreatedAt), formatTime(def.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save definition: %w", err)
	}
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, id rewards.RewardID) (*rewards.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionCols+` FROM reward_definitions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs, err := scanDefinitions(rows)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, nil
	}
	return &defs[0], nil
}

func (s *Store) ListDefinitions(ctx context.Context) ([]rewards.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionCols+` FROM reward_definitions ORDER BY active DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

func (s *Store) ListActiveDefinitions(ctx context.Context) ([]rewards.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionCols+` FROM reward_definitions WHERE active = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

func scanDefinitions(rows *sql.Rows) ([]rewards.Definition, error) {
	var defs []rewards.Definition
	for rows.Next() {
		var def rewards.Definition
		var coins, condJSON, createdAt, updatedAt string
		var repeatable, active int
		var cooldownNS int64

		err := rows.Scan(&def.ID, &def.Name, &def.Description, &def.Payout.Kind, &coins,
			&def.Payout.Token, &repeatable, &cooldownNS, &def.RequiredRole, &active,
			&condJSON, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}

		if def.Payout.Coins, err = parseAmount(coins); err != nil {
			return nil, err
		}
		def.Repeatable = repeatable != 0
		def.Cooldown = time.Duration(cooldownNS)
		def.Active = active != 0
		if err := json.Unmarshal([]byte(condJSON), &def.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
		if def.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if def.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// =============================================================================
// GRANT STORE (rewards.GrantStore interface)
// =============================================================================

// RecordGrant appends the grant and, when payout is non-nil, applies the
// account update plus ledger transaction in the same SQL transaction.
// Either everything lands or nothing does. The policy is checked under
// the write lock so concurrent events for the same reward cannot both
// pass it.
func (s *Store) RecordGrant(ctx context.Context, g rewards.Grant, policy rewards.GrantPolicy, payout *rewards.PayoutApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	if !policy.Repeatable {
		var exists int
		err := sqlTx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM reward_grants WHERE account_id = ? AND reward_id = ?`,
			g.AccountID, g.RewardID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return rewards.ErrDuplicateGrant
		}
	} else if policy.Cooldown > 0 {
		var lastGranted string
		err := sqlTx.QueryRowContext(ctx, `
			SELECT granted_at FROM reward_grants
			WHERE account_id = ? AND reward_id = ? ORDER BY seq DESC LIMIT 1`,
			g.AccountID, g.RewardID).Scan(&lastGranted)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			last, err := parseTime(lastGranted)
			if err != nil {
				return err
			}
			if g.GrantedAt.Sub(last) < policy.Cooldown {
				return rewards.ErrDuplicateGrant
			}
		}
	}

	repeatableFlag := 0
	if policy.Repeatable {
		repeatableFlag = 1
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO reward_grants (id, account_id, reward_id, repeatable, granted_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.AccountID, g.RewardID, repeatableFlag, formatTime(g.GrantedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return rewards.ErrDuplicateGrant
		}
		return fmt.Errorf("insert grant: %w", err)
	}

	if payout != nil {
		if err := s.writeAccountTx(ctx, sqlTx, payout.Account, payout.ExpectedVersion); err != nil {
			return err
		}
		if err := s.appendTransactionTx(ctx, sqlTx, payout.Tx); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func (s *Store) LastGrant(ctx context.Context, id economy.AccountID, reward rewards.RewardID) (*rewards.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g rewards.Grant
	var grantedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, reward_id, granted_at FROM reward_grants
		WHERE account_id = ? AND reward_id = ? ORDER BY seq DESC LIMIT 1`,
		id, reward).Scan(&g.ID, &g.AccountID, &g.RewardID, &grantedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last grant: %w", err)
	}
	if g.GrantedAt, err = parseTime(grantedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListGrants(ctx context.Context, id economy.AccountID) ([]rewards.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, reward_id, granted_at FROM reward_grants
		WHERE account_id = ? ORDER BY seq DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []rewards.Grant
	for rows.Next() {
		var g rewards.Grant
		var grantedAt string
		if err := rows.Scan(&g.ID, &g.AccountID, &g.RewardID, &grantedAt); err != nil {
			return nil, err
		}
		if g.GrantedAt, err = parseTime(grantedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// =============================================================================
// ACTIVITY STORE (rewards.ActivityStore interface)
// =============================================================================

func (s *Store) RecordEvent(ctx context.Context, ev rewards.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_events (id, account_id, kind, at, reference)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.AccountID, ev.Kind, formatTime(ev.At), ev.Reference)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (s *Store) CountEvents(ctx context.Context, id economy.AccountID, kind string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT COUNT(1) FROM activity_events WHERE account_id = ? AND kind = ?`
	args := []any{id, kind}
	if !since.IsZero() {
		query += ` AND at >= ?`
		args = append(args, formatTime(since))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// =============================================================================
// DRAFT STORE (workflow.DraftStore interface)
// =============================================================================

func (s *Store) GetDraft(ctx context.Context, adminID string) (*workflow.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var draftJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT draft_json FROM reward_drafts WHERE admin_id = ?`, adminID).Scan(&draftJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}

	var d workflow.Draft
	if err := json.Unmarshal([]byte(draftJSON), &d); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &d, nil
}

func (s *Store) SaveDraft(ctx context.Context, d workflow.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draftJSON, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reward_drafts (admin_id, state, draft_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(admin_id) DO UPDATE SET
			state = excluded.state,
			draft_json = excluded.draft_json,
			updated_at = excluded.updated_at`,
		d.AdminID, d.State, string(draftJSON), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *Store) DeleteDraft(ctx context.Context, adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM reward_drafts WHERE admin_id = ?`, adminID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return workflow.ErrDraftNotFound
	}
	return nil
}

// CommitDraft creates the definition and discards the draft atomically.
func (s *Store) CommitDraft(ctx context.Context, adminID string, def rewards.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.saveDefinitionTx(ctx, sqlTx, def); err != nil {
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM reward_drafts WHERE admin_id = ?`, adminID); err != nil {
		return fmt.Errorf("discard draft: %w", err)
	}
	return sqlTx.Commit()
}

// =============================================================================
// SWEEP RUNS - Daily sweep audit + idempotency record
// =============================================================================

// SweepRun records one execution of the daily streak-expiry sweep.
type SweepRun struct {
	ID           string
	Day          streak.Day
	Status       string // pending, running, completed, failed
	StreaksReset int
	Error        string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// SaveSweepRun upserts the run record for its day.
func (s *Store) SaveSweepRun(ctx context.Context, run SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, day, status, streaks_reset, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			status = excluded.status,
			streaks_reset = excluded.streaks_reset,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		run.ID, int64(run.Day), run.Status, run.StreaksReset, run.Error,
		formatTimePtr(run.StartedAt), formatTimePtr(run.CompletedAt), formatTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("save sweep run: %w", err)
	}
	return nil
}

// IsSweepComplete reports whether the day's sweep already finished.
func (s *Store) IsSweepComplete(ctx context.Context, day streak.Day) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sweep_runs WHERE day = ? AND status = 'completed'`,
		int64(day)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSweepRuns returns recent runs, newest day first.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, day, status, streaks_reset, error, started_at, completed_at, created_at
		FROM sweep_runs ORDER BY day DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		var run SweepRun
		var day int64
		var startedAt, completedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&run.ID, &day, &run.Status, &run.StreaksReset, &run.Error,
			&startedAt, &completedAt, &createdAt); err != nil {
			return nil, err
		}
		run.Day = streak.Day(day)
		if run.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		if run.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) (economy.Amount, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return economy.Amount{}, fmt.Errorf("bad amount %q: %w", s, err)
	}
	return economy.Amount{Value: v}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Interface conformance checks.
var (
	_ economy.Store         = (*Store)(nil)
	_ streak.Store          = (*Store)(nil)
	_ rewards.CatalogStore  = (*Store)(nil)
	_ rewards.GrantStore    = (*Store)(nil)
	_ rewards.ActivityStore = (*Store)(nil)
	_ workflow.DraftStore   = (*Store)(nil)
)
