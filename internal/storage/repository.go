package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"donat/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is how created_at is persisted. Daily stat bucket keys use the
// local calendar date only.
const (
	timeLayout = time.RFC3339Nano
	dayLayout  = "2006-01-02"
)

// SQLiteRepository is the persistent ledger. It also carries the archive
// bookkeeping the worker uses (archived / archive_error flags per donation).
type SQLiteRepository struct {
	db *sql.DB

	// now is swappable for tests.
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateDonation implements ledger.Store. Statistics are untouched here;
// they move only when a donation completes.
func (r *SQLiteRepository) CreateDonation(ctx context.Context, d core.NewDonation) (core.Donation, error) {
	if err := d.Validate(); err != nil {
		return core.Donation{}, err
	}

	createdAt := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO donations (payment_id, amount_kopecks, source, provider, crypto_address, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
		d.PaymentID, d.Amount.Kopecks, string(d.Source), string(d.Provider), d.CryptoAddress,
		createdAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Donation{}, core.ErrDuplicatePayment
		}
		return core.Donation{}, fmt.Errorf("insert donation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Donation{}, fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Donation saved",
		"id", id,
		"payment_id", d.PaymentID,
		"amount_kopecks", d.Amount.Kopecks,
		"source", d.Source,
		"provider", d.Provider)

	return core.Donation{
		ID:            id,
		PaymentID:     d.PaymentID,
		Amount:        d.Amount,
		Source:        d.Source,
		Provider:      d.Provider,
		Status:        core.StatusPending,
		CryptoAddress: d.CryptoAddress,
		CreatedAt:     createdAt,
	}, nil
}

func (r *SQLiteRepository) GetByPaymentID(ctx context.Context, paymentID string) (core.Donation, error) {
	row := r.db.QueryRowContext(ctx, selectDonation+` WHERE payment_id = ?`, paymentID)
	return scanDonation(row)
}

// GetDonation looks a donation up by its ledger id. The archive worker uses
// this to resolve queue messages.
func (r *SQLiteRepository) GetDonation(ctx context.Context, id int64) (core.Donation, error) {
	row := r.db.QueryRowContext(ctx, selectDonation+` WHERE id = ?`, id)
	return scanDonation(row)
}

func (r *SQLiteRepository) AttachMetadata(ctx context.Context, id int64, name, note string) (core.Donation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Donation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectDonation+` WHERE id = ?`, id)
	don, err := scanDonation(row)
	if err != nil {
		return core.Donation{}, err
	}

	don = core.MergeMetadata(don, name, note)
	if _, err := tx.ExecContext(ctx,
		`UPDATE donations SET name = ?, note = ? WHERE id = ?`,
		don.Name, don.Note, id); err != nil {
		return core.Donation{}, fmt.Errorf("update metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Donation{}, fmt.Errorf("commit: %w", err)
	}
	return don, nil
}

// SetStatus applies a status transition inside a transaction. The UPDATE is
// conditional on status='pending', so a concurrent settle of the same
// donation observes zero affected rows and skips the stat increment.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id int64, status core.Status) (core.Donation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Donation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectDonation+` WHERE id = ?`, id)
	don, err := scanDonation(row)
	if err != nil {
		return core.Donation{}, err
	}

	if don.Status == status || don.Status.Terminal() {
		return don, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE donations SET status = ? WHERE id = ? AND status = 'pending'`,
		string(status), id)
	if err != nil {
		return core.Donation{}, fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Donation{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the race: someone else already moved it to a terminal state.
		return don, tx.Commit()
	}

	if status == core.StatusCompleted {
		day := core.TruncateToDay(don.CreatedAt).Format(dayLayout)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO daily_stats (day, total_amount, count) VALUES (?, ?, 1)
			ON CONFLICT(day) DO UPDATE SET
				total_amount = total_amount + excluded.total_amount,
				count = count + 1`,
			day, don.Amount.Kopecks); err != nil {
			return core.Donation{}, fmt.Errorf("increment daily stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Donation{}, fmt.Errorf("commit: %w", err)
	}

	don.Status = status
	slog.InfoContext(ctx, "Donation status updated", "id", id, "status", status)
	return don, nil
}

func (r *SQLiteRepository) Stats(ctx context.Context) (core.Stats, error) {
	var out core.Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_kopecks), 0), COUNT(*)
		FROM donations WHERE status = 'completed'`).
		Scan(&out.TotalAmount, &out.TotalCount)
	if err != nil {
		return core.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	if out.TotalCount > 0 {
		out.AverageAmount = int64(math.Round(float64(out.TotalAmount) / float64(out.TotalCount)))
	}
	return out, nil
}

func (r *SQLiteRepository) WeeklyStats(ctx context.Context) ([]core.DailyStat, error) {
	today := core.TruncateToDay(r.now())
	weekStart := today.AddDate(0, 0, -6)

	rows, err := r.db.QueryContext(ctx, `
		SELECT day, total_amount, count FROM daily_stats
		WHERE day >= ? AND day <= ?
		ORDER BY day ASC`,
		weekStart.Format(dayLayout), today.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("query weekly stats: %w", err)
	}
	defer rows.Close()

	var out []core.DailyStat
	for rows.Next() {
		var day string
		var stat core.DailyStat
		if err := rows.Scan(&day, &stat.TotalAmount, &stat.Count); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		d, err := time.ParseInLocation(dayLayout, day, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parse stat day %q: %w", day, err)
		}
		stat.Date = d
		out = append(out, stat)
	}
	return out, rows.Err()
}

// PendingArchiveDonation is the minimal shape the archive worker needs when
// catching up on donations whose queue message was lost.
type PendingArchiveDonation struct {
	ID        int64
	CreatedAt time.Time
}

// GetPendingArchive returns completed donations not yet archived to the
// sheet, oldest first.
func (r *SQLiteRepository) GetPendingArchive(ctx context.Context, limit int) ([]PendingArchiveDonation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at FROM donations
		WHERE status = 'completed' AND archived = 0 AND archive_error = 0
		ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending archive: %w", err)
	}
	defer rows.Close()

	var out []PendingArchiveDonation
	for rows.Next() {
		var p PendingArchiveDonation
		var created string
		if err := rows.Scan(&p.ID, &created); err != nil {
			return nil, fmt.Errorf("scan pending archive: %w", err)
		}
		t, err := time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		p.CreatedAt = t
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkArchived marks a donation as successfully appended to the sheet.
func (r *SQLiteRepository) MarkArchived(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE donations SET archived = 1, archive_error = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	slog.InfoContext(ctx, "Donation marked as archived", "id", id)
	return nil
}

// MarkArchiveError flags a donation so the catch-up pass stops retrying it.
func (r *SQLiteRepository) MarkArchiveError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE donations SET archive_error = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark archive error: %w", err)
	}
	slog.WarnContext(ctx, "Donation marked with archive error", "id", id)
	return nil
}

const selectDonation = `
	SELECT id, payment_id, amount_kopecks, name, note, source, provider, status, crypto_address, created_at
	FROM donations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row rowScanner) (core.Donation, error) {
	var d core.Donation
	var source, provider, status, created string
	err := row.Scan(&d.ID, &d.PaymentID, &d.Amount.Kopecks, &d.Name, &d.Note,
		&source, &provider, &status, &d.CryptoAddress, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Donation{}, core.ErrNotFound
	}
	if err != nil {
		return core.Donation{}, fmt.Errorf("scan donation: %w", err)
	}
	d.Source = core.Source(source)
	d.Provider = core.Provider(provider)
	d.Status = core.Status(status)
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return core.Donation{}, fmt.Errorf("parse created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text;
	// there is no exported sentinel to compare against.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
