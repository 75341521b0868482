package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zhejian/linkboard/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound     = errors.New("link not found")
	ErrCodeConflict = errors.New("short code already exists")
)

// uniqueViolation is the SQLSTATE Postgres returns for a duplicate key.
const uniqueViolation = "23505"

var tracer = otel.Tracer("github.com/zhejian/linkboard/internal/repository")

// LinkRepositoryInterface is the persistence contract for links.
type LinkRepositoryInterface interface {
	Create(ctx context.Context, link *model.Link) error
	GetByCode(ctx context.Context, code string) (*model.Link, error)
	Resolve(ctx context.Context, code string) (*model.Target, error)
	Exists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]model.Link, error)
	IncrementClick(ctx context.Context, id int64) error
	Delete(ctx context.Context, code string) (bool, error)
}

// LinkRepository handles database operations for links.
// Every method borrows a connection from the pool for a single statement
// and returns it before the method returns.
type LinkRepository struct {
	db *pgxpool.Pool
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{db: db}
}

func startSpan(ctx context.Context, name, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", "links"),
	}
	return tracer.Start(ctx, name, trace.WithAttributes(append(base, attrs...)...))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Create inserts a new link and fills in the store-assigned columns.
func (r *LinkRepository) Create(ctx context.Context, link *model.Link) error {
	ctx, span := startSpan(ctx, "db.insert", "INSERT", attribute.String("code", link.Code))
	defer span.End()

	// The unique constraint on code is the authoritative collision check;
	// a duplicate surfaces as ErrCodeConflict.
	query := `
		INSERT INTO links (code, original_url)
		VALUES ($1, $2)
		RETURNING id, clicks, last_clicked, created_at
	`
	err := r.db.QueryRow(ctx, query, link.Code, link.OriginalURL).
		Scan(&link.ID, &link.Clicks, &link.LastClicked, &link.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCodeConflict
		}
		recordError(span, err)
		return err
	}

	return nil
}

// GetByCode retrieves a link by its short code
func (r *LinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	ctx, span := startSpan(ctx, "db.select", "SELECT", attribute.String("code", code))
	defer span.End()

	query := `
		SELECT id, code, original_url, clicks, last_clicked, created_at
		FROM links
		WHERE code = $1`
	var link model.Link
	err := r.db.QueryRow(ctx, query, code).Scan(
		&link.ID,
		&link.Code,
		&link.OriginalURL,
		&link.Clicks,
		&link.LastClicked,
		&link.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		recordError(span, err)
		return nil, err
	}
	return &link, nil
}

// Resolve returns the redirect target for a code
func (r *LinkRepository) Resolve(ctx context.Context, code string) (*model.Target, error) {
	ctx, span := startSpan(ctx, "db.resolve", "SELECT", attribute.String("code", code))
	defer span.End()

	var target model.Target
	err := r.db.QueryRow(ctx, `SELECT id, original_url FROM links WHERE code = $1`, code).
		Scan(&target.ID, &target.OriginalURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		recordError(span, err)
		return nil, err
	}
	return &target, nil
}

// Exists reports whether a code is taken. The answer is advisory only:
// a concurrent insert can still win before the caller's own insert.
func (r *LinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	ctx, span := startSpan(ctx, "db.exists", "SELECT", attribute.String("code", code))
	defer span.End()

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM links WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		recordError(span, err)
		return false, err
	}
	return exists, nil
}

// List returns every link, newest first
func (r *LinkRepository) List(ctx context.Context) ([]model.Link, error) {
	ctx, span := startSpan(ctx, "db.list", "SELECT")
	defer span.End()

	query := `
		SELECT id, code, original_url, clicks, last_clicked, created_at
		FROM links
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	defer rows.Close()

	links := make([]model.Link, 0)
	for rows.Next() {
		var link model.Link
		if err := rows.Scan(
			&link.ID,
			&link.Code,
			&link.OriginalURL,
			&link.Clicks,
			&link.LastClicked,
			&link.CreatedAt,
		); err != nil {
			recordError(span, err)
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.rows", len(links)))
	return links, nil
}

// IncrementClick counts one redirect. The read-modify-write happens inside
// a single UPDATE so concurrent redirects of the same link never lose a click.
func (r *LinkRepository) IncrementClick(ctx context.Context, id int64) error {
	ctx, span := startSpan(ctx, "db.update", "UPDATE", attribute.Int64("link.id", id))
	defer span.End()

	query := `
		UPDATE links
		SET clicks = clicks + 1, last_clicked = NOW()
		WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		recordError(span, err)
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a link by its short code and reports whether a row was removed.
func (r *LinkRepository) Delete(ctx context.Context, code string) (bool, error) {
	ctx, span := startSpan(ctx, "db.delete", "DELETE", attribute.String("code", code))
	defer span.End()

	result, err := r.db.Exec(ctx, `DELETE FROM links WHERE code = $1`, code)
	if err != nil {
		recordError(span, err)
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// Now returns the database clock. Used by the connectivity check endpoint.
func (r *LinkRepository) Now(ctx context.Context) (time.Time, error) {
	ctx, span := startSpan(ctx, "db.now", "SELECT")
	defer span.End()

	var now time.Time
	if err := r.db.QueryRow(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		recordError(span, err)
		return time.Time{}, err
	}
	return now, nil
}

var _ LinkRepositoryInterface = (*LinkRepository)(nil)
