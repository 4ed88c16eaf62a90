package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// wrap tags database failures as PERSISTENCE and leaves already-kinded and
// state machine errors untouched.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrTerminalState) {
		return err
	}
	return apperr.E(apperr.KindPersistence, op, err)
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var (
		doc    models.Document
		reason *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, file_id, status, failure_reason, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.FileID, &doc.Status, &reason, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Errorf(apperr.KindNotFound, "postgres.GetDocument", "document %s", id)
	}
	if err != nil {
		return nil, wrap("postgres.GetDocument", err)
	}
	if reason != nil {
		doc.FailureReason = *reason
	}
	return &doc, nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, target models.Status, reason string) (models.TransitionOutcome, error) {
	var outcome models.TransitionOutcome
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		outcome, err = transitionTx(ctx, tx, id, target, reason)
		return err
	})
	return outcome, wrap("postgres.TransitionStatus", err)
}

func transitionTx(ctx context.Context, tx pgx.Tx, id string, target models.Status, reason string) (models.TransitionOutcome, error) {
	var current models.Status
	err := tx.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.Errorf(apperr.KindNotFound, "postgres.TransitionStatus", "document %s", id)
	}
	if err != nil {
		return 0, err
	}

	outcome, err := models.DecideTransition(current, target)
	if err != nil || outcome != models.TransitionApply {
		return outcome, err
	}

	var failureReason *string
	if target == models.StatusFailed {
		failureReason = &reason
	}
	_, err = tx.Exec(ctx, `
		UPDATE documents
		SET status = $2, failure_reason = COALESCE($3, failure_reason), updated_at = now()
		WHERE id = $1`, id, string(target), failureReason)
	return outcome, err
}

func (s *Store) GetFile(ctx context.Context, id string) (*models.StoredFile, error) {
	var f models.StoredFile
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, extension, base_url, folder, file_key, url, size, content_type, created_at
		FROM stored_files WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.Extension, &f.BaseURL, &f.Folder, &f.Key, &f.URL, &f.Size, &f.ContentType, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Errorf(apperr.KindNotFound, "postgres.GetFile", "file %s", id)
	}
	if err != nil {
		return nil, wrap("postgres.GetFile", err)
	}
	return &f, nil
}

func (s *Store) InsertRawText(ctx context.Context, rt *models.RawText) error {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO raw_texts (id, file_id, content) VALUES ($1, $2, $3)
		RETURNING created_at`, rt.ID, rt.FileID, rt.Content,
	).Scan(&rt.CreatedAt)
	return wrap("postgres.InsertRawText", err)
}

func (s *Store) LatestRawText(ctx context.Context, fileID string) (*models.RawText, error) {
	var rt models.RawText
	err := s.pool.QueryRow(ctx, `
		SELECT id, file_id, content, created_at FROM raw_texts
		WHERE file_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, fileID,
	).Scan(&rt.ID, &rt.FileID, &rt.Content, &rt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Errorf(apperr.KindNotFound, "postgres.LatestRawText", "no raw text for file %s", fileID)
	}
	if err != nil {
		return nil, wrap("postgres.LatestRawText", err)
	}
	return &rt, nil
}

func (s *Store) CompleteStructuring(ctx context.Context, result *models.StructuredResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current models.Status
		err := tx.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, result.DocumentID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Errorf(apperr.KindNotFound, "postgres.CompleteStructuring", "document %s", result.DocumentID)
		}
		if err != nil {
			return err
		}
		outcome, err := models.DecideTransition(current, models.StatusStructuringDone)
		if err != nil {
			return apperr.E(apperr.KindPersistence, "postgres.CompleteStructuring", err)
		}
		if outcome != models.TransitionApply {
			return apperr.Errorf(apperr.KindPersistence, "postgres.CompleteStructuring",
				"document %s is %s: %w", result.DocumentID, current, models.ErrInvalidTransition)
		}

		if err := insertResult(ctx, tx, result); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
			result.DocumentID, string(models.StatusStructuringDone))
		return err
	})
	return wrap("postgres.CompleteStructuring", err)
}

func insertResult(ctx context.Context, tx pgx.Tx, r *models.StructuredResult) error {
	if err := tx.QueryRow(ctx, `
		INSERT INTO structured_results (id, document_id) VALUES ($1, $2)
		RETURNING created_at`, r.ID, r.DocumentID,
	).Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	e := r.Establishment
	if _, err := tx.Exec(ctx, `
		INSERT INTO result_establishments
			(result_id, name, tax_id, state_registration, street, number, complement, neighborhood, city, state, postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, e.Name, e.TaxID, e.StateRegistration, e.Address.Street, e.Address.Number, e.Address.Complement,
		e.Address.Neighborhood, e.Address.City, e.Address.State, e.Address.PostalCode,
	); err != nil {
		return fmt.Errorf("insert establishment: %w", err)
	}

	d := r.Document
	if _, err := tx.Exec(ctx, `
		INSERT INTO result_documents
			(result_id, type, description, series, number, issue_date, access_key, consult_url, receipt_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, d.Type, d.Description, d.Series, d.Number, d.IssueDate, d.AccessKey, d.ConsultURL, d.ReceiptURL,
	); err != nil {
		return fmt.Errorf("insert document meta: %w", err)
	}

	if len(r.Items) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"result_items"},
			[]string{"result_id", "position", "code", "description", "quantity", "unit", "unit_price", "total_price", "category"},
			pgx.CopyFromSlice(len(r.Items), func(i int) ([]any, error) {
				it := r.Items[i]
				return []any{r.ID, i, it.Code, it.Description, it.Quantity, it.Unit, it.UnitPrice, it.TotalPrice, it.Category}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy items: %w", err)
		}
	}

	t := r.Totals
	if _, err := tx.Exec(ctx, `
		INSERT INTO result_totals (result_id, total_items, subtotal, total, payment_method)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, t.TotalItems, t.Subtotal, t.Total, t.PaymentMethod,
	); err != nil {
		return fmt.Errorf("insert totals: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO result_customers (result_id, identified) VALUES ($1, $2)`,
		r.ID, r.Customer.Identified); err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *Store) LatestResult(ctx context.Context, documentID string) (*models.StructuredResult, error) {
	var r models.StructuredResult
	e, d, t := &r.Establishment, &r.Document, &r.Totals
	err := s.pool.QueryRow(ctx, `
		SELECT sr.id, sr.document_id, sr.created_at,
		       e.name, e.tax_id, e.state_registration, e.street, e.number, e.complement,
		       e.neighborhood, e.city, e.state, e.postal_code,
		       d.type, d.description, d.series, d.number, d.issue_date, d.access_key, d.consult_url, d.receipt_url,
		       t.total_items, t.subtotal, t.total, t.payment_method,
		       c.identified
		FROM structured_results sr
		JOIN result_establishments e ON e.result_id = sr.id
		JOIN result_documents d ON d.result_id = sr.id
		JOIN result_totals t ON t.result_id = sr.id
		JOIN result_customers c ON c.result_id = sr.id
		WHERE sr.document_id = $1
		ORDER BY sr.created_at DESC, sr.id DESC
		LIMIT 1`, documentID,
	).Scan(
		&r.ID, &r.DocumentID, &r.CreatedAt,
		&e.Name, &e.TaxID, &e.StateRegistration, &e.Address.Street, &e.Address.Number, &e.Address.Complement,
		&e.Address.Neighborhood, &e.Address.City, &e.Address.State, &e.Address.PostalCode,
		&d.Type, &d.Description, &d.Series, &d.Number, &d.IssueDate, &d.AccessKey, &d.ConsultURL, &d.ReceiptURL,
		&t.TotalItems, &t.Subtotal, &t.Total, &t.PaymentMethod,
		&r.Customer.Identified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("postgres.LatestResult", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT code, description, quantity, unit, unit_price, total_price, category
		FROM result_items WHERE result_id = $1 ORDER BY position`, r.ID)
	if err != nil {
		return nil, wrap("postgres.LatestResult", err)
	}
	r.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LineItem, error) {
		var it models.LineItem
		err := row.Scan(&it.Code, &it.Description, &it.Quantity, &it.Unit, &it.UnitPrice, &it.TotalPrice, &it.Category)
		return it, err
	})
	if err != nil {
		return nil, wrap("postgres.LatestResult", err)
	}
	return &r, nil
}

func (s *Store) CreateSubmission(ctx context.Context, file *models.StoredFile, doc *models.Document, msg *models.OutboxMessage) error {
	now := time.Now().UTC()
	file.CreatedAt = now
	doc.CreatedAt, doc.UpdatedAt = now, now
	msg.CreatedAt = now

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stored_files (id, name, extension, base_url, folder, file_key, url, size, content_type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			file.ID, file.Name, file.Extension, file.BaseURL, file.Folder, file.Key, file.URL, file.Size, file.ContentType, now,
		); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO documents (id, file_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)`,
			doc.ID, doc.FileID, string(doc.Status), now,
		); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO outbox (id, document_id, queue, task_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, msg.DocumentID, msg.Queue, msg.TaskType, msg.Payload, now,
		); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		return nil
	})
	return wrap("postgres.CreateSubmission", err)
}

func (s *Store) PendingOutbox(ctx context.Context, createdBefore time.Time, limit int) ([]models.OutboxMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, queue, task_type, payload, attempts, COALESCE(last_error, ''), created_at
		FROM outbox
		WHERE dispatched_at IS NULL AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, wrap("postgres.PendingOutbox", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OutboxMessage, error) {
		var m models.OutboxMessage
		err := row.Scan(&m.ID, &m.DocumentID, &m.Queue, &m.TaskType, &m.Payload, &m.Attempts, &m.LastError, &m.CreatedAt)
		return m, err
	})
	return msgs, wrap("postgres.PendingOutbox", err)
}

func (s *Store) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE outbox SET dispatched_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return wrap("postgres.MarkDispatched", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Errorf(apperr.KindNotFound, "postgres.MarkDispatched", "outbox message %s", id)
	}
	return nil
}

func (s *Store) RecordOutboxFailure(ctx context.Context, id string, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
	return wrap("postgres.RecordOutboxFailure", err)
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap("postgres.Ping", s.pool.Ping(ctx))
}

func (s *Store) Close() {
	s.pool.Close()
}
