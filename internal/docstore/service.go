package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ureka/internal/storage"
)

// Service persists per-user chat documents: chats, messages, folders,
// uploaded files and chat attachments.
type Service struct {
	db     *sql.DB
	driver string
}

// NewService builds a document store over an opened database.
func NewService(db *sql.DB, driver string) *Service {
	return &Service{db: db, driver: storage.Normalize(driver)}
}

func (s *Service) q(query string) string {
	return storage.Rebind(s.driver, query)
}

func (s *Service) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.q(query), args...)
}

func (s *Service) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.q(query), args...)
}

func (s *Service) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.q(query), args...)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// affectedOrNotFound maps zero affected rows onto sql.ErrNoRows.
func affectedOrNotFound(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
