/**
 * @description
 * This file implements the data access layer for the scheduler-service.
 * It owns the connection pool and the helpers shared by the subscription
 * and webhook delivery queries.
 */
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDeliveryNotFound     = errors.New("webhook delivery not found")
	ErrDuplicateDelivery    = errors.New("webhook delivery already exists for event and endpoint")
)

// maxDiagnosticLength bounds error text and response bodies stored in audit rows.
const maxDiagnosticLength = 2000

//go:embed schema.sql
var schemaSQL string

// Repository handles database operations for the scheduler.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Schema returns the embedded DDL.
func Schema() string {
	return schemaSQL
}

// sanitizeText makes value storable in a TEXT column: invalid UTF-8 and NUL bytes
// are dropped and the result is cut to at most limit bytes on a rune boundary.
func sanitizeText(value string, limit int) string {
	value = strings.ToValidUTF8(value, "")
	value = strings.ReplaceAll(value, "\x00", "")
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func nullableText(value string) *string {
	v := sanitizeText(value, maxDiagnosticLength)
	if v == "" {
		return nil
	}
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
