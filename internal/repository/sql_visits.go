package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"dental-bot/internal/database"
	"dental-bot/internal/models"

	"go.uber.org/zap"
)

const (
	insertVisitSQLite = `
		INSERT INTO patients (name, date, service, cost, paid)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	insertVisitPostgres = `
		INSERT INTO patients (name, date, service, cost, paid)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	listVisits = `
		SELECT id, name, date, service, cost, paid
		FROM patients
		ORDER BY id ASC
	`
)

// SQLVisitsRepository stores visits in the patients table of a sqlite or
// postgres database.
type SQLVisitsRepository struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *zap.Logger

	// single writer: appends from different conversations never interleave
	writeMu sync.Mutex
}

// NewSQLVisitsRepository 创建就诊记录仓库
func NewSQLVisitsRepository(db *sql.DB, dialect database.Dialect, logger *zap.Logger) *SQLVisitsRepository {
	return &SQLVisitsRepository{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// Append inserts one visit inside a transaction and returns its new ID.
func (r *SQLVisitsRepository) Append(ctx context.Context, f models.VisitFields) (int64, error) {
	query := insertVisitSQLite
	if r.dialect == database.DialectPostgres {
		query = insertVisitPostgres
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, query, f.Name, f.Date, f.Service, f.Cost, f.Paid).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert visit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit visit: %w", err)
	}

	r.logger.Debug("Visit appended",
		zap.Int64("visit_id", id),
		zap.String("service", f.Service),
	)
	return id, nil
}

// ListAll returns every visit ordered by ID.
func (r *SQLVisitsRepository) ListAll(ctx context.Context) ([]models.PatientVisit, error) {
	rows, err := r.db.QueryContext(ctx, listVisits)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	visits := []models.PatientVisit{}
	for rows.Next() {
		var v models.PatientVisit
		if err := rows.Scan(&v.ID, &v.Name, &v.Date, &v.Service, &v.Cost, &v.Paid); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visits: %w", err)
	}
	return visits, nil
}
