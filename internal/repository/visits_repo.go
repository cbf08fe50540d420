package repository

import (
	"context"

	"dental-bot/internal/models"
)

// VisitsRepository 就诊记录仓库
// Append is atomic and the store assigns IDs; ListAll returns visits by ID ascending.
type VisitsRepository interface {
	Append(ctx context.Context, fields models.VisitFields) (int64, error)
	ListAll(ctx context.Context) ([]models.PatientVisit, error)
}
