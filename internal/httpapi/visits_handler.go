package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"dental-bot/internal/export"
	"dental-bot/internal/models"
	"dental-bot/internal/repository"

	"go.uber.org/zap"
)

// VisitsHandler serves the stored visits to staff tools.
type VisitsHandler struct {
	visits repository.VisitsRepository
	build  func([]models.PatientVisit) ([]byte, error)
	logger *zap.Logger
}

func NewVisitsHandler(visits repository.VisitsRepository, logger *zap.Logger) *VisitsHandler {
	return &VisitsHandler{visits: visits, build: export.BuildVisitsWorkbook, logger: logger}
}

// VisitsList is the result of GET /api/v1/visits.
type VisitsList struct {
	Items []models.PatientVisit `json:"items"`
	Total int                   `json:"total"`
}

// ListVisits 列出就诊记录; ?limit=N keeps the last N rows.
func (h *VisitsHandler) ListVisits(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeFail(w, ResultBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	items, err := h.visits.ListAll(r.Context())
	if err != nil {
		h.logger.Error("ListAll failed", zap.Error(err))
		writeFail(w, ResultStoreUnavailable, fmt.Sprintf("failed to list visits: %v", err))
		return
	}

	total := len(items)
	if limit > 0 && limit < total {
		items = items[total-limit:]
	}
	if items == nil {
		items = []models.PatientVisit{}
	}
	writeJSON(w, http.StatusOK, Ok(VisitsList{Items: items, Total: total}))
}

// ExportVisits 导出就诊记录 (xlsx)
func (h *VisitsHandler) ExportVisits(w http.ResponseWriter, r *http.Request) {
	items, err := h.visits.ListAll(r.Context())
	if err != nil {
		h.logger.Error("ListAll failed for export", zap.Error(err))
		writeFail(w, ResultStoreUnavailable, fmt.Sprintf("failed to list visits: %v", err))
		return
	}

	excelData, err := h.build(items)
	if err != nil {
		h.logger.Error("BuildVisitsWorkbook failed", zap.Error(err))
		writeFail(w, ResultExportFailed, fmt.Sprintf("failed to generate export: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=patients_export.xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(excelData)
}
