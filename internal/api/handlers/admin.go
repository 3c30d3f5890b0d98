package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/sitewatch/sitewatch/internal/api/errors"
	"github.com/sitewatch/sitewatch/internal/api/middleware"
	"github.com/sitewatch/sitewatch/internal/scheduler"
)

// AdminHandler serves the bearer-guarded operator endpoints.
type AdminHandler struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(sched *scheduler.Scheduler, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{sched: sched, logger: logger}
}

// SchedulerStats handles GET /api/v1/admin/scheduler/stats.
func (h *AdminHandler) SchedulerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sched.Stats(r.Context())
	if err != nil {
		h.logger.Error("scheduler stats failed", "error", err)
		apierrors.WriteError(w, apierrors.InternalError("failed to read scheduler stats").WithRequestID(middleware.GetRequestID(r.Context())))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"full_check_scheduled":        stats.FullCheckScheduled,
		"lightweight_check_scheduled": stats.LightweightCheckScheduled,
		"cooldowns_active":            stats.CooldownsActive,
		"intervals_tracked":           stats.IntervalsTracked,
	})
}
