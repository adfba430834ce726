package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

type runResponse struct {
	Status        string   `json:"status"`
	RunID         string   `json:"run_id,omitempty"`
	TaskFailures  []string `json:"task_failures"`
	DeliveryError string   `json:"delivery_error,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type statusResponse struct {
	LastRun     *time.Time           `json:"last_run"`
	NextRun     *time.Time           `json:"next_run"`
	LastMetrics *maintenance.Metrics `json:"last_metrics"`
}

// handleTriggerRun runs maintenance synchronously. The run outlives a
// disconnecting client; the orchestrator's own timeout bounds it.
func (a *API) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	reqID := middleware.GetReqID(r.Context())

	a.logger.Info("manual maintenance run requested", "request_id", reqID)
	outcome, err := a.runner.Run(ctx)
	if errors.Is(err, maintenance.ErrRunInProgress) {
		respondError(w, http.StatusConflict, err)
		return
	}

	resp := runResponse{
		Status:       outcome.Status.String(),
		TaskFailures: []string{},
	}
	if outcome.Report != nil {
		resp.RunID = outcome.Report.RunID
	}
	for _, t := range outcome.TaskFailures() {
		resp.TaskFailures = append(resp.TaskFailures, t.Step.String()+": "+t.Err.Error())
	}
	if outcome.DeliveryErr != nil {
		resp.DeliveryError = outcome.DeliveryErr.Error()
	}

	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, resp)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.state.LoadRunState(r.Context())
	if err != nil {
		a.logger.Error("failed to load run state", "error", err)
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statusResponse{LastRun: st.LastRun, LastMetrics: st.Metrics}
	if a.planner != nil {
		if next := a.planner.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
