package httpapi

import (
	"cicdcopilot/internal/core"
	"net/http"
)

type convertRequest struct {
	MopFileID int64  `json:"mopFileId"`
	Name      string `json:"name"`
}

type scriptRequest struct {
	JenkinsCode string `json:"jenkins_code"`
}

type executionRequest struct {
	PipelineID int64 `json:"pipelineId"`
}

func (h *Handler) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.ListPipelineSummaries(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var in core.PipelineInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	created, _, err := h.svc.CreatePipeline(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleConvertToPipeline(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.MopFileID <= 0 {
		writeError(w, http.StatusBadRequest, "mopFileId is required")
		return
	}
	detail, _, err := h.svc.ConvertMopToPipeline(r.Context(), req.MopFileID, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (h *Handler) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail, err := h.svc.GetPipelineDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var update core.PipelineUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		h.fail(w, r, err)
		return
	}
	updated, _, err := h.svc.UpdatePipeline(r.Context(), id, update)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.svc.DeletePipeline(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGeneratedScript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	script, err := h.svc.GeneratedScript(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jenkins_code": script})
}

func (h *Handler) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req scriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	updated, _, err := h.svc.UpdateGeneratedScript(r.Context(), id, req.JenkinsCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Jenkins code updated successfully",
		"pipeline": updated,
	})
}

func (h *Handler) handleResetScript(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	updated, _, err := h.svc.ResetGeneratedScript(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dot, err := h.svc.PipelineGraphDOT(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(dot))
}

func (h *Handler) handleListSteps(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	steps, err := h.svc.ListPipelineSteps(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (h *Handler) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	var in core.StepInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	created, _, err := h.svc.CreatePipelineStep(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	executions, err := h.svc.ListExecutions(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (h *Handler) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req executionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.PipelineID <= 0 {
		writeError(w, http.StatusBadRequest, "pipelineId is required")
		return
	}
	execution, _, err := h.svc.StartExecution(r.Context(), req.PipelineID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, execution)
}
