package httpapi

import (
	"cicdcopilot/internal/core"
	"cicdcopilot/pkg/domain"
	"net/http"
)

func (h *Handler) handleListShared(w http.ResponseWriter, r *http.Request) {
	shared, err := h.svc.ListSharedPipelines(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shared)
}

func (h *Handler) handleSharePipeline(w http.ResponseWriter, r *http.Request) {
	var in core.ShareInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	share, _, err := h.svc.SharePipeline(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

func (h *Handler) handleListTeam(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.ListTeamMembers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	var in core.TeamMemberInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	member, _, err := h.svc.AddTeamMember(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	settings, err := h.svc.GetIntegrationSettings(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var in domain.IntegrationSettings
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	settings, _, err := h.svc.UpdateIntegrationSettings(r.Context(), userID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
