package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	homeID, err := strconv.ParseUint(chi.URLParam(r, "homeId"), 10, 64)
	if err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid homeId"))
		return
	}
	rows, err := s.repo.ListAutomationRules(r.Context(), homeID)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to list automation rules", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	homeID, err := strconv.ParseUint(chi.URLParam(r, "homeId"), 10, 64)
	if err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid homeId"))
		return
	}
	var rule store.AutomationRule
	if err := decodeJSON(r, &rule); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	rule.ID = 0
	rule.HomeID = homeID
	if err := s.repo.CreateAutomationRule(r.Context(), &rule); err != nil {
		apierr.Write(w, apierr.InternalErr("failed to create automation rule", err))
		return
	}
	s.automation.ReconcileHome(r.Context(), homeID)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid automation id"))
		return
	}
	existing, err := s.repo.GetAutomationRule(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.NotFoundErr("automation rule not found"))
		return
	}
	var rule store.AutomationRule
	if err := decodeJSON(r, &rule); err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid request body"))
		return
	}
	rule.ID = id
	if err := s.repo.UpdateAutomationRule(r.Context(), &rule); err != nil {
		apierr.Write(w, apierr.InternalErr("failed to update automation rule", err))
		return
	}
	s.automation.ReconcileHome(r.Context(), existing.HomeID)
	updated, err := s.repo.GetAutomationRule(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to reload automation rule", err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierr.Write(w, apierr.ValidationErr("invalid automation id"))
		return
	}
	existing, err := s.repo.GetAutomationRule(r.Context(), id)
	if err != nil {
		apierr.Write(w, apierr.NotFoundErr("automation rule not found"))
		return
	}
	if err := s.repo.DeleteAutomationRule(r.Context(), id); err != nil {
		apierr.Write(w, apierr.InternalErr("failed to delete automation rule", err))
		return
	}
	s.automation.ReconcileHome(r.Context(), existing.HomeID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSetAutomationEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			apierr.Write(w, apierr.ValidationErr("invalid automation id"))
			return
		}
		existing, err := s.repo.GetAutomationRule(r.Context(), id)
		if err != nil {
			apierr.Write(w, apierr.NotFoundErr("automation rule not found"))
			return
		}
		if err := s.repo.SetAutomationRuleEnabled(r.Context(), id, enabled); err != nil {
			apierr.Write(w, apierr.InternalErr("failed to update automation rule", err))
			return
		}
		s.automation.ReconcileHome(r.Context(), existing.HomeID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleAutomationStatusForHub(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	hub, err := s.repo.GetHub(r.Context(), hubID)
	if err != nil {
		apierr.Write(w, apierr.NotFoundErr("hub not found"))
		return
	}
	dep, err := s.repo.GetAutomationDeployment(r.Context(), hubID, hub.HomeID)
	if err != nil {
		apierr.Write(w, apierr.InternalErr("failed to load automation deployment status", err))
		return
	}
	writeJSON(w, http.StatusOK, dep)
}
