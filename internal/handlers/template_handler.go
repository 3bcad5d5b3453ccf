package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jdtask/backend/internal/models"
)

// TemplateStore is the slice of the template projection the handler uses.
type TemplateStore interface {
	List(ctx context.Context, userID uuid.UUID) ([]*models.TaskTemplate, error)
	UpdateRemark(ctx context.Context, id, userID uuid.UUID, remark string) error
	Rebuild(ctx context.Context, userID uuid.UUID) error
}

type TemplateHandler struct {
	store TemplateStore
	users UserGetter
	log   *slog.Logger
}

func NewTemplateHandler(store TemplateStore, users UserGetter, log *slog.Logger) *TemplateHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TemplateHandler{store: store, users: users, log: log}
}

// List handles GET /v1/templates: the caller's templates, most used first.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r, h.users)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	templates, err := h.store.List(r.Context(), actor.ID)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	if templates == nil {
		templates = []*models.TaskTemplate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

type remarkRequest struct {
	Remark string `json:"remark"`
}

// UpdateRemark handles PUT /v1/templates/{id}/remark.
func (h *TemplateHandler) UpdateRemark(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r, h.users)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid template id", http.StatusBadRequest)
		return
	}
	var req remarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.store.UpdateRemark(r.Context(), id, actor.ID, req.Remark); err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id.String(), "remark": req.Remark})
}

// Rebuild handles POST /v1/templates/rebuild: recompute the caller's
// projection from task history. The repair path for projection drift.
func (h *TemplateHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r, h.users)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.store.Rebuild(r.Context(), actor.ID); err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rebuilt": true})
}
