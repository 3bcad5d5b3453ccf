package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jdtask/backend/internal/execution"
	"github.com/jdtask/backend/internal/lifecycle"
	"github.com/jdtask/backend/internal/models"
	"github.com/jdtask/backend/internal/repository"
)

// LifecycleService is the slice of the lifecycle service the task handler
// uses.
type LifecycleService interface {
	Create(ctx context.Context, actor *models.User, in lifecycle.CreateInput) (*models.Task, *models.LedgerRecord, error)
	CreateBatch(ctx context.Context, actor *models.User, items []lifecycle.CreateInput) (*lifecycle.BatchResult, error)
	Cancel(ctx context.Context, actor *models.User, taskID uuid.UUID) (*models.Task, int, int, error)
	Edit(ctx context.Context, actor *models.User, taskID uuid.UUID, in lifecycle.EditInput) (*models.Task, int, error)
	Get(ctx context.Context, actor *models.User, taskID uuid.UUID) (*models.Task, error)
	List(ctx context.Context, actor *models.User, f repository.TaskFilter) ([]*models.Task, int64, error)
}

// UserGetter resolves the authenticated identity to a full user row.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TypeLister serves the task-type listing.
type TypeLister interface {
	List(ctx context.Context) ([]*models.TaskType, error)
}

// EnqueueReportFunc hands a device report to the job queue.
type EnqueueReportFunc func(ctx context.Context, args execution.ReportProgressArgs) error

type TaskHandler struct {
	svc           LifecycleService
	users         UserGetter
	types         TypeLister
	enqueueReport EnqueueReportFunc
	log           *slog.Logger
}

func NewTaskHandler(svc LifecycleService, users UserGetter, types TypeLister, enqueue EnqueueReportFunc, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{svc: svc, users: users, types: types, enqueueReport: enqueue, log: log}
}

func (h *TaskHandler) actor(r *http.Request) (*models.User, bool) {
	return actorFromRequest(r, h.users)
}

type taskResponse struct {
	TaskID         string    `json:"task_id"`
	TaskType       string    `json:"task_type"`
	SKU            string    `json:"sku"`
	ShopName       string    `json:"shop_name,omitempty"`
	Keyword        string    `json:"keyword,omitempty"`
	StartTime      time.Time `json:"start_time"`
	ExecuteCount   int       `json:"execute_count"`
	ExecutedCount  int       `json:"executed_count"`
	Priority       int       `json:"priority"`
	Status         string    `json:"status"`
	ConsumeJingdou int       `json:"consume_jingdou"`
	Remark         string    `json:"remark,omitempty"`
	CanCancel      bool      `json:"can_cancel"`
	CanEdit        bool      `json:"can_edit"`
	CreatedAt      time.Time `json:"created_at"`
}

func taskToResponse(t *models.Task, now time.Time) taskResponse {
	return taskResponse{
		TaskID:         t.ID.String(),
		TaskType:       t.TaskType,
		SKU:            t.SKU,
		ShopName:       t.ShopName,
		Keyword:        t.Keyword,
		StartTime:      t.StartTime,
		ExecuteCount:   t.ExecuteCount,
		ExecutedCount:  t.ExecutedCount,
		Priority:       t.Priority,
		Status:         t.EffectiveStatus(now),
		ConsumeJingdou: t.ConsumeJingdou,
		Remark:         t.Remark,
		CanCancel:      t.Cancellable(now),
		CanEdit:        t.Editable(now),
		CreatedAt:      t.CreatedAt,
	}
}

// Create handles POST /v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var in lifecycle.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	task, rec, err := h.svc.Create(r.Context(), actor, in)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	balance := actor.JingdouBalance
	if rec != nil {
		balance = rec.BalanceAfter
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"task_id":         task.ID.String(),
		"consume_jingdou": task.ConsumeJingdou,
		"balance":         balance,
	})
}

type batchCreateRequest struct {
	Tasks []lifecycle.CreateInput `json:"tasks"`
}

type batchCreatedTask struct {
	TaskID         string `json:"task_id"`
	SKU            string `json:"sku"`
	ConsumeJingdou int    `json:"consume_jingdou"`
}

// CreateBatch handles POST /v1/tasks/batch.
func (h *TaskHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	res, err := h.svc.CreateBatch(r.Context(), actor, req.Tasks)
	if err != nil {
		writeError(h.log, w, err)
		return
	}

	created := make([]batchCreatedTask, 0, len(res.Created))
	for _, t := range res.Created {
		created = append(created, batchCreatedTask{TaskID: t.ID.String(), SKU: t.SKU, ConsumeJingdou: t.ConsumeJingdou})
	}
	balance := actor.JingdouBalance
	if u, err := h.users.GetByID(r.Context(), actor.ID); err == nil {
		balance = u.JingdouBalance
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success_count": res.SuccessCount,
		"fail_count":    res.FailCount,
		"total_consume": res.TotalConsume,
		"balance":       balance,
		"created_tasks": created,
		"failed_tasks":  res.Failed,
	})
}

// List handles GET /v1/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	f := repository.TaskFilter{
		Status:   q.Get("status"),
		TaskType: q.Get("task_type"),
		SKU:      q.Get("sku"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if actor.IsAdmin() && q.Get("user_id") != "" {
		uid, err := uuid.Parse(q.Get("user_id"))
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		f.UserID = &uid
	}

	tasks, total, err := h.svc.List(r.Context(), actor, f)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	now := time.Now()
	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, taskToResponse(t, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"tasks": resp,
	})
}

// Get handles GET /v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, err := h.svc.Get(r.Context(), actor, taskID)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task, time.Now()))
}

// Cancel handles POST /v1/tasks/{id}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	task, refund, newBalance, err := h.svc.Cancel(r.Context(), actor, taskID)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	if refund == 0 {
		if u, err := h.users.GetByID(r.Context(), task.UserID); err == nil {
			newBalance = u.JingdouBalance
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":        task.ID.String(),
		"refund_jingdou": refund,
		"new_balance":    newBalance,
	})
}

// Edit handles PUT /v1/tasks/{id}.
func (h *TaskHandler) Edit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	var in lifecycle.EditInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	task, additional, err := h.svc.Edit(r.Context(), actor, taskID, in)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":            task.ID.String(),
		"additional_jingdou": additional,
	})
}

type reportRequest struct {
	ExecutedCount int    `json:"executed_count"`
	Terminal      string `json:"terminal"`
}

// Report handles POST /v1/tasks/{id}/report: the device collaborator's
// inbound progress channel. The report is queued, not applied inline, so a
// burst of devices never contends with user requests.
func (h *TaskHandler) Report(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ExecutedCount < 0 {
		http.Error(w, "executed_count must be non-negative", http.StatusBadRequest)
		return
	}
	err = h.enqueueReport(r.Context(), execution.ReportProgressArgs{
		TaskID:        taskID,
		ExecutedCount: req.ExecutedCount,
		Terminal:      req.Terminal,
	})
	if err != nil {
		h.log.Error("enqueue report failed", "task_id", taskID, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID.String(), "queued": true})
}

// ListTypes handles GET /v1/task-types.
func (h *TaskHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	types, err := h.types.List(r.Context())
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_types": types})
}
