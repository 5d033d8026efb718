package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/grimoirekb/grimoire/internal/api/shared"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/store"
	"github.com/grimoirekb/grimoire/internal/task"
)

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	service   *task.Service
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(service *task.Service) *TaskHandler {
	return &TaskHandler{
		service:   service,
		validator: validator.New(),
	}
}

// Routes mounts the task endpoints on a chi router.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.CreateTask)
		r.Get("/", h.ListTasks)
		r.Get("/stats", h.Statistics)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetTask)
			r.Delete("/", h.DeleteTask)
			r.Post("/cancel", h.CancelTask)
			r.Post("/retry", h.RetryTask)
			r.Put("/progress", h.UpdateProgress)
			r.Get("/results", h.GetTaskResults)
		})
	})
}

// CreateTask handles POST /api/tasks. Async tasks are accepted with
// 202; sync tasks run inline and return 200 with the attempt's result.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorCode(w, r, http.StatusBadRequest,
			string(task.CodeValidationFailed), "Validation error: "+err.Error())
		return
	}

	serviceReq := task.CreateTaskRequest{
		Name:     req.Name,
		Category: req.Category,
		Params:   req.Params,
		Priority: domain.TaskPriority(req.Priority),
		Mode:     domain.ExecutionMode(req.Mode),
		Timeout:  time.Duration(req.TimeoutSecs * float64(time.Second)),
		Metadata: req.Metadata,
	}

	if req.RetryPolicy != nil {
		serviceReq.RetryPolicy = &domain.RetryPolicy{
			MaxRetries:        req.RetryPolicy.MaxRetries,
			DelaySeconds:      req.RetryPolicy.DelaySeconds,
			BackoffMultiplier: req.RetryPolicy.BackoffMultiplier,
		}
	}

	for _, dep := range req.Dependencies {
		depID, err := uuid.Parse(dep.TaskID)
		if err != nil {
			shared.RespondWithErrorCode(w, r, http.StatusBadRequest,
				string(task.CodeValidationFailed), "Invalid dependency task ID")
			return
		}
		depType := domain.DependencyType(dep.Type)
		if depType == "" {
			depType = domain.DependencyTypeCompletion
		}
		serviceReq.Dependencies = append(serviceReq.Dependencies, domain.TaskDependency{
			TaskID: depID,
			Type:   depType,
		})
	}

	created, result, err := h.service.CreateTask(r.Context(), serviceReq)
	if err != nil {
		// A sync execution failure still created the task; report the
		// error with the usual mapping.
		HandleServiceError(w, r, err)
		return
	}

	resp := CreateTaskResponse{Task: taskToResponse(created)}
	status := http.StatusAccepted
	if result != nil {
		attempt := resultToResponse(result)
		resp.Result = &attempt
		status = http.StatusOK
	}

	shared.RespondWithJSON(w, r, status, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	t, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListTasks handles GET /api/tasks with optional status, category,
// priority, created_by, limit, and offset query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		shared.RespondWithErrorCode(w, r, http.StatusBadRequest,
			string(task.CodeValidationFailed), err.Error())
		return
	}

	page, err := h.service.ListTasks(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	resp := TaskListResponse{
		Tasks: make([]TaskResponse, 0, len(page.Tasks)),
		Total: page.Total,
	}
	for _, t := range page.Tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTask(r.Context(), id); err != nil {
		HandleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelTask handles POST /api/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	t, err := h.service.CancelTask(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// RetryTask handles POST /api/tasks/{id}/retry.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	t, err := h.service.RetryTask(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}

// UpdateProgress handles PUT /api/tasks/{id}/progress.
func (h *TaskHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req UpdateProgressRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorCode(w, r, http.StatusBadRequest,
			string(task.CodeValidationFailed), "Validation error: "+err.Error())
		return
	}

	if err := h.service.UpdateProgress(r.Context(), id, req.CurrentStep, req.TotalSteps, req.Percentage); err != nil {
		HandleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTaskResults handles GET /api/tasks/{id}/results.
func (h *TaskHandler) GetTaskResults(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	results, err := h.service.GetTaskResults(r.Context(), id)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	resp := make([]TaskResultResponse, 0, len(results))
	for _, result := range results {
		resp = append(resp, resultToResponse(result))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Statistics handles GET /api/tasks/stats.
func (h *TaskHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, statisticsToResponse(stats))
}

// pathID extracts and parses the {id} path parameter, writing the
// error response itself on failure.
func (h *TaskHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		slog.Debug("invalid task ID in path", "value", raw)
		shared.RespondWithErrorCode(w, r, http.StatusBadRequest,
			string(task.CodeValidationFailed), "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

func parseListFilter(r *http.Request) (store.TaskFilter, error) {
	var filter store.TaskFilter
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		status := domain.TaskStatus(raw)
		filter.Status = &status
	}
	if raw := q.Get("priority"); raw != "" {
		priority := domain.TaskPriority(raw)
		filter.Priority = &priority
	}
	filter.Category = q.Get("category")
	filter.CreatedBy = q.Get("created_by")

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errInvalidQueryParam("limit")
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errInvalidQueryParam("offset")
		}
		filter.Offset = offset
	}

	return filter, nil
}

type queryParamError string

func errInvalidQueryParam(name string) error {
	return queryParamError("invalid query parameter: " + name)
}

func (e queryParamError) Error() string {
	return string(e)
}
