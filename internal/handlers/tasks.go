package handlers

import (
	"net/http"
	"strings"

	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"

	"github.com/google/uuid"
)

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func parseTaskStatus(s string) (models.TaskStatus, error) {
	status := models.TaskStatus(strings.ToUpper(s))
	if !status.Valid() {
		return "", invalid("status", "must be OPEN, IN_PROGRESS or DONE")
	}
	return status, nil
}

// ListTasks returns the user's tasks filtered by ?status= and ?search=.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	q := r.URL.Query()

	filter := storage.TaskListFilter{Search: strings.TrimSpace(q.Get("search"))}
	if s := q.Get("status"); s != "" {
		status, err := parseTaskStatus(s)
		if err != nil {
			h.writeError(w, r, "ListTasks", err)
			return
		}
		filter.Status = status
	}

	tasks, err := h.repo.ListTasks(r.Context(), user.ID, filter)
	if err != nil {
		h.writeError(w, r, "ListTasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask returns one task.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	task, err := h.repo.FindTask(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, "GetTask", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CreateTask adds a task. Status defaults to OPEN.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "CreateTask", err)
		return
	}
	if err := checkLength("title", req.Title, 1, 250); err != nil {
		h.writeError(w, r, "CreateTask", err)
		return
	}

	status := models.TaskOpen
	if req.Status != "" {
		s, err := parseTaskStatus(req.Status)
		if err != nil {
			h.writeError(w, r, "CreateTask", err)
			return
		}
		status = s
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      status,
	}
	if err := h.repo.CreateTask(r.Context(), task); err != nil {
		h.writeError(w, r, "CreateTask", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// UpdateTask edits the title or description.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "UpdateTask", err)
		return
	}
	if req.Title != nil {
		if err := checkLength("title", *req.Title, 1, 250); err != nil {
			h.writeError(w, r, "UpdateTask", err)
			return
		}
	}
	h.patchTask(w, r, storage.TaskPatch{Title: req.Title, Description: req.Description})
}

// UpdateTaskStatus moves a task between OPEN, IN_PROGRESS and DONE.
func (h *Handlers) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "UpdateTaskStatus", err)
		return
	}
	status, err := parseTaskStatus(req.Status)
	if err != nil {
		h.writeError(w, r, "UpdateTaskStatus", err)
		return
	}
	h.patchTask(w, r, storage.TaskPatch{Status: &status})
}

func (h *Handlers) patchTask(w http.ResponseWriter, r *http.Request, patch storage.TaskPatch) {
	user := GetUserFromContext(r)
	id := r.PathValue("id")
	n, err := h.repo.UpdateTaskFields(r.Context(), user.ID, id, patch)
	if err != nil {
		h.writeError(w, r, "UpdateTaskFields", err)
		return
	}
	if n == 0 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	task, err := h.repo.FindTask(r.Context(), user.ID, id)
	if err != nil {
		h.writeError(w, r, "FindTask", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask removes a task.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	n, err := h.repo.DeleteTask(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, "DeleteTask", err)
		return
	}
	if n == 0 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
