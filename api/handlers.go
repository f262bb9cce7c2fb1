package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksync-api/domain"
	"tasksync-api/storage"
)

const (
	taskRequestMaxSize = 64 * 1024 // 64 KiB
	publishTimeout     = 5 * time.Second
)

// Register wires up all API routes on the provided Echo instance. The event
// publisher and connection registry are injected here so handlers carry no
// ambient dependencies.
func Register(e *echo.Echo, store Storage, auth Authenticator, pub EventPublisher, hub ConnectionRegistry, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(store, auth, logger))
	e.POST("/api/tasks", createTask(store, auth, pub))
	e.PUT("/api/tasks/:id", updateTask(store, auth, pub))
	e.DELETE("/api/tasks/:id", deleteTask(store, auth, pub))
	e.PATCH("/api/tasks/:id/toggle", toggleTask(store, auth, pub))
	e.GET("/api/stream", streamTasks(hub, auth))
	e.GET("/api/ws", serveWS(hub, auth))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Stats domain.Stats  `json:"stats"`
}

type taskResponse struct {
	Message string      `json:"message,omitempty"`
	Task    domain.Task `json:"task"`
}

type deleteResponse struct {
	Message string `json:"message,omitempty"`
	TaskID  string `json:"taskId"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newListRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
			return err
		}

		filter := domain.Filter{Search: c.QueryParam("search")}
		// An unknown status value is ignored rather than rejected.
		if s := domain.Status(c.QueryParam("status")); s.Valid() {
			filter.Status = s
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.ListTasks(ctx, userID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.JSON(http.StatusInternalServerError, errorResponse{Message: "server error while fetching tasks"})
			return err
		}

		filtered := domain.ApplyFilter(tasks, filter)
		metrics.SetTasksReturned(len(filtered))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: filtered, Stats: domain.Summarize(filtered)})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func createTask(store Storage, auth Authenticator, pub EventPublisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}

		task, err := store.CreateTask(ctx, userID, req.Title, req.Description)
		if err != nil {
			return writeStoreError(c, err)
		}

		publishEvent(c, pub, domain.NewTaskEvent(domain.TaskCreated, task))
		return c.JSON(http.StatusCreated, taskResponse{Message: "Task created successfully", Task: task})
	}
}

func updateTask(store Storage, auth Authenticator, pub EventPublisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}

		task, err := store.UpdateTask(ctx, userID, c.Param("id"), patch)
		if err != nil {
			return writeStoreError(c, err)
		}

		publishEvent(c, pub, domain.NewTaskEvent(domain.TaskUpdated, task))
		return c.JSON(http.StatusOK, taskResponse{Message: "Task updated successfully", Task: task})
	}
}

func deleteTask(store Storage, auth Authenticator, pub EventPublisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		taskID := c.Param("id")
		if err := store.DeleteTask(ctx, userID, taskID); err != nil {
			return writeStoreError(c, err)
		}

		publishEvent(c, pub, domain.NewTaskDeletedEvent(userID, taskID))
		return c.JSON(http.StatusOK, deleteResponse{Message: "Task deleted successfully", TaskID: taskID})
	}
}

func toggleTask(store Storage, auth Authenticator, pub EventPublisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		task, err := store.ToggleTask(ctx, userID, c.Param("id"))
		if err != nil {
			return writeStoreError(c, err)
		}

		publishEvent(c, pub, domain.NewTaskEvent(domain.TaskUpdated, task))
		return c.JSON(http.StatusOK, taskResponse{Message: "Task status toggled successfully", Task: task})
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, taskRequestMaxSize)
	return sonic.ConfigStd.NewDecoder(lr).Decode(v)
}

// writeStoreError maps the storage error taxonomy onto response codes. The
// not-found answer is identical whether the task is absent or owned by
// someone else.
func writeStoreError(c echo.Context, err error) error {
	var verr storage.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, errorResponse{Message: verr.Error()})
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Task not found"})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "server error"})
	}
}

// publishEvent runs after the mutation committed; a delivery failure must not
// fail the synchronous response. The publish is detached from the request
// context so a caller hanging up right after the commit cannot suppress the
// event for the owner's other connections.
func publishEvent(c echo.Context, pub EventPublisher, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := pub.Publish(ctx, ev); err != nil {
		c.Logger().Errorf("publish %s: %v", ev.Type, err)
	}
}
