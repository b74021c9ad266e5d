package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

const (
	routeTodos = "/todos"
	routeTodo  = "/todos/:id"

	opList   = "list"
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"

	readyTimeout = 2 * time.Second
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, opts Options, logger *log.Logger) {
	e.GET(routeTodos, getTodos(store, logger))
	e.POST(routeTodos, postTodo(store, logger))
	e.PUT(routeTodo, putTodo(store, opts, logger))
	e.DELETE(routeTodo, deleteTodo(store, opts, logger))
	e.GET("/healthz", healthz())
	e.GET("/readyz", readyz(store))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func readyz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "unavailable"})
		}
		return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
	}
}

// startMetrics begins request metrics and swaps the request context for the
// traced one.
func startMetrics(c echo.Context, logger *log.Logger, op, route string) (*requestMetrics, context.Context) {
	req := c.Request()
	metrics, spanCtx := newRequestMetrics(req.Context(), logger, op, req.Method, route)
	c.SetRequest(req.WithContext(spanCtx))
	return metrics, spanCtx
}

func getTodos(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startMetrics(c, logger, opList, routeTodos)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		fetchStart := time.Now()
		todos, fetchErr := store.ListTodos(ctx)
		metrics.ObserveStore(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.Fail("storage", fetchErr)
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgInternalError})
		}
		if todos == nil {
			todos = []domain.Todo{}
		}
		metrics.SetTodosReturned(len(todos))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, todos)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postTodo(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startMetrics(c, logger, opCreate, routeTodos)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		var body createTodoRequest
		decodeStart := time.Now()
		decodeErr := decodeBody(c, &body)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidBody})
		}
		if body.Task == nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: msgMissingTask})
		}
		if vErr := domain.ValidateTask(*body.Task); vErr != nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: vErr.Error()})
		}

		storeStart := time.Now()
		todo, insertErr := store.InsertTodo(ctx, *body.Task, false)
		metrics.ObserveStore(time.Since(storeStart))
		if insertErr != nil {
			metrics.Fail("storage", insertErr)
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgInternalError})
		}
		metrics.SetTodoID(todo.ID)

		return c.JSON(http.StatusOK, messageResponse{Message: msgTodoCreated})
	}
}

func putTodo(store Storage, opts Options, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startMetrics(c, logger, opUpdate, routeTodo)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id, ok := parseTodoID(c.Param("id"))
		if !ok {
			metrics.SetErrorStage("route")
			return c.JSON(http.StatusNotFound, messageResponse{Message: msgRouteNotFound})
		}
		metrics.SetTodoID(id)

		storeStart := time.Now()
		_, found, findErr := store.FindTodo(ctx, id)
		metrics.ObserveStore(time.Since(storeStart))
		if findErr != nil {
			metrics.Fail("storage", findErr)
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgInternalError})
		}
		if !found {
			metrics.SetNotFound()
			return respondNotFound(c, opts)
		}

		var body updateTodoRequest
		decodeStart := time.Now()
		decodeErr := decodeBody(c, &body)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidBody})
		}
		if body.Task == nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: msgMissingTask})
		}
		if body.Completed == nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: msgMissingDone})
		}
		if vErr := domain.ValidateTask(*body.Task); vErr != nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: vErr.Error()})
		}

		storeStart = time.Now()
		updated, updateErr := store.UpdateTodo(ctx, id, *body.Task, *body.Completed)
		metrics.ObserveStore(time.Since(storeStart))
		if updateErr != nil {
			metrics.Fail("storage", updateErr)
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgInternalError})
		}
		if !updated {
			// Deleted between the lookup and the update.
			metrics.SetNotFound()
			return respondNotFound(c, opts)
		}

		return c.JSON(http.StatusOK, messageResponse{Message: msgTodoUpdated})
	}
}

func deleteTodo(store Storage, opts Options, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startMetrics(c, logger, opDelete, routeTodo)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id, ok := parseTodoID(c.Param("id"))
		if !ok {
			metrics.SetErrorStage("route")
			return c.JSON(http.StatusNotFound, messageResponse{Message: msgRouteNotFound})
		}
		metrics.SetTodoID(id)

		storeStart := time.Now()
		_, found, findErr := store.FindTodo(ctx, id)
		metrics.ObserveStore(time.Since(storeStart))
		if findErr != nil {
			metrics.Fail("storage", findErr)
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgInternalError})
		}
		if !found {
			metrics.SetNotFound()
			return respondNotFound(c, opts)
		}

		storeStart = time.Now()
		deleted, deleteErr := store.DeleteTodo(ctx, id)
		metrics.ObserveStore(time.Since(storeStart))
		if deleteErr != nil {
			metrics.Fail("storage", deleteErr)
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgInternalError})
		}
		if !deleted {
			metrics.SetNotFound()
			return respondNotFound(c, opts)
		}

		return c.JSON(http.StatusOK, messageResponse{Message: msgTodoDeleted})
	}
}

func respondNotFound(c echo.Context, opts Options) error {
	status := http.StatusOK
	if opts.StrictNotFound {
		status = http.StatusNotFound
	}
	return c.JSON(status, messageResponse{Message: msgTodoNotFound})
}

// parseTodoID accepts unsigned decimal ids only; anything else does not
// match the route.
func parseTodoID(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

var errEmptyBody = errors.New("empty body")

func decodeBody(c echo.Context, v any) error {
	body := c.Request().Body
	if body == nil {
		return errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(body, todoBodyMaxSize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	// Unmarshal rejects anything after the first value.
	return sonic.ConfigStd.Unmarshal(data, v)
}
