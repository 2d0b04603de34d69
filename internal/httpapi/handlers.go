package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"todo-miniapp/internal/model"
	"todo-miniapp/internal/service"
)

const (
	headerRowsAffected = "X-Rows-Affected"
	deletedMessage     = "Todo deleted successfully"
)

type TodoHandler struct {
	svc    *service.TodoService
	logger *log.Logger
}

func NewTodoHandler(svc *service.TodoService, logger *log.Logger) *TodoHandler {
	return &TodoHandler{svc: svc, logger: logger}
}

// List handles GET /todos.
func (h *TodoHandler) List(c *gin.Context) {
	todos, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, todos)
}

// Create handles POST /todos.
func (h *TodoHandler) Create(c *gin.Context) {
	var req TodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	todo, err := h.svc.Create(c.Request.Context(), req.toModel())
	if err != nil {
		if errors.Is(err, model.ErrTitleRequired) {
			badRequest(c, err)
			return
		}
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

// Update handles PUT /todos/:id. The id in the path wins over any id in the
// body. An unknown id still answers 200 with the echoed payload; the
// X-Rows-Affected header tells the two cases apart.
func (h *TodoHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req TodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Update(c.Request.Context(), id, req.toModel())
	if err != nil {
		if errors.Is(err, model.ErrTitleRequired) {
			badRequest(c, err)
			return
		}
		h.serverError(c, err)
		return
	}
	c.Header(headerRowsAffected, strconv.FormatInt(res.Affected, 10))
	if res.Affected == 0 {
		c.JSON(http.StatusOK, newEchoResponse(res.Todo))
		return
	}
	c.JSON(http.StatusOK, res.Todo)
}

// Delete handles DELETE /todos/:id. Deleting an unknown id, including zero or
// a negative one, is not an error.
func (h *TodoHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	affected, err := h.svc.Delete(c.Request.Context(), id)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.Header(headerRowsAffected, strconv.FormatInt(affected, 10))
	c.JSON(http.StatusOK, messageResponse{Message: deletedMessage})
}

func (h *TodoHandler) serverError(c *gin.Context, err error) {
	h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}
