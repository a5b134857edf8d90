package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/middleware"
	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/service"
	"go.uber.org/zap"
)

// Response helpers

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

func SuccessPaged(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data": gin.H{
			"list":      list,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

func Error(c *gin.Context, httpCode int, code int, message string) {
	c.JSON(httpCode, gin.H{
		"code":    code,
		"message": message,
		"data":    nil,
	})
}

func BadRequest(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

func Unauthorized(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnauthorized, code, message)
}

func Forbidden(c *gin.Context, code int, message string) {
	Error(c, http.StatusForbidden, code, message)
}

func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, 50001, message)
}

func parseID(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 64)
	return uint(id)
}

// pathID reads a numeric path parameter, answering 40001 when it is not one.
func pathID(c *gin.Context, name string) (uint, bool) {
	id := parseID(c.Param(name))
	if id == 0 {
		BadRequest(c, 40001, "invalid "+name)
		return 0, false
	}
	return id, true
}

func currentUser(c *gin.Context) *model.User {
	u := middleware.GetCurrentUser(c)
	if u == nil {
		Unauthorized(c, 40101, "not authenticated")
	}
	return u
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// respondError maps domain errors onto the response envelope. Anything
// unrecognised is logged and reported as an internal error.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var (
		ve *service.ValidationError
		pe *service.PermissionError
		ne *service.NotFoundError
		se *service.StateConflictError
	)
	switch {
	case errors.As(err, &ve):
		BadRequest(c, 40001, ve.Error())
	case errors.As(err, &pe):
		Forbidden(c, 40301, pe.Error())
	case errors.As(err, &ne):
		NotFound(c, 40401, ne.Error())
	case errors.As(err, &se):
		c.JSON(http.StatusConflict, gin.H{
			"code":    40901,
			"message": se.Error(),
			"data":    gin.H{"state": se.State},
		})
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		InternalError(c, "internal error")
	}
}

func bindError(c *gin.Context, err error) {
	BadRequest(c, 40001, "invalid request: "+err.Error())
}
