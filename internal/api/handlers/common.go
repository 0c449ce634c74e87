package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func apiErrorOf(err error) (int, APIError) {
	status := utils.HTTPStatus(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		return status, APIError{Code: ae.Code, Message: ae.Message}
	}
	return status, APIError{Code: utils.CodeOf(err), Message: http.StatusText(status)}
}

func writeError(c *gin.Context, err error) {
	status, body := apiErrorOf(err)
	if status >= 500 {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func requireUserID(c *gin.Context) (string, bool) {
	if s := c.GetString("user_id"); s != "" {
		return s, true
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

// page reads limit/offset query parameters.
func page(c *gin.Context, op string, defLimit, maxLimit int) (limit, offset int, err error) {
	limit, offset = defLimit, 0
	if v := c.Query("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 {
			return 0, 0, utils.E(utils.CodeInvalidArgument, op, "limit must be a positive integer", convErr)
		}
		limit = min(n, maxLimit)
	}
	if v := c.Query("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, utils.E(utils.CodeInvalidArgument, op, "offset must be a non-negative integer", convErr)
		}
		offset = n
	}
	return limit, offset, nil
}
