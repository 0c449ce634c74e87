package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/api/middleware"
	"github.com/mindpal/backend/internal/services"
	"github.com/mindpal/backend/internal/utils"
)

type AuthHandler struct {
	svc services.AuthService
}

func NewAuthHandler(svc services.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	DOB      string `json:"dob"` // YYYY-MM-DD, optional
}

func (h *AuthHandler) Register(c *gin.Context) {
	const op = "AuthHandler.Register"

	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid json body", err))
		return
	}

	in := services.RegisterInput{Name: req.Name, Email: req.Email, Password: req.Password}
	if s := strings.TrimSpace(req.DOB); s != "" {
		dob, err := time.Parse(time.DateOnly, s)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "dob must be YYYY-MM-DD", err))
			return
		}
		in.DOB = &dob
	}

	u, err := h.svc.Register(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type loginReq struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Login accepts a JSON body or an OAuth2 password form, where the email is
// sent as "username".
func (h *AuthHandler) Login(c *gin.Context) {
	const op = "AuthHandler.Login"

	var req loginReq
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid login body", err))
		return
	}
	email := req.Email
	if email == "" {
		email = req.Username
	}

	pair, err := h.svc.Login(c.Request.Context(), email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Refresh expects the refresh token as the bearer credential.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, ok := middleware.BearerToken(c)
	if !ok {
		writeError(c, utils.E(utils.CodeUnauthorized, "AuthHandler.Refresh", "missing bearer token", nil))
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	u, err := h.svc.Me(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
