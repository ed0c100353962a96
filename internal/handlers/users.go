package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/services"
	"github.com/charlesng35/clinicauth/pkg/response"
)

type UserHandler struct {
	service *services.UserService
}

func NewUserHandler(svc *services.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

type createUserRequest struct {
	Username  string   `json:"username" validate:"required,min=3,max=80"`
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required"`
	FirstName string   `json:"first_name" validate:"max=50"`
	LastName  string   `json:"last_name" validate:"max=50"`
	Phone     string   `json:"phone" validate:"max=20"`
	RoleIDs   []string `json:"role_ids"`
}

type updateUserRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name" validate:"omitempty,max=50"`
	LastName  *string `json:"last_name" validate:"omitempty,max=50"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	filters := services.UserFilters{Query: strings.TrimSpace(c.Query("q"))}
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filters.IsActive = &active
		}
	}

	users, total, err := h.service.List(requestContext(c), services.ListUsersOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, users, response.NewMeta(page, per, total))
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.service.Create(requestContext(c), services.CreateUserInput{
		Username:  body.Username,
		Email:     body.Email,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Phone:     body.Phone,
		RoleIDs:   body.RoleIDs,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// PATCH /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var body updateUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.service.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		Email:     body.Email,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Phone:     body.Phone,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PATCH /api/users/:id/active
func (h *UserHandler) SetActive(c *gin.Context) {
	var body setActiveRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.service.SetActive(requestContext(c), c.Param("id"), *body.Active); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": c.Param("id"), "is_active": *body.Active})
}

// POST /api/users/:id/password
func (h *UserHandler) ResetPassword(c *gin.Context) {
	var body resetPasswordRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.service.ResetPassword(requestContext(c), c.Param("id"), body.Password); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}
