package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tallerflow/ticket-service/internal/api/dto"
	"github.com/tallerflow/ticket-service/internal/service"
)

// AuthHandler issues operator tokens.
type AuthHandler struct {
	service *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{service: authService}
}

// Login POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.service.Login(c.UserContext(), req.Operator, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}
