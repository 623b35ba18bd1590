package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tallerflow/ticket-service/internal/api/dto"
	"github.com/tallerflow/ticket-service/internal/auth"
	apperrors "github.com/tallerflow/ticket-service/pkg/util/errorutil"
)

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.OperatorID == "" {
		return nil, apperrors.NewUnauthorized("operator required")
	}
	return principal, nil
}

func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return dto.Validate(req)
}
