package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/auth"
	"github.com/campus-care/counseling-service/internal/domain"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal.Actor(), nil
}

// pageParams reads limit and offset query parameters. Invalid values fall
// back to the repository defaults.
func pageParams(c *fiber.Ctx) (int, int) {
	return parseInt(c.Query("limit"), 0), parseInt(c.Query("offset"), 0)
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
