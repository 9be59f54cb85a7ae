package exts

import (
	"git.solsynth.dev/hypernet/kolab/pkg/internal/models"
	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

// ExtractToken reads the bearer credential from the header, falling back to the tk query.
// Browsers cannot set headers on a websocket upgrade.
func ExtractToken(c *fiber.Ctx) string {
	if tk := c.Get(fiber.HeaderAuthorization); len(tk) > 0 {
		return tk
	}
	return c.Query("tk")
}

func AuthMiddleware(gate *services.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		account, err := gate.Identify(ExtractToken(c))
		if err != nil {
			return err
		}
		c.Locals("user", account)
		return c.Next()
	}
}

func GetUser(c *fiber.Ctx) models.Account {
	return c.Locals("user").(models.Account)
}
