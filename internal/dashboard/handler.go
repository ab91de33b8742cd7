package dashboard

import (
	"github.com/gofiber/fiber/v2"
)

// GET /api/dashboard/overview?days=30
// A missing, empty or zero days falls back to the default window.
func OverviewHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		days := c.QueryInt("days", DefaultDays)
		if days == 0 {
			days = DefaultDays
		}

		ov, err := svc.Overview(c.UserContext(), days)
		if err != nil {
			return err
		}
		return c.JSON(ov)
	}
}
