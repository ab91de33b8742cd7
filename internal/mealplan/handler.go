package mealplan

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
)

type createItemRequest struct {
	RecipeID   uint   `json:"recipe_id"`
	PlannedFor string `json:"planned_for"`
	Portions   int    `json:"portions"`
}

type createRequest struct {
	PeriodStart string              `json:"period_start"`
	PeriodEnd   string              `json:"period_end"`
	Items       []createItemRequest `json:"items"`
}

type executeRequest struct {
	Items []struct {
		ID               uint `json:"id"`
		ProducedPortions int  `json:"produced_portions"`
	} `json:"items"`
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

// GET /api/meal-plans?status=CONFIRMED&page=1&pageSize=20
func ListHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := models.MealPlanStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
		res, err := svc.List(c.UserContext(), status, c.QueryInt("page", 1), c.QueryInt("pageSize", 20))
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// GET /api/meal-plans/:id
func GetHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		plan, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(plan)
	}
}

// POST /api/meal-plans
func CreateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body createRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}

		in := CreateInput{}
		var err error
		if in.PeriodStart, err = stock.ParseDate(body.PeriodStart); err != nil {
			return err
		}
		if in.PeriodEnd, err = stock.ParseDate(body.PeriodEnd); err != nil {
			return err
		}
		for _, it := range body.Items {
			item := ItemInput{RecipeID: it.RecipeID, Portions: it.Portions}
			if strings.TrimSpace(it.PlannedFor) != "" {
				var d time.Time
				if d, err = stock.ParseDate(it.PlannedFor); err != nil {
					return err
				}
				item.PlannedFor = &d
			}
			in.Items = append(in.Items, item)
		}

		plan, err := svc.Create(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(plan)
	}
}

// POST /api/meal-plans/:id/confirm
func ConfirmHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		plan, err := svc.Confirm(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(plan)
	}
}

// POST /api/meal-plans/:id/execute
// Body is optional: {"items":[{"id":1,"produced_portions":38}]}
func ExecuteHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		var body executeRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid body")
			}
		}
		produced := make(map[uint]int, len(body.Items))
		for _, it := range body.Items {
			produced[it.ID] = it.ProducedPortions
		}

		plan, err := svc.Execute(c.UserContext(), id, produced)
		if err != nil {
			return err
		}
		return c.JSON(plan)
	}
}

// DELETE /api/meal-plans/:id
func CancelHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		if err := svc.Cancel(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
