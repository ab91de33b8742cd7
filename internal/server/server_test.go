package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/audit"
	"github.com/oussamajomaa/mont-vert/internal/auth"
	"github.com/oussamajomaa/mont-vert/internal/dashboard"
	"github.com/oussamajomaa/mont-vert/internal/database/dbtest"
	"github.com/oussamajomaa/mont-vert/internal/logging"
	"github.com/oussamajomaa/mont-vert/internal/mealplan"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/recipe"
	"github.com/oussamajomaa/mont-vert/internal/reservation"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"gorm.io/gorm"
)

const secret = "test-secret-test-secret-test-secret"

var today = dbtest.Day(2026, 10, 17)

type harness struct {
	app *fiber.App
	db  *gorm.DB
}

func newHarness(t *testing.T, loginLimiter *limiter.Limiter) harness {
	t.Helper()
	db := dbtest.Open(t)
	log := logging.Discard()

	st := stock.NewEngine(db, stock.Policy{AutoArchiveOnEmpty: true}, log)
	st.SetClock(func() time.Time { return today.Add(8 * time.Hour) })
	res := reservation.NewEngine(st, log)

	app := New(Deps{
		DB:           db,
		Log:          log,
		JWTSecret:    secret,
		CORSOrigins:  []string{"http://localhost:5173"},
		LoginLimiter: loginLimiter,
		Stock:        st,
		Reservations: res,
		Recipes:      recipe.NewService(db),
		Plans:        mealplan.NewService(st, res, log),
		Dashboard:    dashboard.NewService(st, nil, 0, log),
		Audit:        audit.NewRecorder(db, log),
	})
	return harness{app: app, db: db}
}

func (h harness) token(t *testing.T, role models.UserRole) string {
	t.Helper()
	u := models.User{
		Name:         string(role),
		Email:        fmt.Sprintf("%s@montvert.test", role),
		PasswordHash: "x",
		Role:         role,
	}
	require.NoError(t, h.db.Create(&u).Error)
	tok, err := auth.GenerateToken(secret, &u)
	require.NoError(t, err)
	return tok
}

func (h harness) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestRoleGating(t *testing.T) {
	h := newHarness(t, nil)
	director := h.token(t, models.RoleDirector)
	kitchen := h.token(t, models.RoleKitchen)
	p := dbtest.Product(t, h.db, "Flour", "2", "0")

	status, _ := h.do(t, http.MethodGet, "/api/stock", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodGet, "/api/stock", director, nil)
	assert.Equal(t, http.StatusOK, status)

	lot := map[string]any{"product_id": p.ID, "quantity": "5", "expiry_date": "2026-11-01"}
	status, body := h.do(t, http.MethodPost, "/api/lots", director, lot)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])

	status, _ = h.do(t, http.MethodPost, "/api/lots", kitchen, lot)
	assert.Equal(t, http.StatusCreated, status)

	status, _ = h.do(t, http.MethodPost, "/api/products", kitchen, map[string]any{"name": "Salt", "unit": "kg"})
	assert.Equal(t, http.StatusForbidden, status)

	// Recipes are read by everyone and written by ADMIN only.
	r := dbtest.Recipe(t, h.db, "Bread", "0", map[uint]string{p.ID: "0.5"})
	recipePath := fmt.Sprintf("/api/recipes/%d", r.ID)
	newRecipe := map[string]any{
		"name": "Cake", "base_portions": 8, "waste_rate": 0,
		"items": []map[string]any{{"product_id": p.ID, "qty_per_portion": 0.1}},
	}

	status, _ = h.do(t, http.MethodGet, "/api/recipes", kitchen, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodPost, "/api/recipes", kitchen, newRecipe)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = h.do(t, http.MethodPatch, recipePath, kitchen, map[string]any{"name": "Rye bread"})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = h.do(t, http.MethodDelete, recipePath, kitchen, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var kept models.Recipe
	require.NoError(t, h.db.First(&kept, r.ID).Error)
	assert.Equal(t, "Bread", kept.Name)
}

func TestBusinessErrorsMapToStatus(t *testing.T) {
	h := newHarness(t, nil)
	kitchen := h.token(t, models.RoleKitchen)
	p := dbtest.Product(t, h.db, "Rice", "1", "0")
	lot := dbtest.Lot(t, h.db, p.ID, "2", today.AddDate(0, 0, 5))

	status, body := h.do(t, http.MethodPost, "/api/movements", kitchen,
		map[string]any{"lot_id": lot.ID, "type": "OUT", "quantity": "3"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INSUFFICIENT_STOCK", body["code"])

	status, body = h.do(t, http.MethodPost, "/api/movements", kitchen,
		map[string]any{"lot_id": 999, "type": "OUT", "quantity": "1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])

	status, body = h.do(t, http.MethodPost, "/api/movements", kitchen,
		map[string]any{"lot_id": lot.ID, "type": "OUT", "quantity": "-1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", body["code"])
}

func TestExpireEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.token(t, models.RoleAdmin)
	kitchen := h.token(t, models.RoleKitchen)
	p := dbtest.Product(t, h.db, "Milk", "1.5", "0")
	expired := dbtest.Lot(t, h.db, p.ID, "3", today.AddDate(0, 0, -1))
	good := dbtest.Lot(t, h.db, p.ID, "4", today)

	status, _ := h.do(t, http.MethodPost, "/api/lots/expire", kitchen, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// A future as_of would write off stock that is still good.
	status, body := h.do(t, http.MethodPost, "/api/lots/expire", admin, map[string]any{"as_of": "2027-01-01"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", body["code"])
	var untouched models.Lot
	require.NoError(t, h.db.First(&untouched, good.ID).Error)
	assert.True(t, untouched.Quantity.Equal(dbtest.Dec("4")))
	assert.False(t, untouched.Archived)

	// A past as_of only reaches lots expired before that day.
	status, body = h.do(t, http.MethodPost, "/api/lots/expire", admin, map[string]any{"as_of": "2026-10-10"})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["lotsProcessed"])

	status, body = h.do(t, http.MethodPost, "/api/lots/expire", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["lotsProcessed"])
	assert.EqualValues(t, 0, body["skipped"])
	loss, err := decimal.NewFromString(fmt.Sprint(body["totalLoss"]))
	require.NoError(t, err)
	assert.True(t, loss.Equal(dbtest.Dec("3")), loss.String())

	// Second sweep on the same day changes nothing.
	status, body = h.do(t, http.MethodPost, "/api/lots/expire", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["lotsProcessed"])

	var entries []models.AuditLog
	require.NoError(t, h.db.Where("entity_type = ? AND action = ?", "lot", models.AuditActionExpire).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, expired.ID, entries[0].EntityID)
	assert.Equal(t, string(models.RoleAdmin), entries[0].UserName)
}

func TestRecipeDeleteInUse(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.token(t, models.RoleAdmin)
	p := dbtest.Product(t, h.db, "Beans", "3", "0")
	used := dbtest.Recipe(t, h.db, "Chili", "0", map[uint]string{p.ID: "0.3"})
	dbtest.PlanItem(t, h.db, used.ID, 10, models.PlanDraft)
	unused := dbtest.Recipe(t, h.db, "Salad", "0", map[uint]string{p.ID: "0.1"})

	status, body := h.do(t, http.MethodDelete, fmt.Sprintf("/api/recipes/%d", used.ID), admin, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Cannot delete: recipe in use.", body["error"])
	assert.Equal(t, "CONFLICT", body["code"])

	status, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/api/recipes/%d", unused.ID), admin, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/api/recipes/%d", unused.ID), admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDashboardOverviewWindow(t *testing.T) {
	h := newHarness(t, nil)
	director := h.token(t, models.RoleDirector)

	status, body := h.do(t, http.MethodGet, "/api/dashboard/overview?days=7", director, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 7, body["days"])

	for _, q := range []string{"", "?days=", "?days=0"} {
		status, body = h.do(t, http.MethodGet, "/api/dashboard/overview"+q, director, nil)
		require.Equal(t, http.StatusOK, status, q)
		assert.EqualValues(t, dashboard.DefaultDays, body["days"], q)
	}

	for _, q := range []string{"?days=-1", "?days=366"} {
		status, _ = h.do(t, http.MethodGet, "/api/dashboard/overview"+q, director, nil)
		assert.Equal(t, http.StatusBadRequest, status, q)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	rate, err := limiter.NewRateFromFormatted("2-M")
	require.NoError(t, err)
	h := newHarness(t, limiter.New(memory.NewStore(), rate))

	creds := map[string]any{"email": "nobody@montvert.test", "password": "wrong-password"}
	for i := 0; i < 2; i++ {
		status, _ := h.do(t, http.MethodPost, "/api/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := h.do(t, http.MethodPost, "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", body["code"])
}

func TestRegisterAdminOnlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	first := map[string]any{"name": "Chef", "email": "chef@montvert.test", "password": "long-enough-pw"}

	status, _ := h.do(t, http.MethodPost, "/api/auth/register-admin", "", first)
	require.Equal(t, http.StatusCreated, status)

	status, body := h.do(t, http.MethodPost, "/api/auth/login", "",
		map[string]any{"email": "chef@montvert.test", "password": "long-enough-pw"})
	require.Equal(t, http.StatusOK, status)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	status, _ = h.do(t, http.MethodGet, "/api/auth/me", tok, nil)
	assert.Equal(t, http.StatusOK, status)

	second := map[string]any{"name": "Other", "email": "other@montvert.test", "password": "long-enough-pw"}
	status, _ = h.do(t, http.MethodPost, "/api/auth/register-admin", "", second)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestProductLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.token(t, models.RoleAdmin)

	status, body := h.do(t, http.MethodPost, "/api/products", admin,
		map[string]any{"name": "Butter", "unit": "kg", "cost": 8.5, "alert_threshold": 2, "active": false})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, false, body["active"])
	id := uint(body["id"].(float64))

	status, body = h.do(t, http.MethodPost, "/api/products", admin, map[string]any{"name": "Butter", "unit": "kg"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["code"])

	status, body = h.do(t, http.MethodPut, fmt.Sprintf("/api/products/%d", id), admin, map[string]any{"active": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["active"])

	dbtest.Lot(t, h.db, id, "1", today.AddDate(0, 0, 3))
	status, body = h.do(t, http.MethodDelete, fmt.Sprintf("/api/products/%d", id), admin, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Cannot delete: product in use.", body["error"])

	var audits int64
	require.NoError(t, h.db.Model(&models.AuditLog{}).Where("entity_type = ?", "product").Count(&audits).Error)
	assert.Equal(t, int64(2), audits)
}

func TestMealPlanFlowOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	kitchen := h.token(t, models.RoleKitchen)
	director := h.token(t, models.RoleDirector)
	p := dbtest.Product(t, h.db, "Pasta", "1.2", "0")
	dbtest.Lot(t, h.db, p.ID, "5", today.AddDate(0, 0, 10))
	r := dbtest.Recipe(t, h.db, "Carbonara", "0", map[uint]string{p.ID: "0.1"})

	plan := map[string]any{
		"period_start": "2026-10-19",
		"period_end":   "2026-10-25",
		"items":        []map[string]any{{"recipe_id": r.ID, "portions": 30, "planned_for": "2026-10-20"}},
	}
	status, _ := h.do(t, http.MethodPost, "/api/meal-plans", director, plan)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := h.do(t, http.MethodPost, "/api/meal-plans", kitchen, plan)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "DRAFT", body["status"])
	id := uint(body["id"].(float64))

	status, body = h.do(t, http.MethodPost, fmt.Sprintf("/api/meal-plans/%d/confirm", id), kitchen, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CONFIRMED", body["status"])

	var held int64
	require.NoError(t, h.db.Model(&models.Reservation{}).Count(&held).Error)
	assert.Equal(t, int64(1), held)

	status, body = h.do(t, http.MethodPost, fmt.Sprintf("/api/meal-plans/%d/execute", id), kitchen, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "EXECUTED", body["status"])

	status, body = h.do(t, http.MethodDelete, fmt.Sprintf("/api/meal-plans/%d", id), kitchen, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["code"])
}
