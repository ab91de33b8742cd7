package inventory

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/audit"
	"github.com/oussamajomaa/mont-vert/internal/database"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// LotRow is one delivery line of a receipt sheet: product, quantity, expiry
// date and an optional batch number, in that column order.
type LotRow struct {
	Line        int
	Product     string
	Quantity    decimal.Decimal
	ExpiryDate  time.Time
	BatchNumber string
}

type ImportResult struct {
	Imported int          `json:"imported"`
	Lots     []models.Lot `json:"lots"`
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02.01.2006"}

// ParseLotSheet reads the first sheet of an xlsx workbook. A first row whose
// first cell mentions "product" is a header and skipped. Blank rows are
// ignored.
func ParseLotSheet(r io.Reader) ([]LotRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Validation("cannot read workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperr.Validation("workbook has no sheet")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperr.Validation("cannot read sheet %q: %v", sheets[0], err)
	}

	start := 0
	if len(rows) > 0 && len(rows[0]) > 0 &&
		strings.Contains(strings.ToLower(rows[0][0]), "product") {
		start = 1
	}

	var out []LotRow
	for i := start; i < len(rows); i++ {
		row := rows[i]
		line := i + 1
		if blank(row) {
			continue
		}
		if len(row) < 3 {
			return nil, apperr.Validation("line %d: expected product, quantity and expiry date", line)
		}

		qty, err := stock.ParseQuantity(row[1])
		if err != nil || !qty.IsPositive() {
			return nil, apperr.Validation("line %d: invalid quantity %q", line, row[1])
		}
		expiry, err := parseSheetDate(row[2])
		if err != nil {
			return nil, apperr.Validation("line %d: invalid expiry date %q", line, row[2])
		}

		lr := LotRow{
			Line:       line,
			Product:    strings.TrimSpace(row[0]),
			Quantity:   qty,
			ExpiryDate: expiry,
		}
		if len(row) > 3 {
			lr.BatchNumber = strings.TrimSpace(row[3])
		}
		out = append(out, lr)
	}
	if len(out) == 0 {
		return nil, apperr.Validation("sheet has no lot rows")
	}
	return out, nil
}

// parseSheetDate accepts text dates and raw Excel serial numbers.
func parseSheetDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return stock.DayStart(t), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ImportLots receives every row in one transaction: one bad row and nothing
// is booked. Products are matched by name, ignoring case and spacing.
func ImportLots(ctx context.Context, st *stock.Engine, rows []LotRow) (*ImportResult, error) {
	res := &ImportResult{}
	err := database.WithTx(ctx, st.DB(), func(tx *gorm.DB) error {
		res.Lots = res.Lots[:0]

		var products []models.Product
		if err := tx.Where("active = ?", true).Find(&products).Error; err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		byName := make(map[string]uint, len(products))
		for _, p := range products {
			byName[normalizeName(p.Name)] = p.ID
		}

		for _, r := range rows {
			pid, ok := byName[normalizeName(r.Product)]
			if !ok {
				return apperr.Validation("line %d: unknown or inactive product %q", r.Line, r.Product)
			}
			lot, err := st.ReceiveLotTx(tx, stock.LotInput{
				ProductID:   pid,
				BatchNumber: r.BatchNumber,
				Quantity:    r.Quantity,
				ExpiryDate:  r.ExpiryDate,
			})
			if err != nil {
				return err
			}
			res.Lots = append(res.Lots, *lot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Imported = len(res.Lots)
	st.Changed(ctx)
	return res, nil
}

// POST /api/lots/import (ADMIN, KITCHEN), multipart field "file"
func ImportLotsHandler(st *stock.Engine, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".xlsx") {
			return fiber.NewError(fiber.StatusBadRequest, "only .xlsx files are accepted")
		}

		file, err := fileHeader.Open()
		if err != nil {
			return err
		}
		defer file.Close()

		rows, err := ParseLotSheet(file)
		if err != nil {
			return err
		}
		res, err := ImportLots(c.UserContext(), st, rows)
		if err != nil {
			return err
		}

		for _, lot := range res.Lots {
			rec.Record(c, audit.LogOptions{
				EntityType:  "lot",
				EntityID:    lot.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("lot %s imported from %s", lot.BatchNumber, fileHeader.Filename),
				After:       lot,
			})
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}
