// Package audit records who changed what. Entries are written after the
// business transaction commits; a failed audit write is logged, never
// surfaced to the client.
package audit

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/auth"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type LogOptions struct {
	UserID      uint
	UserName    string
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

func WriteLog(db *gorm.DB, opts LogOptions) error {
	entry := models.AuditLog{
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  snapshot(opts.Before),
		AfterData:   snapshot(opts.After),
	}
	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func snapshot(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// Recorder stamps entries with the caller taken from the request.
type Recorder struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewRecorder(db *gorm.DB, log *logrus.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

func (r *Recorder) Record(c *fiber.Ctx, opts LogOptions) {
	opts.UserID, opts.UserName = auth.Actor(c)
	if err := WriteLog(r.db.WithContext(c.UserContext()), opts); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"entity_type": opts.EntityType,
			"entity_id":   opts.EntityID,
			"action":      opts.Action,
		}).Warn("audit entry dropped")
	}
}
