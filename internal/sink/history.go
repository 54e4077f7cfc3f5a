package sink

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DownloadRecord is one row of download history.
type DownloadRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	URL       string    `gorm:"type:text" json:"url"`
	Filename  string    `gorm:"size:255" json:"filename"`
	Path      string    `gorm:"type:text" json:"path"`
	Mode      string    `gorm:"size:32;index" json:"mode"`
	MIME      string    `gorm:"size:128" json:"mime"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (DownloadRecord) TableName() string { return "downloads" }

// History persists DownloadRecords.
type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) (*History, error) {
	if err := db.AutoMigrate(&DownloadRecord{}); err != nil {
		return nil, fmt.Errorf("sink: migrate history: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Record(ctx context.Context, rec DownloadRecord) error {
	if err := h.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("sink: record %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the newest records first; limit <= 0 means 50.
func (h *History) List(ctx context.Context, limit int) ([]DownloadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []DownloadRecord
	err := h.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("sink: list history: %w", err)
	}
	return out, nil
}

// Get looks up a record by handle.
func (h *History) Get(ctx context.Context, id string) (DownloadRecord, error) {
	var rec DownloadRecord
	if err := h.db.WithContext(ctx).Where(map[string]any{"id": id}).Take(&rec).Error; err != nil {
		return DownloadRecord{}, fmt.Errorf("sink: history %s: %w", id, err)
	}
	return rec, nil
}
