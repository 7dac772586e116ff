package repository

import (
	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"gorm.io/gorm"
)

// DeviceChunkRepository defines the operations on the device_chunks staging
// table.
type DeviceChunkRepository interface {
	BatchCreate(chunks []*model.DeviceChunk) error
	FindBySubmissionNumber(submissionNumber string) ([]*model.DeviceChunk, error)
	DeleteBySubmissionNumber(submissionNumber string) error
	CountAll() (int64, error)
}

type deviceChunkRepository struct {
	db *gorm.DB
}

// NewDeviceChunkRepository creates a new DeviceChunkRepository instance.
func NewDeviceChunkRepository(db *gorm.DB) DeviceChunkRepository {
	return &deviceChunkRepository{db: db}
}

// BatchCreate inserts chunk rows in batches of 100.
func (r *deviceChunkRepository) BatchCreate(chunks []*model.DeviceChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error
}

func (r *deviceChunkRepository) FindBySubmissionNumber(submissionNumber string) ([]*model.DeviceChunk, error) {
	var chunks []*model.DeviceChunk
	err := r.db.
		Where("submission_number = ?", submissionNumber).
		Order("chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

func (r *deviceChunkRepository) DeleteBySubmissionNumber(submissionNumber string) error {
	return r.db.Where("submission_number = ?", submissionNumber).Delete(&model.DeviceChunk{}).Error
}

func (r *deviceChunkRepository) CountAll() (int64, error) {
	var total int64
	err := r.db.Model(&model.DeviceChunk{}).Count(&total).Error
	return total, err
}
