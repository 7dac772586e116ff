// Package repository implements the data access layer.
package repository

import (
	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"gorm.io/gorm"
)

// DeviceListFilter narrows device listings and dashboard aggregates. Zero
// values mean "no restriction"; Year matches the decision date prefix.
type DeviceListFilter struct {
	Panel       string
	Company     string
	ProductCode string
	Year        string
}

// CountRow is one labelled bucket of an aggregate query.
type CountRow struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// DeviceRepository defines read access to the device corpus plus the
// classification column updates owned by this service.
type DeviceRepository interface {
	FindWithText() ([]*model.Device, error)
	FindBySubmissionNumber(submissionNumber string) (*model.Device, error)
	FindBySubmissionNumbers(submissionNumbers []string) ([]*model.Device, error)
	List(filter DeviceListFilter, page, pageSize int) ([]*model.Device, int64, error)
	FindUnclassified(version string, limit int) ([]*model.Device, error)
	UpdateClassification(submissionNumber string, c model.Classification, version string) error

	CountDevices(filter DeviceListFilter) (int64, error)
	CountDistinct(column string, filter DeviceListFilter) (int64, error)
	CountByMonth(filter DeviceListFilter) ([]CountRow, error)
	TopCompanies(filter DeviceListFilter, limit int) ([]CountRow, error)
	CountByColumn(column string, filter DeviceListFilter) ([]CountRow, error)
}

type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository instance.
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) scoped(filter DeviceListFilter) *gorm.DB {
	q := r.db.Model(&model.Device{})
	if filter.Panel != "" {
		q = q.Where("panel = ?", filter.Panel)
	}
	if filter.Company != "" {
		q = q.Where("company = ?", filter.Company)
	}
	if filter.ProductCode != "" {
		q = q.Where("product_code = ?", filter.ProductCode)
	}
	if filter.Year != "" {
		q = q.Where("decision_date LIKE ?", filter.Year+"-%")
	}
	return q
}

// FindWithText returns every device whose letter text was extracted; this
// is the corpus the index builder materializes.
func (r *deviceRepository) FindWithText() ([]*model.Device, error) {
	var devices []*model.Device
	err := r.db.
		Where("extracted_text IS NOT NULL AND extracted_text != ''").
		Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) FindBySubmissionNumber(submissionNumber string) (*model.Device, error) {
	var device model.Device
	err := r.db.Where("submission_number = ?", submissionNumber).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) FindBySubmissionNumbers(submissionNumbers []string) ([]*model.Device, error) {
	if len(submissionNumbers) == 0 {
		return nil, nil
	}
	var devices []*model.Device
	err := r.db.Where("submission_number IN ?", submissionNumbers).Find(&devices).Error
	return devices, err
}

// List returns one page of devices plus the total match count.
func (r *deviceRepository) List(filter DeviceListFilter, page, pageSize int) ([]*model.Device, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	var total int64
	if err := r.scoped(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var devices []*model.Device
	err := r.scoped(filter).
		Order("decision_date DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&devices).Error
	return devices, total, err
}

// FindUnclassified returns devices missing the current classification
// version, newest decisions first.
func (r *deviceRepository) FindUnclassified(version string, limit int) ([]*model.Device, error) {
	q := r.db.
		Where("ai_tags_version IS NULL OR ai_tags_version != ?", version).
		Order("decision_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var devices []*model.Device
	err := q.Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) UpdateClassification(submissionNumber string, c model.Classification, version string) error {
	return r.db.Model(&model.Device{}).
		Where("submission_number = ?", submissionNumber).
		Updates(map[string]interface{}{
			"imaging_modality":     c.ImagingModality,
			"body_region":          c.BodyRegion,
			"clinical_application": c.ClinicalApplication,
			"ai_tags_version":      version,
		}).Error
}

func (r *deviceRepository) CountDevices(filter DeviceListFilter) (int64, error) {
	var total int64
	err := r.scoped(filter).Count(&total).Error
	return total, err
}

func (r *deviceRepository) CountDistinct(column string, filter DeviceListFilter) (int64, error) {
	var total int64
	err := r.scoped(filter).Distinct(column).Count(&total).Error
	return total, err
}

// CountByMonth buckets approvals by decision month (YYYY-MM).
func (r *deviceRepository) CountByMonth(filter DeviceListFilter) ([]CountRow, error) {
	var rows []CountRow
	err := r.scoped(filter).
		Select("SUBSTRING(decision_date, 1, 7) AS label, COUNT(*) AS count").
		Where("decision_date IS NOT NULL AND decision_date != ''").
		Group("label").
		Order("label ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *deviceRepository) TopCompanies(filter DeviceListFilter, limit int) ([]CountRow, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []CountRow
	err := r.scoped(filter).
		Select("company AS label, COUNT(*) AS count").
		Where("company IS NOT NULL AND company != ''").
		Group("label").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// CountByColumn buckets devices by one categorical column. Only the fixed
// set of grouping columns is accepted to keep the SQL injection surface
// closed.
func (r *deviceRepository) CountByColumn(column string, filter DeviceListFilter) ([]CountRow, error) {
	switch column {
	case "panel", "product_code", "imaging_modality", "body_region", "clinical_application":
	default:
		return nil, gorm.ErrInvalidField
	}
	var rows []CountRow
	err := r.scoped(filter).
		Select(column+" AS label, COUNT(*) AS count").
		Where(column+" IS NOT NULL AND "+column+" != ''").
		Group("label").
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}
