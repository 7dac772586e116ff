package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statsDeviceRepo serves canned aggregates and records the filter it saw.
type statsDeviceRepo struct {
	fakeListRepo
	productCodes []repository.CountRow
	lastFilter   repository.DeviceListFilter
	failColumn   string
}

func (r *statsDeviceRepo) FindUnclassified(string, int) ([]*model.Device, error) { return nil, nil }
func (r *statsDeviceRepo) UpdateClassification(string, model.Classification, string) error {
	return nil
}

func (r *statsDeviceRepo) CountDevices(filter repository.DeviceListFilter) (int64, error) {
	r.lastFilter = filter
	return 42, nil
}

func (r *statsDeviceRepo) CountDistinct(string, repository.DeviceListFilter) (int64, error) {
	return 7, nil
}

func (r *statsDeviceRepo) CountByMonth(repository.DeviceListFilter) ([]repository.CountRow, error) {
	return []repository.CountRow{{Label: "2024-01", Count: 3}, {Label: "2024-02", Count: 5}}, nil
}

func (r *statsDeviceRepo) TopCompanies(_ repository.DeviceListFilter, limit int) ([]repository.CountRow, error) {
	return []repository.CountRow{{Label: "Acme", Count: 9}}, nil
}

func (r *statsDeviceRepo) CountByColumn(column string, _ repository.DeviceListFilter) ([]repository.CountRow, error) {
	if column == r.failColumn {
		return nil, fmt.Errorf("aggregate failed")
	}
	if column == "product_code" {
		return r.productCodes, nil
	}
	return []repository.CountRow{{Label: column, Count: 1}}, nil
}

type statsChunkRepo struct{ total int64 }

func (r *statsChunkRepo) BatchCreate([]*model.DeviceChunk) error { return nil }
func (r *statsChunkRepo) FindBySubmissionNumber(string) ([]*model.DeviceChunk, error) {
	return nil, nil
}
func (r *statsChunkRepo) DeleteBySubmissionNumber(string) error { return nil }
func (r *statsChunkRepo) CountAll() (int64, error)              { return r.total, nil }

func TestDashboardAssemblesSections(t *testing.T) {
	deviceRepo := &statsDeviceRepo{}
	svc := NewStatsService(deviceRepo, &statsChunkRepo{total: 123})

	filter := repository.DeviceListFilter{Panel: "RA", Year: "2024"}
	dashboard, err := svc.Dashboard(context.Background(), filter)
	require.NoError(t, err)

	assert.Equal(t, int64(42), dashboard.Summary.TotalDevices)
	assert.Equal(t, int64(123), dashboard.Summary.IndexedChunks)
	assert.Len(t, dashboard.Timeline, 2)
	assert.Len(t, dashboard.TopCompanies, 1)
	assert.Equal(t, filter, deviceRepo.lastFilter, "filter is passed through")
}

func TestDashboardTruncatesProductCodes(t *testing.T) {
	deviceRepo := &statsDeviceRepo{}
	for i := 0; i < 20; i++ {
		deviceRepo.productCodes = append(deviceRepo.productCodes,
			repository.CountRow{Label: fmt.Sprintf("PC%02d", i), Count: int64(20 - i)})
	}
	svc := NewStatsService(deviceRepo, &statsChunkRepo{})

	dashboard, err := svc.Dashboard(context.Background(), repository.DeviceListFilter{})
	require.NoError(t, err)
	assert.Len(t, dashboard.TopProductCodes, 15)
	assert.Equal(t, "PC00", dashboard.TopProductCodes[0].Label)
}

func TestDashboardPropagatesAggregateFailure(t *testing.T) {
	svc := NewStatsService(&statsDeviceRepo{failColumn: "panel"}, &statsChunkRepo{})

	_, err := svc.Dashboard(context.Background(), repository.DeviceListFilter{})
	require.Error(t, err)
}
