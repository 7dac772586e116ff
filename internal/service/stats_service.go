package service

import (
	"context"
	"fmt"

	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
)

// DashboardSummary carries the headline metrics of the corpus.
type DashboardSummary struct {
	TotalDevices  int64 `json:"totalDevices"`
	Companies     int64 `json:"companies"`
	Panels        int64 `json:"panels"`
	ProductCodes  int64 `json:"productCodes"`
	IndexedChunks int64 `json:"indexedChunks"`
}

// Dashboard is the full aggregate payload backing the analytics view. Every
// section honors the same filter.
type Dashboard struct {
	Summary                 DashboardSummary      `json:"summary"`
	Timeline                []repository.CountRow `json:"timeline"`
	TopCompanies            []repository.CountRow `json:"topCompanies"`
	PanelDistribution       []repository.CountRow `json:"panelDistribution"`
	TopProductCodes         []repository.CountRow `json:"topProductCodes"`
	ModalityDistribution    []repository.CountRow `json:"modalityDistribution"`
	RegionDistribution      []repository.CountRow `json:"regionDistribution"`
	ApplicationDistribution []repository.CountRow `json:"applicationDistribution"`
}

// StatsService computes the dashboard aggregates.
type StatsService interface {
	Dashboard(ctx context.Context, filter repository.DeviceListFilter) (*Dashboard, error)
}

type statsService struct {
	deviceRepo repository.DeviceRepository
	chunkRepo  repository.DeviceChunkRepository
}

// NewStatsService creates a new StatsService instance.
func NewStatsService(deviceRepo repository.DeviceRepository, chunkRepo repository.DeviceChunkRepository) StatsService {
	return &statsService{deviceRepo: deviceRepo, chunkRepo: chunkRepo}
}

const topProductCodeLimit = 15

func (s *statsService) Dashboard(ctx context.Context, filter repository.DeviceListFilter) (*Dashboard, error) {
	dashboard := &Dashboard{}

	var err error
	if dashboard.Summary.TotalDevices, err = s.deviceRepo.CountDevices(filter); err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	if dashboard.Summary.Companies, err = s.deviceRepo.CountDistinct("company", filter); err != nil {
		return nil, fmt.Errorf("failed to count companies: %w", err)
	}
	if dashboard.Summary.Panels, err = s.deviceRepo.CountDistinct("panel", filter); err != nil {
		return nil, fmt.Errorf("failed to count panels: %w", err)
	}
	if dashboard.Summary.ProductCodes, err = s.deviceRepo.CountDistinct("product_code", filter); err != nil {
		return nil, fmt.Errorf("failed to count product codes: %w", err)
	}
	if dashboard.Summary.IndexedChunks, err = s.chunkRepo.CountAll(); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	if dashboard.Timeline, err = s.deviceRepo.CountByMonth(filter); err != nil {
		return nil, fmt.Errorf("failed to build timeline: %w", err)
	}
	if dashboard.TopCompanies, err = s.deviceRepo.TopCompanies(filter, 10); err != nil {
		return nil, fmt.Errorf("failed to rank companies: %w", err)
	}
	if dashboard.PanelDistribution, err = s.deviceRepo.CountByColumn("panel", filter); err != nil {
		return nil, fmt.Errorf("failed to build panel distribution: %w", err)
	}
	if dashboard.TopProductCodes, err = s.deviceRepo.CountByColumn("product_code", filter); err != nil {
		return nil, fmt.Errorf("failed to build product code distribution: %w", err)
	}
	if len(dashboard.TopProductCodes) > topProductCodeLimit {
		dashboard.TopProductCodes = dashboard.TopProductCodes[:topProductCodeLimit]
	}

	// Classification distributions are empty until the batch job has run;
	// that is fine, the view just shows empty charts.
	if dashboard.ModalityDistribution, err = s.deviceRepo.CountByColumn("imaging_modality", filter); err != nil {
		return nil, fmt.Errorf("failed to build modality distribution: %w", err)
	}
	if dashboard.RegionDistribution, err = s.deviceRepo.CountByColumn("body_region", filter); err != nil {
		return nil, fmt.Errorf("failed to build region distribution: %w", err)
	}
	if dashboard.ApplicationDistribution, err = s.deviceRepo.CountByColumn("clinical_application", filter); err != nil {
		return nil, fmt.Errorf("failed to build application distribution: %w", err)
	}

	return dashboard, nil
}
