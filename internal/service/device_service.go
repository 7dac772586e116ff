package service

import (
	"fmt"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/storage"
)

const letterURLExpiry = 15 * time.Minute

// DeviceDetail is one device record plus its staged chunks.
type DeviceDetail struct {
	Device *model.Device        `json:"device"`
	Chunks []*model.DeviceChunk `json:"chunks"`
}

// DeviceService exposes corpus browsing and the approval-letter archive.
type DeviceService interface {
	List(filter repository.DeviceListFilter, page, pageSize int) ([]*model.Device, int64, error)
	Get(submissionNumber string) (*DeviceDetail, error)
	// LetterURL returns a short-lived presigned URL for the record's
	// approval letter PDF in the archive bucket.
	LetterURL(submissionNumber string) (string, error)
}

type deviceService struct {
	deviceRepo repository.DeviceRepository
	chunkRepo  repository.DeviceChunkRepository
	bucketName string
}

// NewDeviceService creates a new DeviceService instance.
func NewDeviceService(deviceRepo repository.DeviceRepository, chunkRepo repository.DeviceChunkRepository, bucketName string) DeviceService {
	return &deviceService{
		deviceRepo: deviceRepo,
		chunkRepo:  chunkRepo,
		bucketName: bucketName,
	}
}

func (s *deviceService) List(filter repository.DeviceListFilter, page, pageSize int) ([]*model.Device, int64, error) {
	return s.deviceRepo.List(filter, page, pageSize)
}

func (s *deviceService) Get(submissionNumber string) (*DeviceDetail, error) {
	device, err := s.deviceRepo.FindBySubmissionNumber(submissionNumber)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunkRepo.FindBySubmissionNumber(submissionNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks of %s: %w", submissionNumber, err)
	}
	return &DeviceDetail{Device: device, Chunks: chunks}, nil
}

func (s *deviceService) LetterURL(submissionNumber string) (string, error) {
	// Verify the record exists before minting a URL for it.
	if _, err := s.deviceRepo.FindBySubmissionNumber(submissionNumber); err != nil {
		return "", err
	}
	return storage.GetPresignedURL(s.bucketName, storage.LetterObjectName(submissionNumber), letterURLExpiry)
}
