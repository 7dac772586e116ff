package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/llm"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
)

// ClassificationVersion tags rows classified with the current prompt.
// Bumping it marks every device as unclassified again.
const ClassificationVersion = "v1.0"

const classificationPrompt = `You are a medical device classification expert. Analyze this FDA-approved AI/ML medical device and extract structured information.

Device Information:
- Name: %s
- Panel: %s
- Product Code: %s

Extract the following categories (use "Unknown" if not determinable):

1. **Imaging Modality** (select ONE most relevant):
   - CT
   - MRI
   - X-ray
   - Ultrasound
   - Endoscopy
   - ECG
   - EEG
   - PET
   - Mammography
   - Fluoroscopy
   - OCT
   - Non-imaging
   - Unknown

2. **Body Region** (select ONE primary region):
   - Brain
   - Heart
   - Chest/Lung
   - Breast
   - Abdomen
   - Liver
   - Kidney
   - Bone/Musculoskeletal
   - Eye/Retina
   - Vascular
   - Multi-organ
   - Not applicable
   - Unknown

3. **Clinical Application** (select ONE primary purpose):
   - Screening
   - Diagnosis
   - Treatment Planning
   - Monitoring
   - Risk Assessment
   - Image Enhancement
   - Workflow Optimization
   - Detection/Segmentation
   - Unknown

Respond ONLY with valid JSON in this exact format:
{
  "imaging_modality": "...",
  "body_region": "...",
  "clinical_application": "..."
}

No explanations, no additional text, only the JSON object.`

// ClassifyReport summarizes one classification run.
type ClassifyReport struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// ClassifyService runs the LLM batch job that tags devices with imaging
// modality, body region and clinical application.
type ClassifyService interface {
	// ClassifyAll classifies every device missing the current version tag.
	// limit <= 0 means no limit.
	ClassifyAll(ctx context.Context, limit int) (*ClassifyReport, error)
}

type classifyService struct {
	deviceRepo repository.DeviceRepository
	llmClient  llm.Client
	cfg        config.ClassifyConfig
}

// NewClassifyService creates a new ClassifyService instance.
func NewClassifyService(deviceRepo repository.DeviceRepository, llmClient llm.Client, cfg config.ClassifyConfig) ClassifyService {
	return &classifyService{
		deviceRepo: deviceRepo,
		llmClient:  llmClient,
		cfg:        cfg,
	}
}

func (s *classifyService) ClassifyAll(ctx context.Context, limit int) (*ClassifyReport, error) {
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	devices, err := s.deviceRepo.FindUnclassified(ClassificationVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load unclassified devices: %w", err)
	}

	report := &ClassifyReport{Total: len(devices)}
	if len(devices) == 0 {
		log.Info("[ClassifyService] all devices already classified with current version")
		return report, nil
	}
	log.Infof("[ClassifyService] found %d devices to classify", len(devices))

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for idx, device := range devices {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		classification, err := s.classifyDevice(ctx, device)
		if err != nil {
			report.Failed++
			log.Errorf("[ClassifyService] (%d/%d) %s: %v", idx+1, report.Total, device.SubmissionNumber, err)
			continue
		}

		if err := s.deviceRepo.UpdateClassification(device.SubmissionNumber, *classification, ClassificationVersion); err != nil {
			report.Failed++
			log.Errorf("[ClassifyService] (%d/%d) %s: failed to store classification: %v", idx+1, report.Total, device.SubmissionNumber, err)
			continue
		}

		report.Processed++
		log.Infof("[ClassifyService] (%d/%d) %s: modality=%s region=%s application=%s",
			idx+1, report.Total, device.SubmissionNumber,
			classification.ImagingModality, classification.BodyRegion, classification.ClinicalApplication)

		if report.Processed%batchSize == 0 {
			log.Infof("[ClassifyService] checkpoint: %d/%d completed", report.Processed, report.Total)
		}
	}

	log.Infof("[ClassifyService] classification complete: processed=%d failed=%d total=%d",
		report.Processed, report.Failed, report.Total)
	return report, nil
}

// classifyDevice asks the LLM for one device's tags. Sampling runs cold so
// repeated runs agree with each other.
func (s *classifyService) classifyDevice(ctx context.Context, device *model.Device) (*model.Classification, error) {
	prompt := fmt.Sprintf(classificationPrompt, device.DeviceName, device.Panel, device.ProductCode)

	temperature := 0.1
	topP := 0.9
	reply, err := s.llmClient.Complete(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		&llm.GenerationParams{Temperature: &temperature, TopP: &topP},
	)
	if err != nil {
		return nil, err
	}

	classification, err := parseClassification(reply)
	if err != nil {
		return nil, fmt.Errorf("unparseable classification: %w", err)
	}
	return classification, nil
}

// parseClassification extracts the first {...} span of the reply and decodes
// it. Models occasionally wrap the JSON in prose despite the prompt, so the
// span extraction tolerates that.
func parseClassification(reply string) (*model.Classification, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var c model.Classification
	if err := json.Unmarshal([]byte(reply[start:end+1]), &c); err != nil {
		return nil, err
	}
	if c.ImagingModality == "" || c.BodyRegion == "" || c.ClinicalApplication == "" {
		return nil, fmt.Errorf("missing required classification fields")
	}
	return &c, nil
}
