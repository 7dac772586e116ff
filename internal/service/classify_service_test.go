package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassificationPlainJSON(t *testing.T) {
	c, err := parseClassification(`{"imaging_modality":"CT","body_region":"Chest/Lung","clinical_application":"Screening"}`)
	require.NoError(t, err)
	assert.Equal(t, "CT", c.ImagingModality)
	assert.Equal(t, "Chest/Lung", c.BodyRegion)
	assert.Equal(t, "Screening", c.ClinicalApplication)
}

func TestParseClassificationWrappedInProse(t *testing.T) {
	reply := "Sure, here is the classification:\n```json\n" +
		`{"imaging_modality":"MRI","body_region":"Brain","clinical_application":"Diagnosis"}` +
		"\n```\nLet me know if you need anything else."
	c, err := parseClassification(reply)
	require.NoError(t, err)
	assert.Equal(t, "MRI", c.ImagingModality)
}

func TestParseClassificationRejectsMissingFields(t *testing.T) {
	_, err := parseClassification(`{"imaging_modality":"CT"}`)
	require.Error(t, err)
}

func TestParseClassificationRejectsNonJSON(t *testing.T) {
	_, err := parseClassification("I cannot classify this device.")
	require.Error(t, err)
}

// classifyDeviceRepo tracks classification updates in memory.
type classifyDeviceRepo struct {
	fakeListRepo
	mu           sync.Mutex
	unclassified []*model.Device
	updated      map[string]model.Classification
	versions     map[string]string
}

// fakeListRepo stubs the DeviceRepository methods the classify service
// never touches.
type fakeListRepo struct{}

func (fakeListRepo) FindWithText() ([]*model.Device, error)                   { return nil, nil }
func (fakeListRepo) FindBySubmissionNumber(string) (*model.Device, error)     { return nil, nil }
func (fakeListRepo) FindBySubmissionNumbers([]string) ([]*model.Device, error) { return nil, nil }
func (fakeListRepo) List(repository.DeviceListFilter, int, int) ([]*model.Device, int64, error) {
	return nil, 0, nil
}
func (fakeListRepo) CountDevices(repository.DeviceListFilter) (int64, error) { return 0, nil }
func (fakeListRepo) CountDistinct(string, repository.DeviceListFilter) (int64, error) {
	return 0, nil
}
func (fakeListRepo) CountByMonth(repository.DeviceListFilter) ([]repository.CountRow, error) {
	return nil, nil
}
func (fakeListRepo) TopCompanies(repository.DeviceListFilter, int) ([]repository.CountRow, error) {
	return nil, nil
}
func (fakeListRepo) CountByColumn(string, repository.DeviceListFilter) ([]repository.CountRow, error) {
	return nil, nil
}

func (r *classifyDeviceRepo) FindUnclassified(_ string, limit int) ([]*model.Device, error) {
	if limit > 0 && limit < len(r.unclassified) {
		return r.unclassified[:limit], nil
	}
	return r.unclassified, nil
}

func (r *classifyDeviceRepo) UpdateClassification(submissionNumber string, c model.Classification, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated[submissionNumber] = c
	r.versions[submissionNumber] = version
	return nil
}

// classifierLLM returns per-device canned replies keyed by device name.
type classifierLLM struct {
	replies map[string]string
}

func (c *classifierLLM) Complete(_ context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	prompt := messages[len(messages)-1].Content
	for name, reply := range c.replies {
		if name != "" && strings.Contains(prompt, name) {
			if reply == "" {
				return "", fmt.Errorf("llm failure")
			}
			return reply, nil
		}
	}
	return "", fmt.Errorf("no canned reply")
}

func (c *classifierLLM) StreamChatMessages(context.Context, []llm.Message, *llm.GenerationParams, llm.MessageWriter) error {
	return fmt.Errorf("not used")
}

func TestClassifyAllUpdatesDevices(t *testing.T) {
	repo := &classifyDeviceRepo{
		unclassified: []*model.Device{
			{SubmissionNumber: "K1", DeviceName: "LungScreen CT", Panel: "RA", ProductCode: "QAS"},
			{SubmissionNumber: "K2", DeviceName: "NeuroView MRI", Panel: "RA", ProductCode: "LLZ"},
		},
		updated:  make(map[string]model.Classification),
		versions: make(map[string]string),
	}
	llmClient := &classifierLLM{replies: map[string]string{
		"LungScreen CT": `{"imaging_modality":"CT","body_region":"Chest/Lung","clinical_application":"Screening"}`,
		"NeuroView MRI": `{"imaging_modality":"MRI","body_region":"Brain","clinical_application":"Diagnosis"}`,
	}}

	svc := NewClassifyService(repo, llmClient, config.ClassifyConfig{BatchSize: 10})
	report, err := svc.ClassifyAll(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Failed)

	assert.Equal(t, "CT", repo.updated["K1"].ImagingModality)
	assert.Equal(t, "Brain", repo.updated["K2"].BodyRegion)
	assert.Equal(t, ClassificationVersion, repo.versions["K1"])
	assert.Equal(t, ClassificationVersion, repo.versions["K2"])
}

func TestClassifyAllContinuesOnFailure(t *testing.T) {
	repo := &classifyDeviceRepo{
		unclassified: []*model.Device{
			{SubmissionNumber: "K1", DeviceName: "BrokenDevice", Panel: "RA", ProductCode: "QAS"},
			{SubmissionNumber: "K2", DeviceName: "NeuroView MRI", Panel: "RA", ProductCode: "LLZ"},
		},
		updated:  make(map[string]model.Classification),
		versions: make(map[string]string),
	}
	llmClient := &classifierLLM{replies: map[string]string{
		"BrokenDevice":  "",
		"NeuroView MRI": `{"imaging_modality":"MRI","body_region":"Brain","clinical_application":"Diagnosis"}`,
	}}

	svc := NewClassifyService(repo, llmClient, config.ClassifyConfig{BatchSize: 10})
	report, err := svc.ClassifyAll(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	_, updated := repo.updated["K1"]
	assert.False(t, updated, "failed classifications must not be stored")
}

func TestClassifyAllHonorsLimit(t *testing.T) {
	repo := &classifyDeviceRepo{
		unclassified: []*model.Device{
			{SubmissionNumber: "K1", DeviceName: "LungScreen CT"},
			{SubmissionNumber: "K2", DeviceName: "NeuroView MRI"},
		},
		updated:  make(map[string]model.Classification),
		versions: make(map[string]string),
	}
	llmClient := &classifierLLM{replies: map[string]string{
		"LungScreen CT": `{"imaging_modality":"CT","body_region":"Chest/Lung","clinical_application":"Screening"}`,
	}}

	svc := NewClassifyService(repo, llmClient, config.ClassifyConfig{BatchSize: 10})
	report, err := svc.ClassifyAll(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
}

func TestClassifyAllNothingToDo(t *testing.T) {
	repo := &classifyDeviceRepo{
		updated:  make(map[string]model.Classification),
		versions: make(map[string]string),
	}
	svc := NewClassifyService(repo, &classifierLLM{}, config.ClassifyConfig{})

	report, err := svc.ClassifyAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
}
