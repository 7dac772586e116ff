// Package pipeline materializes the vector index from the device corpus.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/internal/chunker"
	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/embedding"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/tasks"
)

// VectorIndex is the slice of the chunk store the builder needs. Upserts
// are keyed, so re-running a build overwrites rather than duplicates.
type VectorIndex interface {
	Upsert(ctx context.Context, docs []model.ChunkDocument) error
	DeleteBySubmission(ctx context.Context, submissionNumber string) error
}

// BuildFailure records one device the build could not index.
type BuildFailure struct {
	SubmissionNumber string `json:"submissionNumber"`
	Error            string `json:"error"`
}

// BuildReport summarizes one build run.
type BuildReport struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Chunks    int            `json:"chunks"`
	Failures  []BuildFailure `json:"failures,omitempty"`
	Duration  string         `json:"duration"`
}

// Status is a snapshot of build progress for the admin API.
type Status struct {
	Running    bool         `json:"running"`
	Processed  int          `json:"processed"`
	Total      int          `json:"total"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	LastReport *BuildReport `json:"lastReport,omitempty"`
}

// Builder orchestrates chunking, embedding and index upserts.
type Builder struct {
	deviceRepo repository.DeviceRepository
	chunkRepo  repository.DeviceChunkRepository
	embedder   embedding.Client
	index      VectorIndex
	ragCfg     config.RAGConfig

	mu         sync.Mutex
	running    bool
	processed  int
	total      int
	startedAt  time.Time
	lastReport *BuildReport
}

// NewBuilder creates a new index Builder.
func NewBuilder(
	deviceRepo repository.DeviceRepository,
	chunkRepo repository.DeviceChunkRepository,
	embedder embedding.Client,
	index VectorIndex,
	ragCfg config.RAGConfig,
) *Builder {
	return &Builder{
		deviceRepo: deviceRepo,
		chunkRepo:  chunkRepo,
		embedder:   embedder,
		index:      index,
		ragCfg:     ragCfg,
	}
}

// BuildAll runs a full build over every device with extracted text. Only
// one full build runs at a time; incremental tasks may still interleave
// because chunk keys never collide across records.
func (b *Builder) BuildAll(ctx context.Context) (*BuildReport, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil, fmt.Errorf("a build is already running")
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	devices, err := b.deviceRepo.FindWithText()
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	log.Infof("[IndexBuilder] full build starting, %d records with text", len(devices))
	return b.build(ctx, devices), nil
}

// BuildSubmissions runs an incremental build over the given submission
// numbers only; entries of unchanged records are left untouched.
func (b *Builder) BuildSubmissions(ctx context.Context, submissionNumbers []string) (*BuildReport, error) {
	devices, err := b.deviceRepo.FindBySubmissionNumbers(submissionNumbers)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	log.Infof("[IndexBuilder] incremental build starting, %d/%d records found", len(devices), len(submissionNumbers))
	return b.build(ctx, devices), nil
}

// ProcessReindex satisfies the Kafka task processor contract.
func (b *Builder) ProcessReindex(ctx context.Context, task tasks.ReindexTask) error {
	report, err := b.BuildSubmissions(ctx, []string{task.SubmissionNumber})
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("reindex of %s failed: %s", task.SubmissionNumber, report.Failures[0].Error)
	}
	return nil
}

// Status returns the current progress snapshot.
func (b *Builder) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Status{
		Running:    b.running,
		Processed:  b.processed,
		Total:      b.total,
		LastReport: b.lastReport,
	}
	if b.running {
		started := b.startedAt
		s.StartedAt = &started
	}
	return s
}

// build fans devices out to a bounded worker pool. Per-record failures are
// logged and accumulated; they never abort the run, so a corrupt record
// cannot block the rest of the corpus.
func (b *Builder) build(ctx context.Context, devices []*model.Device) *BuildReport {
	start := time.Now()

	b.mu.Lock()
	b.processed = 0
	b.total = len(devices)
	b.startedAt = start
	b.mu.Unlock()

	workers := b.ragCfg.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(devices) && len(devices) > 0 {
		workers = len(devices)
	}

	report := &BuildReport{Total: len(devices)}
	jobs := make(chan *model.Device)
	var wg sync.WaitGroup
	var mu sync.Mutex // guards report

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for device := range jobs {
				chunkCount, err := b.processDevice(ctx, device)

				mu.Lock()
				if err != nil {
					report.Failed++
					report.Failures = append(report.Failures, BuildFailure{
						SubmissionNumber: device.SubmissionNumber,
						Error:            err.Error(),
					})
				} else {
					report.Succeeded++
					report.Chunks += chunkCount
				}
				mu.Unlock()

				b.mu.Lock()
				b.processed++
				processed, total := b.processed, b.total
				b.mu.Unlock()

				if err != nil {
					log.Errorf("[IndexBuilder] record failed (%d/%d): %s: %v", processed, total, device.SubmissionNumber, err)
				} else {
					log.Infof("[IndexBuilder] record indexed (%d/%d): %s, %d chunks", processed, total, device.SubmissionNumber, chunkCount)
				}
			}
		}()
	}

	for _, device := range devices {
		jobs <- device
	}
	close(jobs)
	wg.Wait()

	report.Duration = time.Since(start).String()
	log.Infof("[IndexBuilder] build finished: total=%d succeeded=%d failed=%d chunks=%d duration=%s",
		report.Total, report.Succeeded, report.Failed, report.Chunks, report.Duration)

	b.mu.Lock()
	b.lastReport = report
	b.mu.Unlock()
	return report
}

// processDevice indexes a single record: chunk, stage the chunk rows, embed
// in batches, purge the record's old index entries and upsert the fresh
// ones. A failed embedding leaves the index untouched for this record.
func (b *Builder) processDevice(ctx context.Context, device *model.Device) (int, error) {
	chunks := chunker.Split(device.ExtractedText, b.ragCfg.ChunkSize, b.ragCfg.ChunkOverlap)
	if len(chunks) == 0 {
		// Empty text is a no-op, not an error, but any previously indexed
		// chunks of this record are stale now.
		log.Warnf("[IndexBuilder] record %s has no chunkable text, purging old entries", device.SubmissionNumber)
		if err := b.chunkRepo.DeleteBySubmissionNumber(device.SubmissionNumber); err != nil {
			return 0, fmt.Errorf("failed to purge chunk rows: %w", err)
		}
		if err := b.index.DeleteBySubmission(ctx, device.SubmissionNumber); err != nil {
			return 0, err
		}
		return 0, nil
	}

	// Stage one: persist the chunk rows. Deleting first keeps repeated
	// builds from accumulating rows.
	if err := b.chunkRepo.DeleteBySubmissionNumber(device.SubmissionNumber); err != nil {
		return 0, fmt.Errorf("failed to purge chunk rows: %w", err)
	}
	rows := make([]*model.DeviceChunk, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, &model.DeviceChunk{
			SubmissionNumber: device.SubmissionNumber,
			ChunkIndex:       c.Index,
			CharStart:        c.Start,
			TextContent:      c.Text,
			ModelVersion:     b.embedder.ModelName(),
		})
		texts = append(texts, c.Text)
	}
	if err := b.chunkRepo.BatchCreate(rows); err != nil {
		return 0, fmt.Errorf("failed to stage chunk rows: %w", err)
	}

	// Stage two: embed and upsert. The embedding client batches and
	// retries internally; if it still fails, nothing reaches the index.
	vectors, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := b.index.DeleteBySubmission(ctx, device.SubmissionNumber); err != nil {
		return 0, err
	}
	docs := make([]model.ChunkDocument, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, model.ChunkDocument{
			VectorID:         model.ChunkKey(device.SubmissionNumber, c.Index),
			SubmissionNumber: device.SubmissionNumber,
			DeviceName:       device.DeviceName,
			Company:          device.Company,
			Panel:            device.Panel,
			ProductCode:      device.ProductCode,
			DecisionDate:     device.DecisionDate,
			ChunkIndex:       c.Index,
			TextContent:      c.Text,
			Vector:           vectors[i],
			ModelVersion:     b.embedder.ModelName(),
		})
	}
	if err := b.index.Upsert(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}
