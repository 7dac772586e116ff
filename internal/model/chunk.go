package model

import "fmt"

// DeviceChunk corresponds to the device_chunks table. Chunk texts are staged
// here before embedding so a partially failed build can be resumed without
// re-chunking, and so the dashboard can show chunk counts without hitting
// the vector index.
type DeviceChunk struct {
	ID               uint   `gorm:"primaryKey;autoIncrement;column:id"`
	SubmissionNumber string `gorm:"type:varchar(20);not null;index;column:submission_number"`
	ChunkIndex       int    `gorm:"not null;column:chunk_index"`
	CharStart        int    `gorm:"not null;column:char_start"`
	TextContent      string `gorm:"type:text;column:text_content"`
	ModelVersion     string `gorm:"type:varchar(50);column:model_version"`
}

func (DeviceChunk) TableName() string {
	return "device_chunks"
}

// ChunkDocument is the document stored in the Elasticsearch vector index:
// one chunk of approval-letter text plus its vector and denormalized device
// metadata. VectorID is the storage key, so re-indexing the same chunk
// overwrites instead of duplicating.
type ChunkDocument struct {
	VectorID         string    `json:"vector_id"`
	SubmissionNumber string    `json:"submission_number"`
	DeviceName       string    `json:"device_name"`
	Company          string    `json:"company"`
	Panel            string    `json:"panel"`
	ProductCode      string    `json:"product_code"`
	DecisionDate     string    `json:"decision_date"`
	ChunkIndex       int       `json:"chunk_index"`
	TextContent      string    `json:"text_content"`
	Vector           []float32 `json:"vector"`
	ModelVersion     string    `json:"model_version"`
}

// ChunkKey builds the stable identity of a chunk in the vector index.
func ChunkKey(submissionNumber string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", submissionNumber, chunkIndex)
}

// SearchFilter restricts retrieval by denormalized chunk metadata. Zero
// values mean "no restriction". Dates are inclusive YYYY-MM-DD bounds.
type SearchFilter struct {
	Panel            string `json:"panel,omitempty"`
	ProductCode      string `json:"productCode,omitempty"`
	DecisionDateFrom string `json:"decisionDateFrom,omitempty"`
	DecisionDateTo   string `json:"decisionDateTo,omitempty"`
}

// IsZero reports whether the filter restricts nothing.
func (f SearchFilter) IsZero() bool {
	return f.Panel == "" && f.ProductCode == "" && f.DecisionDateFrom == "" && f.DecisionDateTo == ""
}

// RetrievalResult is one ranked chunk returned to callers of the retriever.
// Distance is 1 - similarity score, so lower is closer.
type RetrievalResult struct {
	SubmissionNumber string  `json:"submissionNumber"`
	DeviceName       string  `json:"deviceName"`
	Company          string  `json:"company"`
	Panel            string  `json:"panel"`
	ProductCode      string  `json:"productCode"`
	DecisionDate     string  `json:"decisionDate"`
	ChunkIndex       int     `json:"chunkIndex"`
	TextContent      string  `json:"textContent"`
	Distance         float64 `json:"distance"`
}

// Citation identifies a source device referenced by a generated answer.
type Citation struct {
	SubmissionNumber string `json:"submissionNumber"`
	DeviceName       string `json:"deviceName"`
	Company          string `json:"company"`
}
