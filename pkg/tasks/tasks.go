// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ReindexTask asks the indexer to (re)build the vector index entries of one
// device submission. The external update job publishes one task per new or
// changed record after refreshing the devices table.
type ReindexTask struct {
	SubmissionNumber string `json:"submission_number"`
	Reason           string `json:"reason,omitempty"` // "added", "updated", "reextracted"
}
