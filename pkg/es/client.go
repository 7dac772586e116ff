// Package es provides the Elasticsearch-backed vector index over
// approval-letter chunks.
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ErrIndex marks a vector index failure (store unavailable or write error).
var ErrIndex = errors.New("vector index failure")

var ESClient *elasticsearch.Client

// InitES builds the Elasticsearch client and bootstraps the chunk index
// with a dense_vector mapping of the configured dimensionality.
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// createIndexIfNotExists creates the chunk index when it is missing.
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("failed to check whether index exists: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("index '%s' already exists", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("unexpected status %d while checking index '%s'", res.StatusCode, indexName)
		return fmt.Errorf("unexpected status while checking index: %d", res.StatusCode)
	}

	// Denormalized chunk metadata is keyword-typed so retrieval filters can
	// be pushed down; decision_date stays a keyword because the corpus
	// stores ISO dates, which order lexicographically.
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"submission_number": { "type": "keyword" },
				"device_name": { "type": "text" },
				"company": { "type": "text" },
				"panel": { "type": "keyword" },
				"product_code": { "type": "keyword" },
				"decision_date": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("failed to create index '%s': %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("elasticsearch returned an error creating index '%s': %s", indexName, res.String())
		return fmt.Errorf("%w: index creation rejected", ErrIndex)
	}

	log.Infof("index '%s' created", indexName)
	return nil
}

// Store implements keyed upsert, filtered kNN query and count over the
// chunk index.
type Store struct {
	client    *elasticsearch.Client
	indexName string
}

// NewStore wraps an Elasticsearch client as a chunk vector store.
func NewStore(client *elasticsearch.Client, indexName string) *Store {
	return &Store{client: client, indexName: indexName}
}

// Upsert writes every document under its VectorID. Indexing the same key
// again overwrites the previous document, so repeated builds never
// duplicate chunks.
func (s *Store) Upsert(ctx context.Context, docs []model.ChunkDocument) error {
	for _, doc := range docs {
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: marshal chunk %s: %v", ErrIndex, doc.VectorID, err)
		}

		req := esapi.IndexRequest{
			Index:      s.indexName,
			DocumentID: doc.VectorID,
			Body:       bytes.NewReader(docBytes),
			Refresh:    "true",
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("%w: index chunk %s: %v", ErrIndex, doc.VectorID, err)
		}
		if res.IsError() {
			msg := res.String()
			res.Body.Close()
			log.Errorf("failed to index chunk %s: %s", doc.VectorID, msg)
			return fmt.Errorf("%w: index chunk %s rejected", ErrIndex, doc.VectorID)
		}
		res.Body.Close()
	}
	return nil
}

// DeleteBySubmission removes every chunk of one record. The builder calls
// this before re-upserting so a shorter re-chunking leaves no stale tail
// chunks behind.
func (s *Store) DeleteBySubmission(ctx context.Context, submissionNumber string) error {
	query := fmt.Sprintf(`{"query":{"term":{"submission_number":%q}}}`, submissionNumber)
	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		strings.NewReader(query),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("%w: delete chunks of %s: %v", ErrIndex, submissionNumber, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: delete chunks of %s rejected: %s", ErrIndex, submissionNumber, res.String())
	}
	return nil
}

// Query runs a kNN search and returns up to topK results sorted by
// ascending distance. The metadata filter is pushed down into the kNN
// filter clause, so selective filters still return up to topK results
// rather than a post-filtered subset.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, filter model.SearchFilter) ([]model.RetrievalResult, error) {
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if clauses := buildFilterClauses(filter); len(clauses) > 0 {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": clauses},
		}
	}
	esQuery := map[string]interface{}{
		"knn":     knn,
		"size":    topK,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("%w: encode query: %v", ErrIndex, err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: search rejected: %s", ErrIndex, res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.ChunkDocument `json:"_source"`
				Score  float64             `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrIndex, err)
	}

	results := make([]model.RetrievalResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.RetrievalResult{
			SubmissionNumber: hit.Source.SubmissionNumber,
			DeviceName:       hit.Source.DeviceName,
			Company:          hit.Source.Company,
			Panel:            hit.Source.Panel,
			ProductCode:      hit.Source.ProductCode,
			DecisionDate:     hit.Source.DecisionDate,
			ChunkIndex:       hit.Source.ChunkIndex,
			TextContent:      hit.Source.TextContent,
			// ES scores cosine kNN hits descending; expose the uniform
			// ascending-distance contract instead.
			Distance: 1 - hit.Score,
		})
	}
	return results, nil
}

// Count returns the total number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.indexName),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("%w: count rejected: %s", ErrIndex, res.String())
	}

	var countResponse struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResponse); err != nil {
		return 0, fmt.Errorf("%w: decode count response: %v", ErrIndex, err)
	}
	return countResponse.Count, nil
}

func buildFilterClauses(filter model.SearchFilter) []map[string]interface{} {
	var clauses []map[string]interface{}
	if filter.Panel != "" {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"panel": filter.Panel},
		})
	}
	if filter.ProductCode != "" {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"product_code": filter.ProductCode},
		})
	}
	if filter.DecisionDateFrom != "" || filter.DecisionDateTo != "" {
		bounds := map[string]interface{}{}
		if filter.DecisionDateFrom != "" {
			bounds["gte"] = filter.DecisionDateFrom
		}
		if filter.DecisionDateTo != "" {
			bounds["lte"] = filter.DecisionDateTo
		}
		clauses = append(clauses, map[string]interface{}{
			"range": map[string]interface{}{"decision_date": bounds},
		})
	}
	return clauses
}
