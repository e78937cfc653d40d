package tasks

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// searchIndex is an in-memory full-text index over the cached tasks.
type searchIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	size  int
}

type searchDocument struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
}

func buildIndexMapping() mapping.IndexMapping {
	taskMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()

	taskMapping.AddFieldMappingsAt("title", textFieldMapping)
	taskMapping.AddFieldMappingsAt("description", textFieldMapping)
	taskMapping.AddFieldMappingsAt("status", keywordFieldMapping)
	taskMapping.AddFieldMappingsAt("priority", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = taskMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

func newSearchIndex() (*searchIndex, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &searchIndex{index: index}, nil
}

// rebuild replaces the indexed documents with tasks.
func (s *searchIndex) rebuild(tasks []Task) error {
	fresh, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create search index: %w", err)
	}

	batch := fresh.NewBatch()
	for i := range tasks {
		if err := batch.Index(tasks[i].ID, toDocument(&tasks[i])); err != nil {
			fresh.Close()
			return fmt.Errorf("index task %s: %w", tasks[i].ID, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		fresh.Close()
		return fmt.Errorf("index tasks: %w", err)
	}

	s.mu.Lock()
	old := s.index
	s.index = fresh
	s.size = len(tasks)
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func toDocument(t *Task) searchDocument {
	doc := searchDocument{
		Title:    t.Title,
		Status:   string(t.Status),
		Priority: string(t.Priority),
	}
	if t.Description != nil {
		doc.Description = *t.Description
	}
	return doc
}

// match returns the ids of tasks whose title or description match text,
// either as analyzed terms or as word prefixes.
func (s *searchIndex) match(text string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.size == 0 {
		return map[string]bool{}, nil
	}

	req := bleve.NewSearchRequest(buildSearchQuery(text))
	req.Size = s.size

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make(map[string]bool, len(res.Hits))
	for _, hit := range res.Hits {
		ids[hit.ID] = true
	}
	return ids, nil
}

// searchTerms splits text into lowercase words.
func searchTerms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// buildSearchQuery requires every word of text to match title or
// description, as a term or a prefix.
func buildSearchQuery(text string) query.Query {
	words := searchTerms(text)
	all := bleve.NewConjunctionQuery()
	for _, word := range words {
		either := bleve.NewDisjunctionQuery()
		for _, field := range []string{"title", "description"} {
			mq := bleve.NewMatchQuery(word)
			mq.SetField(field)
			either.AddQuery(mq)

			pq := bleve.NewPrefixQuery(word)
			pq.SetField(field)
			either.AddQuery(pq)
		}
		all.AddQuery(either)
	}
	return all
}

func (s *searchIndex) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	s.size = 0
	return err
}
