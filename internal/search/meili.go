package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxResources     = "studyhub_resources"
	idxAnnouncements = "studyhub_announcements"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The client
// starts unhealthy if the initial connection fails; the caller proceeds and
// the health loop picks Meilisearch up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxResources,
			primaryKey: "id",
			filterable: []string{"category"},
			searchable: []string{"title", "description"},
		},
		{
			uid:        idxAnnouncements,
			primaryKey: "id",
			searchable: []string{"title", "description"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		if len(idx.filterable) > 0 {
			filterableInterface := make([]interface{}, len(idx.filterable))
			for i, v := range idx.filterable {
				filterableInterface[i] = v
			}
			if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
				log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
			}
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxResources, ResultResource},
		{idxAnnouncements, ResultAnnouncement},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if ti.rtyp == ResultResource {
			var filters []string
			if q.FilterCategory != "" {
				filters = append(filters, fmt.Sprintf("category = %q", q.FilterCategory))
			}
			if !q.IncludePremium {
				filters = append(filters, "category != \"premium\"")
			}
			if len(filters) > 0 {
				sr.Filter = filters
			}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxResources:
		return ResultResource
	case idxAnnouncements:
		return ResultAnnouncement
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	if rtyp == ResultResource {
		r.Category = decodeString(hit, "category")
		r.URL = decodeString(hit, "url")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexResource adds or updates a resource in the search index.
func (m *Meili) IndexResource(rec ResourceRecord) error {
	_, err := m.client.Index(idxResources).AddDocuments([]ResourceRecord{rec}, nil)
	return err
}

// IndexAnnouncement adds or updates an announcement in the search index.
func (m *Meili) IndexAnnouncement(a AnnouncementRecord) error {
	_, err := m.client.Index(idxAnnouncements).AddDocuments([]AnnouncementRecord{a}, nil)
	return err
}

// DeleteResource removes a resource from the search index.
func (m *Meili) DeleteResource(id string) error {
	_, err := m.client.Index(idxResources).DeleteDocument(id, nil)
	return err
}

// DeleteAnnouncement removes an announcement from the search index.
func (m *Meili) DeleteAnnouncement(id string) error {
	_, err := m.client.Index(idxAnnouncements).DeleteDocument(id, nil)
	return err
}

// IndexResources bulk-indexes resources.
func (m *Meili) IndexResources(resources []ResourceRecord) error {
	if len(resources) == 0 {
		return nil
	}
	_, err := m.client.Index(idxResources).AddDocuments(resources, nil)
	return err
}

// IndexAnnouncements bulk-indexes announcements.
func (m *Meili) IndexAnnouncements(announcements []AnnouncementRecord) error {
	if len(announcements) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAnnouncements).AddDocuments(announcements, nil)
	return err
}
