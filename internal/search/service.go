package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.IncludePremium), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.IncludePremium), Total: total, Query: q.Text}
}

// IndexResource indexes a resource (fire-and-forget to Meilisearch).
func (s *Service) IndexResource(rec ResourceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexResource(rec); err != nil {
			log.Printf("search: index resource %s: %v", rec.ID, err)
		}
	}()
}

// IndexAnnouncement indexes an announcement (fire-and-forget to Meilisearch).
func (s *Service) IndexAnnouncement(a AnnouncementRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAnnouncement(a); err != nil {
			log.Printf("search: index announcement %s: %v", a.ID, err)
		}
	}()
}

// DeleteResource removes a resource from the search index (fire-and-forget).
func (s *Service) DeleteResource(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteResource(id); err != nil {
			log.Printf("search: delete resource %s: %v", id, err)
		}
	}()
}

// DeleteAnnouncement removes an announcement from the search index (fire-and-forget).
func (s *Service) DeleteAnnouncement(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAnnouncement(id); err != nil {
			log.Printf("search: delete announcement %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is configured.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	resources, announcements, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexResources(resources); err != nil {
		log.Printf("search: reindex resources: %v", err)
	}
	if err := s.meili.IndexAnnouncements(announcements); err != nil {
		log.Printf("search: reindex announcements: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// sanitizeResults drops premium-category hits for callers without premium
// access, regardless of which backend produced them.
func sanitizeResults(results []Result, includePremium bool) []Result {
	if includePremium {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultResource && result.Category == "premium" {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
