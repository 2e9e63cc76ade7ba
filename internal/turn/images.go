package turn

import (
	"context"
	"sync"

	"picturetalk-backend/internal/catalog"
)

// LoadFunc fetches a picture URL as a data URI.
type LoadFunc func(ctx context.Context, url string) (string, error)

// CatalogImages walks a catalog at random, never showing the same picture
// twice in a row.
type CatalogImages struct {
	catalog *catalog.Catalog
	load    LoadFunc

	// OnAdvance, when set, is called with the newly selected picture.
	OnAdvance func(img catalog.Image)

	mu      sync.Mutex
	current int
}

// NewCatalogImages starts at a random picture. cat must not be empty.
func NewCatalogImages(cat *catalog.Catalog, load LoadFunc) *CatalogImages {
	return &CatalogImages{catalog: cat, load: load, current: cat.Next(-1)}
}

func (s *CatalogImages) Current() catalog.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.At(s.current)
}

func (s *CatalogImages) Advance() catalog.Image {
	s.mu.Lock()
	s.current = s.catalog.Next(s.current)
	img := s.catalog.At(s.current)
	s.mu.Unlock()

	if s.OnAdvance != nil {
		s.OnAdvance(img)
	}
	return img
}

// Load returns "" without error when no loader is configured, so the chat
// turn proceeds without vision.
func (s *CatalogImages) Load(ctx context.Context, img catalog.Image) (string, error) {
	if s.load == nil {
		return "", nil
	}
	return s.load(ctx, img.URL)
}
