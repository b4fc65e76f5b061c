package platform

import (
	"sync"

	"github.com/google/uuid"
)

const blobURLPrefix = "blob:"

// BlobURLs hands out playback URLs for in-memory blobs. Every URL holds the
// blob in memory until revoked.
type BlobURLs struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
}

// NewBlobURLs creates an empty registry.
func NewBlobURLs() *BlobURLs {
	return &BlobURLs{blobs: make(map[string]*Blob)}
}

// Create registers b and returns its URL.
func (r *BlobURLs) Create(b *Blob) string {
	url := blobURLPrefix + uuid.NewString()
	r.mu.Lock()
	r.blobs[url] = b
	r.mu.Unlock()
	return url
}

// Get returns the blob for url.
func (r *BlobURLs) Get(url string) (*Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[url]
	return b, ok
}

// Revoke releases url. It reports whether the URL was live.
func (r *BlobURLs) Revoke(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[url]; !ok {
		return false
	}
	delete(r.blobs, url)
	return true
}

// Len returns the number of live URLs.
func (r *BlobURLs) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
