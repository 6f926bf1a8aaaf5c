// Package images holds inline binary media extracted from execution results
// so that clients can fetch it by URL instead of receiving base64 blobs.
package images

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/seantiz/kernelgate/internal/model"
)

// URLPath is the path segment under which stored images are served.
const URLPath = "/images/"

var (
	// ErrNotFound is returned when no image is stored under a name.
	ErrNotFound = errors.New("image not found")

	// ErrInvalidImage is returned when an image/png payload cannot be decoded.
	ErrInvalidImage = errors.New("invalid image payload")
)

// Record is one stored image.
type Record struct {
	Data []byte
	URL  string
}

// Store is a process-lifetime cache of images keyed by generated name.
// Entries are only removed by Clear; there is no eviction. It is safe for
// concurrent use.
type Store struct {
	baseURL string

	mu     sync.RWMutex
	images map[string]Record
	bytes  int
}

// NewStore creates an empty store whose URLs are rooted at baseURL
// (for example "http://localhost:8000").
func NewStore(baseURL string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		images:  make(map[string]Record),
	}
}

// Extract replaces the bundle's image/png entry, if any, with the URL of a
// newly stored copy of the decoded bytes. The bundle is modified in place
// and returned. A value that is already one of this store's URLs is left
// alone, so extracting the same bundle twice stores the image once.
func (s *Store) Extract(b *model.DisplayBundle) (*model.DisplayBundle, error) {
	if b == nil || b.Data == nil {
		return b, nil
	}
	raw, ok := b.Data[model.MIMEPNG]
	if !ok {
		return b, nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		if s.isOwnURL(v) {
			return b, nil
		}
		decoded, err := decodeBase64(v)
		if err != nil {
			return b, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		data = decoded
	case []byte:
		data = append([]byte(nil), v...)
	default:
		return b, fmt.Errorf("%w: unsupported value type %T", ErrInvalidImage, raw)
	}

	b.Data[model.MIMEPNG] = s.put(data)
	return b, nil
}

// put stores data under a fresh name and returns its URL. Name generation
// and insertion happen under one lock.
func (s *Store) put(data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := newName()
	for {
		if _, taken := s.images[name]; !taken {
			break
		}
		name = newName()
	}

	url := s.baseURL + URLPath + name
	s.images[name] = Record{Data: data, URL: url}
	s.bytes += len(data)
	storedImages.Set(float64(len(s.images)))
	storedBytes.Set(float64(s.bytes))
	return url
}

// Get returns the bytes stored under name.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.images[name]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Data, nil
}

// Len reports how many images are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

// Clear drops every stored image. Extractions racing with Clear may lose
// their image: a URL handed out just before the clear will 404.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = make(map[string]Record)
	s.bytes = 0
	storedImages.Set(0)
	storedBytes.Set(0)
}

func (s *Store) isOwnURL(v string) bool {
	return strings.HasPrefix(v, s.baseURL+URLPath)
}

// NameFromURL returns the image name addressed by url.
func NameFromURL(url string) string {
	return path.Base(url)
}

func newName() string {
	return "image-" + strings.ToLower(ulid.Make().String()) + ".png"
}

// decodeBase64 accepts standard base64 with or without embedded line breaks,
// as kernels commonly wrap long payloads.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(s)
}
