package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/docs-agent/backend/internal/objectstore"
)

type object struct {
	content     []byte
	contentType string
}

// Store keeps objects in process memory and issues memory:// URLs.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

var _ objectstore.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		objects: make(map[string]object),
		now:     time.Now,
	}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (s *Store) Put(_ context.Context, bucket, key string, content []byte, contentType string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("bucket and key are required")
	}

	cpy := make([]byte, len(content))
	copy(cpy, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, key)] = object{content: cpy, contentType: contentType}
	return nil
}

func (s *Store) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", objectstore.ErrNotFound, bucket, key)
	}
	cpy := make([]byte, len(obj.content))
	copy(cpy, obj.content)
	return cpy, nil
}

// ContentType reports the content type recorded at Put time.
func (s *Store) ContentType(bucket, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectKey(bucket, key)]
	return obj.contentType, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *Store) PublicURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[objectKey(bucket, key)]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", objectstore.ErrNotFound, bucket, key)
	}

	u := url.URL{
		Scheme: "memory",
		Host:   bucket,
		Path:   "/" + key,
		RawQuery: url.Values{
			"expires": []string{fmt.Sprintf("%d", s.now().Add(ttl).Unix())},
		}.Encode(),
	}
	return u.String(), nil
}
