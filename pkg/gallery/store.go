package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelierlive/atelier/pkg/core"
)

// Store translates gallery domain operations onto the blob and record
// collaborators. It is stateless; both collaborators are shared.
type Store struct {
	blobs     BlobStore
	records   RecordStore
	namespace string
	urlTTL    time.Duration
	logger    *slog.Logger
}

// NewStore creates a gallery store minting download URLs with the given
// lifetime. The namespace prefixes every blob key so several deployments
// can share one bucket.
func NewStore(blobs BlobStore, records RecordStore, namespace string, urlTTL time.Duration, logger *slog.Logger) *Store {
	if namespace == "" {
		namespace = "snapshots"
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{blobs: blobs, records: records, namespace: namespace, urlTTL: urlTTL, logger: logger}
}

// SaveInput is the material for one new gallery record. Before and
// After are both required; the record is rejected otherwise.
type SaveInput struct {
	OwnerToken  string
	Title       string
	Description string
	BeforeJPEG  []byte
	AfterJPEG   []byte
	Thumbnail   []byte
	Meta        SurfaceMeta
	Tags        []string
	Visibility  Visibility
	FaceCount   int
}

// MintedURLs are the time-bounded download URLs for one record.
type MintedURLs struct {
	Before    string `json:"before_url"`
	After     string `json:"after_url"`
	Thumbnail string `json:"thumbnail_url,omitempty"`
}

// Save writes the image blobs, then the record. If the record write
// fails after blobs were written the blobs are deleted best-effort;
// the object store's 30-day lifecycle rule is the safety net.
func (s *Store) Save(ctx context.Context, in SaveInput) (Record, error) {
	if len(in.BeforeJPEG) == 0 || len(in.AfterJPEG) == 0 {
		return Record{}, core.NewBadRequestErrorWithParam("both before and after images are required", "images")
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPrivate
	}
	if in.Visibility != VisibilityPrivate && in.Visibility != VisibilityPublic {
		return Record{}, core.NewBadRequestErrorWithParam("visibility must be private or public", "visibility")
	}

	id := uuid.NewString()
	prefix := fmt.Sprintf("%s/%s/%s", s.namespace, in.OwnerToken, id)

	now := time.Now().UTC()
	rec := Record{
		ID:          id,
		OwnerToken:  in.OwnerToken,
		Title:       in.Title,
		Description: in.Description,
		Before:      BlobRef{Key: prefix + "/before.jpg"},
		After:       BlobRef{Key: prefix + "/after.jpg"},
		Meta:        in.Meta,
		Tags:        in.Tags,
		Visibility:  in.Visibility,
		FaceCount:   in.FaceCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	written := make([]string, 0, 3)
	put := func(key string, data []byte) error {
		if err := s.putWithRetry(ctx, key, data); err != nil {
			return err
		}
		written = append(written, key)
		return nil
	}

	if err := put(rec.Before.Key, in.BeforeJPEG); err != nil {
		s.cleanup(written)
		return Record{}, core.NewStorageFailedError("failed to store images")
	}
	if err := put(rec.After.Key, in.AfterJPEG); err != nil {
		s.cleanup(written)
		return Record{}, core.NewStorageFailedError("failed to store images")
	}
	if len(in.Thumbnail) > 0 {
		rec.Thumbnail = BlobRef{Key: prefix + "/thumb.jpg"}
		if err := put(rec.Thumbnail.Key, in.Thumbnail); err != nil {
			s.cleanup(written)
			return Record{}, core.NewStorageFailedError("failed to store images")
		}
	}

	if err := s.records.Insert(ctx, rec); err != nil {
		s.logger.Error("record insert failed, cleaning up blobs", "id", id, "error", err)
		s.cleanup(written)
		return Record{}, core.NewStorageFailedError("failed to store record")
	}
	return rec, nil
}

// putWithRetry retries one blob write a single time before giving up.
func (s *Store) putWithRetry(ctx context.Context, key string, data []byte) error {
	err := s.blobs.Put(ctx, key, data, "image/jpeg")
	if err == nil {
		return nil
	}
	s.logger.Warn("blob write failed, retrying once", "key", key, "error", err)
	return s.blobs.Put(ctx, key, data, "image/jpeg")
}

// cleanup deletes written blobs after a failed save. Best effort: a
// surviving orphan ages out through the store's lifecycle rule.
func (s *Store) cleanup(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("orphan blob cleanup failed", "key", key, "error", err)
		}
	}
}

// ListPublic returns up to limit public records, newest first.
func (s *Store) ListPublic(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	recs, err := s.records.ListPublic(ctx, limit)
	if err != nil {
		return nil, core.NewStorageFailedError("failed to list records")
	}
	return recs, nil
}

// Get returns the record with freshly minted download URLs.
func (s *Store) Get(ctx context.Context, id string) (Record, MintedURLs, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return Record{}, MintedURLs{}, core.NewSessionNotFoundErrorWithParam("gallery record not found", "id")
	}
	urls, err := s.mintURLs(ctx, rec)
	if err != nil {
		return Record{}, MintedURLs{}, core.NewStorageFailedError("failed to mint download URLs")
	}
	return rec, urls, nil
}

func (s *Store) mintURLs(ctx context.Context, rec Record) (MintedURLs, error) {
	var urls MintedURLs
	var err error
	if urls.Before, err = s.blobs.SignedURL(ctx, rec.Before.Key, s.urlTTL); err != nil {
		return MintedURLs{}, err
	}
	if urls.After, err = s.blobs.SignedURL(ctx, rec.After.Key, s.urlTTL); err != nil {
		return MintedURLs{}, err
	}
	if rec.Thumbnail.Key != "" {
		if urls.Thumbnail, err = s.blobs.SignedURL(ctx, rec.Thumbnail.Key, s.urlTTL); err != nil {
			return MintedURLs{}, err
		}
	}
	return urls, nil
}

// Refresh mints a fresh set of URLs for an existing record.
func (s *Store) Refresh(ctx context.Context, id string) (MintedURLs, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return MintedURLs{}, core.NewSessionNotFoundErrorWithParam("gallery record not found", "id")
	}
	urls, err := s.mintURLs(ctx, rec)
	if err != nil {
		return MintedURLs{}, core.NewStorageFailedError("failed to mint download URLs")
	}
	return urls, nil
}

// IncrementViews bumps the view counter and returns the new value.
func (s *Store) IncrementViews(ctx context.Context, id string) (int64, error) {
	n, err := s.records.IncrementViews(ctx, id)
	if err != nil {
		return 0, core.NewSessionNotFoundErrorWithParam("gallery record not found", "id")
	}
	return n, nil
}

// ToggleLike bumps the like counter. Likes never decrease; "toggling"
// an already-liked record is a no-op client side.
func (s *Store) ToggleLike(ctx context.Context, id string) (int64, error) {
	n, err := s.records.IncrementLikes(ctx, id)
	if err != nil {
		return 0, core.NewSessionNotFoundErrorWithParam("gallery record not found", "id")
	}
	return n, nil
}
