// Package gallery persists analysis artifacts: image pairs in a blob
// store, metadata records in a document store, and time-bounded
// download URLs minted on read.
package gallery

import (
	"context"
	"time"
)

// Visibility controls whether a record appears in public listings.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// BlobRef identifies an object in the blob store. It is never a URL;
// download URLs are minted on read with a bounded lifetime.
type BlobRef struct {
	Key string `json:"key"`
}

// SurfaceMeta is the spatial metadata captured with a snapshot.
// BoundingBox is [ymin, xmin, ymax, xmax] normalized to 0..1000.
type SurfaceMeta struct {
	SurfaceType string `json:"surface_type"`
	Material    string `json:"material"`
	Color       string `json:"color"`
	BoundingBox [4]int `json:"bounding_box"`
}

// Record is one persisted gallery entry. Counters only ever grow.
type Record struct {
	ID          string      `json:"id"`
	OwnerToken  string      `json:"-"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Before      BlobRef     `json:"-"`
	After       BlobRef     `json:"-"`
	Thumbnail   BlobRef     `json:"-"`
	Meta        SurfaceMeta `json:"meta"`
	Tags        []string    `json:"tags"`
	Visibility  Visibility  `json:"visibility"`
	Likes       int64       `json:"likes"`
	Views       int64       `json:"views"`
	FaceCount   int         `json:"face_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// BlobStore is the opaque object-store collaborator.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// RecordStore is the opaque document-store collaborator.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	// ListPublic returns up to limit public records, newest first,
	// stable across calls.
	ListPublic(ctx context.Context, limit int) ([]Record, error)
	IncrementViews(ctx context.Context, id string) (int64, error)
	IncrementLikes(ctx context.Context, id string) (int64, error)
}
