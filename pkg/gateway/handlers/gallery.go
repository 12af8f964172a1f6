package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/gallery"
	"github.com/atelierlive/atelier/pkg/privacy"
)

type galleryStore interface {
	Save(ctx context.Context, in gallery.SaveInput) (gallery.Record, error)
	ListPublic(ctx context.Context, limit int) ([]gallery.Record, error)
	Get(ctx context.Context, id string) (gallery.Record, gallery.MintedURLs, error)
	Refresh(ctx context.Context, id string) (gallery.MintedURLs, error)
	IncrementViews(ctx context.Context, id string) (int64, error)
	ToggleLike(ctx context.Context, id string) (int64, error)
}

// SnapshotRequest persists one before/after pair into the gallery.
type SnapshotRequest struct {
	OwnerToken  string   `json:"owner_token"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	BeforeImage string   `json:"before_image"`
	AfterImage  string   `json:"after_image"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Metadata    Metadata `json:"metadata"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
}

// Metadata is the surface attribution captured with a snapshot.
type Metadata struct {
	SurfaceType string `json:"surface_type"`
	Material    string `json:"material"`
	Color       string `json:"color"`
	BoundingBox [4]int `json:"bounding_box"`
}

type recordView struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Metadata    Metadata            `json:"metadata"`
	Tags        []string            `json:"tags,omitempty"`
	Visibility  string              `json:"visibility"`
	Likes       int64               `json:"likes"`
	Views       int64               `json:"views"`
	FaceCount   int                 `json:"face_count"`
	CreatedAt   time.Time           `json:"created_at"`
	URLs        *gallery.MintedURLs `json:"urls,omitempty"`
}

func viewOf(rec gallery.Record, urls *gallery.MintedURLs) recordView {
	return recordView{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		Metadata: Metadata{
			SurfaceType: rec.Meta.SurfaceType,
			Material:    rec.Meta.Material,
			Color:       rec.Meta.Color,
			BoundingBox: rec.Meta.BoundingBox,
		},
		Tags:       rec.Tags,
		Visibility: string(rec.Visibility),
		Likes:      rec.Likes,
		Views:      rec.Views,
		FaceCount:  rec.FaceCount,
		CreatedAt:  rec.CreatedAt,
		URLs:       urls,
	}
}

// Gallery serves the snapshot and gallery endpoints. Snapshots run the
// captured camera image through the privacy shield before anything is
// persisted; a crowd-blocked image rejects the whole snapshot.
type Gallery struct {
	store  galleryStore
	shield shieldProcessor
	logger *slog.Logger
}

func NewGallery(store galleryStore, shield shieldProcessor, logger *slog.Logger) *Gallery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gallery{store: store, shield: shield, logger: logger}
}

// Snapshot handles POST /snapshot.
func (h *Gallery) Snapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	before, err := decodeImage("before_image", req.BeforeImage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	after, err := decodeImage("after_image", req.AfterImage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var thumb []byte
	if req.Thumbnail != "" {
		if thumb, err = decodeImage("thumbnail", req.Thumbnail); err != nil {
			writeError(w, r, err)
			return
		}
	}

	// The before image is the real camera capture; it gets the same
	// face treatment as live frames.
	verdict, err := h.shield.Process(r.Context(), before)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if verdict.Kind == privacy.VerdictBlocked {
		writeError(w, r, core.NewPrivacyBlockError("snapshot rejected: "+verdict.Reason))
		return
	}
	if verdict.Kind == privacy.VerdictBlurred {
		before = verdict.Processed
	}

	rec, err := h.store.Save(r.Context(), gallery.SaveInput{
		OwnerToken:  req.OwnerToken,
		Title:       req.Title,
		Description: req.Description,
		BeforeJPEG:  before,
		AfterJPEG:   after,
		Thumbnail:   thumb,
		Meta: gallery.SurfaceMeta{
			SurfaceType: req.Metadata.SurfaceType,
			Material:    req.Metadata.Material,
			Color:       req.Metadata.Color,
			BoundingBox: req.Metadata.BoundingBox,
		},
		Tags:       req.Tags,
		Visibility: gallery.Visibility(req.Visibility),
		FaceCount:  verdict.FaceCount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	urls, err := h.store.Refresh(r.Context(), rec.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(rec, &urls))
}

// List handles GET /gallery.
func (h *Gallery) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, core.NewBadRequestErrorWithParam("limit must be an integer", "limit"))
			return
		}
		limit = n
	}

	recs, err := h.store.ListPublic(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// Get handles GET /gallery/{id}; reading a record counts a view.
func (h *Gallery) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, urls, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if n, err := h.store.IncrementViews(r.Context(), id); err == nil {
		rec.Views = n
	}
	writeJSON(w, http.StatusOK, viewOf(rec, &urls))
}

// Refresh handles GET /gallery/{id}/refresh.
func (h *Gallery) Refresh(w http.ResponseWriter, r *http.Request) {
	urls, err := h.store.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urls)
}

// Like handles POST /gallery/{id}/like.
func (h *Gallery) Like(w http.ResponseWriter, r *http.Request) {
	likes, err := h.store.ToggleLike(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"likes": likes})
}
