package gallery

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGRecordStore implements RecordStore on Postgres via pgx.
type PGRecordStore struct {
	pool *pgxpool.Pool
}

// NewPGRecordStore connects to the database and applies pending
// migrations.
func NewPGRecordStore(ctx context.Context, dsn string) (*PGRecordStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("gallery: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("gallery: ping: %w", err)
	}
	if err := migrate(ctx, dsn); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGRecordStore{pool: pool}, nil
}

func migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("gallery: open migration conn: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("gallery: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("gallery: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGRecordStore) Close() {
	s.pool.Close()
}

const recordColumns = `id, owner_token, title, description,
	before_key, after_key, thumb_key,
	surface_type, material, color, bbox_ymin, bbox_xmin, bbox_ymax, bbox_xmax,
	tags, visibility, likes, views, face_count, created_at, updated_at`

func (s *PGRecordStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gallery_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		rec.ID, rec.OwnerToken, rec.Title, rec.Description,
		rec.Before.Key, rec.After.Key, rec.Thumbnail.Key,
		rec.Meta.SurfaceType, rec.Meta.Material, rec.Meta.Color,
		rec.Meta.BoundingBox[0], rec.Meta.BoundingBox[1],
		rec.Meta.BoundingBox[2], rec.Meta.BoundingBox[3],
		rec.Tags, string(rec.Visibility), rec.Likes, rec.Views,
		rec.FaceCount, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("gallery: insert %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PGRecordStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM gallery_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *PGRecordStore) ListPublic(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM gallery_records
		WHERE visibility = 'public'
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("gallery: list public: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGRecordStore) IncrementViews(ctx context.Context, id string) (int64, error) {
	return s.bump(ctx, id, "views")
}

func (s *PGRecordStore) IncrementLikes(ctx context.Context, id string) (int64, error) {
	return s.bump(ctx, id, "likes")
}

func (s *PGRecordStore) bump(ctx context.Context, id, column string) (int64, error) {
	// column is one of two literals; never caller input.
	var n int64
	err := s.pool.QueryRow(ctx, `
		UPDATE gallery_records
		SET `+column+` = `+column+` + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+column, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("gallery: bump %s for %s: %w", column, id, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var visibility string
	err := row.Scan(
		&rec.ID, &rec.OwnerToken, &rec.Title, &rec.Description,
		&rec.Before.Key, &rec.After.Key, &rec.Thumbnail.Key,
		&rec.Meta.SurfaceType, &rec.Meta.Material, &rec.Meta.Color,
		&rec.Meta.BoundingBox[0], &rec.Meta.BoundingBox[1],
		&rec.Meta.BoundingBox[2], &rec.Meta.BoundingBox[3],
		&rec.Tags, &visibility, &rec.Likes, &rec.Views,
		&rec.FaceCount, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("gallery: scan record: %w", err)
	}
	rec.Visibility = Visibility(visibility)
	return rec, nil
}
