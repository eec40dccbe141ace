package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements simplemedia.RecordStore using PostgreSQL
type Store struct {
	db DBTX
}

// New creates a new PostgreSQL record store
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Connect opens a pool, verifies it and optionally runs migrations.
func Connect(ctx context.Context, databaseURL string, migrate bool) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("records.connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("records.connect: %w", err)
	}
	if migrate {
		if err := Migrate(pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: record not found", operation)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record not found", operation)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (s *Store) GetMediaAsset(ctx context.Context, ref simplemedia.AssetRef) (*simplemedia.MediaAsset, error) {
	var (
		row pgx.Row
		op  = "get media asset"
	)
	switch ref.Role {
	case simplemedia.RoleProfile:
		row = s.db.QueryRow(ctx, `
			SELECT profile_image_key, profile_image_meta, profile_processed_at
			FROM users WHERE id = $1`, ref.OwnerID)
	case simplemedia.RoleSubmission:
		row = s.db.QueryRow(ctx, `
			SELECT image_key, image_meta, image_processed_at
			FROM submissions WHERE id = $1 AND owner_id = $2`, ref.SubmissionID, ref.OwnerID)
	default:
		return nil, fmt.Errorf("%w: %s", simplemedia.ErrRoleNotProcessable, ref.Role)
	}

	var (
		key         string
		rawMeta     []byte
		processedAt *time.Time
	)
	if err := row.Scan(&key, &rawMeta, &processedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplemedia.ErrAssetNotFound
		}
		return nil, handlePostgresError(op, err)
	}

	meta, err := decodeMetadata(rawMeta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &simplemedia.MediaAsset{
		Ref:                ref,
		StorageKey:         key,
		ProcessingMetadata: meta,
		ProcessedAt:        processedAt,
	}, nil
}

func (s *Store) UpdateMediaAsset(ctx context.Context, ref simplemedia.AssetRef, update simplemedia.AssetUpdate) error {
	const op = "update media asset"
	rawMeta, err := encodeMetadata(update.ProcessingMetadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var tag pgconn.CommandTag
	switch ref.Role {
	case simplemedia.RoleProfile:
		tag, err = s.db.Exec(ctx, `
			UPDATE users SET profile_image_key = $2, profile_image_meta = $3,
				profile_processed_at = $4, updated_at = now()
			WHERE id = $1 AND profile_image_key = $5`,
			ref.OwnerID, update.StorageKey, rawMeta, update.ProcessedAt, update.ExpectedKey)
	case simplemedia.RoleSubmission:
		tag, err = s.db.Exec(ctx, `
			UPDATE submissions SET image_key = $3, image_meta = $4,
				image_processed_at = $5, updated_at = now()
			WHERE id = $1 AND owner_id = $2 AND image_key = $6`,
			ref.SubmissionID, ref.OwnerID, update.StorageKey, rawMeta, update.ProcessedAt, update.ExpectedKey)
	default:
		return fmt.Errorf("%w: %s", simplemedia.ErrRoleNotProcessable, ref.Role)
	}
	if err != nil {
		return handlePostgresError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missedUpdate(ctx, ref)
	}
	return nil
}

// missedUpdate tells a missing record apart from one whose key moved on.
func (s *Store) missedUpdate(ctx context.Context, ref simplemedia.AssetRef) error {
	if _, err := s.GetMediaAsset(ctx, ref); err != nil {
		return err
	}
	return simplemedia.ErrRecordChanged
}

func (s *Store) GetProtectionSettings(ctx context.Context, ownerID string) (*simplemedia.ProtectionSettings, error) {
	var settings simplemedia.ProtectionSettings
	err := s.db.QueryRow(ctx, `
		SELECT enable_watermark, watermark_position, protect_from_ai, protect_from_download
		FROM users WHERE id = $1`, ownerID).Scan(
		&settings.EnableWatermark, &settings.WatermarkPosition,
		&settings.ProtectFromAI, &settings.ProtectFromDownload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplemedia.ErrUserNotFound
		}
		return nil, handlePostgresError("get protection settings", err)
	}
	return &settings, nil
}

func (s *Store) GetOwnerDisplayName(ctx context.Context, ownerID string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1`, ownerID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", simplemedia.ErrUserNotFound
		}
		return "", handlePostgresError("get owner display name", err)
	}
	return name, nil
}

func (s *Store) GetSubmissionOwner(ctx context.Context, submissionID string) (string, error) {
	var owner string
	err := s.db.QueryRow(ctx, `SELECT owner_id FROM submissions WHERE id = $1`, submissionID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", simplemedia.ErrSubmissionNotFound
		}
		return "", handlePostgresError("get submission owner", err)
	}
	return owner, nil
}

func (s *Store) ListSubmissionIDs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM submissions WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, handlePostgresError("list submissions", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, handlePostgresError("list submissions", err)
	}
	return ids, nil
}

// UpsertUser writes a user row. Used to seed records from tests and tooling.
func (s *Store) UpsertUser(ctx context.Context, id, displayName string, settings simplemedia.ProtectionSettings) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, display_name, enable_watermark, watermark_position, protect_from_ai, protect_from_download)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			enable_watermark = EXCLUDED.enable_watermark,
			watermark_position = EXCLUDED.watermark_position,
			protect_from_ai = EXCLUDED.protect_from_ai,
			protect_from_download = EXCLUDED.protect_from_download,
			updated_at = now()`,
		id, displayName, settings.EnableWatermark, settings.WatermarkPosition,
		settings.ProtectFromAI, settings.ProtectFromDownload)
	if err != nil {
		return handlePostgresError("upsert user", err)
	}
	return nil
}

// UpsertSubmission writes a submission row.
func (s *Store) UpsertSubmission(ctx context.Context, id, ownerID, imageKey string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO submissions (id, owner_id, image_key) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, image_key = EXCLUDED.image_key, updated_at = now()`,
		id, ownerID, imageKey)
	if err != nil {
		return handlePostgresError("upsert submission", err)
	}
	return nil
}

func encodeMetadata(m *simplemedia.ProcessingMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) (*simplemedia.ProcessingMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m simplemedia.ProcessingMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode processing metadata: %w", err)
	}
	return &m, nil
}
