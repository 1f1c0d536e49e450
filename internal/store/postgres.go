package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Site content

func (s *PostgresStore) ListContent(ctx context.Context) ([]ContentEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value::text, COALESCE(updated_by::text, ''), updated_at
		FROM site_content
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	items := make([]ContentEntry, 0)
	for rows.Next() {
		var item ContentEntry
		var value string
		if err := rows.Scan(&item.Key, &value, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		item.Value = []byte(value)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertContent(ctx context.Context, entry ContentEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_content (key, value, updated_by)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (key) DO UPDATE
		SET value=EXCLUDED.value, updated_by=EXCLUDED.updated_by, updated_at=NOW()
	`, entry.Key, string(entry.Value), uuidOrNil(entry.UpdatedBy))
	if err != nil {
		return fmt.Errorf("upsert content %s: %w", entry.Key, err)
	}
	return nil
}

// Gallery

const galleryColumns = `id::text, title, description, image_url, sort_order, is_active, COALESCE(updated_by::text, ''), created_at, updated_at`

func scanImage(row interface{ Scan(...any) error }) (GalleryImage, error) {
	var item GalleryImage
	var description sql.NullString
	err := row.Scan(
		&item.ID,
		&item.Title,
		&description,
		&item.ImageURL,
		&item.SortOrder,
		&item.IsActive,
		&item.UpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return GalleryImage{}, err
	}
	if description.Valid {
		value := description.String
		item.Description = &value
	}
	return item, nil
}

// ListActiveImages returns active images by sort_order; ties keep creation order.
func (s *PostgresStore) ListActiveImages(ctx context.Context) ([]GalleryImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+galleryColumns+`
		FROM gallery_images
		WHERE is_active
		ORDER BY sort_order ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list gallery images: %w", err)
	}
	defer rows.Close()

	items := make([]GalleryImage, 0)
	for rows.Next() {
		item, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gallery image: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery images: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountActiveImages(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gallery_images WHERE is_active`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count gallery images: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertImage(ctx context.Context, item GalleryImage) (GalleryImage, error) {
	created, err := scanImage(s.db.QueryRowContext(ctx, `
		INSERT INTO gallery_images (title, description, image_url, sort_order, is_active, updated_by)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING `+galleryColumns,
		item.Title, item.Description, item.ImageURL, item.SortOrder, uuidOrNil(item.UpdatedBy),
	))
	if err != nil {
		return GalleryImage{}, fmt.Errorf("insert gallery image: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateImage(ctx context.Context, id string, patch GalleryImagePatch, updatedBy string) (GalleryImage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return GalleryImage{}, ErrNotFound
	}
	updated, err := scanImage(s.db.QueryRowContext(ctx, `
		UPDATE gallery_images
		SET title=COALESCE($2, title),
			description=CASE WHEN $3::boolean THEN $4 ELSE description END,
			image_url=COALESCE($5, image_url),
			sort_order=COALESCE($6, sort_order),
			updated_by=$7,
			updated_at=NOW()
		WHERE id=$1
		RETURNING `+galleryColumns,
		id, patch.Title, patch.Description != nil, patch.Description, patch.ImageURL, patch.SortOrder, uuidOrNil(updatedBy),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return GalleryImage{}, ErrNotFound
	}
	if err != nil {
		return GalleryImage{}, fmt.Errorf("update gallery image: %w", err)
	}
	return updated, nil
}

// DeactivateImage soft-deletes an image. The row and its blob stay in place.
func (s *PostgresStore) DeactivateImage(ctx context.Context, id, updatedBy string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE gallery_images
		SET is_active=FALSE, updated_by=$2, updated_at=NOW()
		WHERE id=$1
	`, id, uuidOrNil(updatedBy))
	if err != nil {
		return fmt.Errorf("deactivate gallery image: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate gallery image: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListImageURLs returns the image_url of every row, active or not.
func (s *PostgresStore) ListImageURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT image_url FROM gallery_images`)
	if err != nil {
		return nil, fmt.Errorf("list image urls: %w", err)
	}
	defer rows.Close()

	urls := make([]string, 0)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan image url: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image urls: %w", err)
	}
	return urls, nil
}

// Contact submissions

func (s *PostgresStore) InsertSubmission(ctx context.Context, item Submission) (Submission, error) {
	status := item.Status
	if status == "" {
		status = "new"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contact_submissions (name, email, phone, message, investment_interest, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text, status, created_at
	`, item.Name, item.Email, item.Phone, item.Message, item.InvestmentInterest, status).Scan(&item.ID, &item.Status, &item.CreatedAt)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, name, email, phone, message, investment_interest, status, created_at
		FROM contact_submissions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var item Submission
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Phone, &item.Message, &item.InvestmentInterest, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SubmissionStats(ctx context.Context, monthStart time.Time, highValueMarker string) (SubmissionStats, error) {
	var stats SubmissionStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE strpos(investment_interest, $2) > 0)
		FROM contact_submissions
	`, monthStart, highValueMarker).Scan(&stats.Total, &stats.ThisMonth, &stats.HighValueLeads)
	if err != nil {
		return SubmissionStats{}, fmt.Errorf("submission stats: %w", err)
	}
	return stats, nil
}

// Admin users

const adminColumns = `id::text, email, display_name, password_hash, role, created_at, updated_at`

func scanAdmin(row *sql.Row) (AdminUser, error) {
	var user AdminUser
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AdminUser{}, ErrNotFound
	}
	if err != nil {
		return AdminUser{}, fmt.Errorf("scan admin user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetAdminByEmail(ctx context.Context, email string) (AdminUser, error) {
	return scanAdmin(s.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) GetAdminByID(ctx context.Context, id string) (AdminUser, error) {
	if _, err := uuid.Parse(id); err != nil {
		return AdminUser{}, ErrNotFound
	}
	return scanAdmin(s.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE id=$1`, id))
}

func (s *PostgresStore) CreateAdmin(ctx context.Context, user AdminUser) (AdminUser, error) {
	created, err := scanAdmin(s.db.QueryRowContext(ctx, `
		INSERT INTO admin_users (email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+adminColumns,
		user.Email, user.DisplayName, user.PasswordHash, user.Role,
	))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolation {
		return AdminUser{}, ErrConflict
	}
	return created, err
}

func (s *PostgresStore) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count admin users: %w", err)
	}
	return count, nil
}

func uuidOrNil(value string) any {
	if _, err := uuid.Parse(value); err != nil {
		return nil
	}
	return value
}
