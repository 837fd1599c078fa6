package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

const artistSep = ", "

const trackColumns = `id, service, service_id, title, artist, album, duration, isrc, created_at, updated_at`

// TrackRepository persists [models.PersistedTrack] rows in the tracks table.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Create inserts a new [models.PersistedTrack] into the database with a generated ID
func (r *TrackRepository) Create(track *models.PersistedTrack) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	id := shared.GenerateID()
	t := track.Track()

	query := `
		INSERT INTO tracks (` + trackColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		id,
		track.Service(),
		track.ServiceID(),
		t.Title,
		strings.Join(t.Artists, artistSep),
		t.Album,
		t.Duration,
		t.ISRC,
		track.CreatedAt(),
		track.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}

	track.SetID(id)
	return nil
}

// Upsert inserts track or refreshes the metadata of the existing row for the same provider track.
func (r *TrackRepository) Upsert(track *models.PersistedTrack) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	track.SetUpdatedAt(now)
	t := track.Track()

	query := `
		INSERT INTO tracks (` + trackColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service, service_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration = excluded.duration,
			isrc = excluded.isrc,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		shared.GenerateID(),
		track.Service(),
		track.ServiceID(),
		t.Title,
		strings.Join(t.Artists, artistSep),
		t.Album,
		t.Duration,
		t.ISRC,
		track.CreatedAt(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track: %w", err)
	}

	stored, err := r.GetByServiceID(track.Service(), track.ServiceID())
	if err != nil {
		return err
	}
	track.SetID(stored.ID())
	track.SetCreatedAt(stored.CreatedAt())
	return nil
}

// Get retrieves a track by ID
func (r *TrackRepository) Get(id string) (*models.PersistedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	return r.scan(r.db.QueryRow(query, id))
}

// GetByServiceID retrieves a track by service and service_id
func (r *TrackRepository) GetByServiceID(service, serviceID string) (*models.PersistedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE service = ? AND service_id = ?`
	return r.scan(r.db.QueryRow(query, service, serviceID))
}

// GetByISRC retrieves a track by ISRC code across any service
func (r *TrackRepository) GetByISRC(isrc string) (*models.PersistedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE isrc = ? ORDER BY updated_at DESC LIMIT 1`
	return r.scan(r.db.QueryRow(query, isrc))
}

// Delete removes a track by ID
func (r *TrackRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrTrackNotFound, id)
	}

	return nil
}

// DeleteOlderThan removes tracks not refreshed since cutoff and reports how many rows went.
func (r *TrackRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM tracks WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tracks: %w", err)
	}
	return result.RowsAffected()
}

// List retrieves all tracks matching the given criteria ("service", "isrc"), newest first
func (r *TrackRepository) List(criteria map[string]any) ([]*models.PersistedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE 1 = 1`
	args := []any{}

	if service, ok := criteria["service"].(string); ok && service != "" {
		query += " AND service = ?"
		args = append(args, service)
	}

	if isrc, ok := criteria["isrc"].(string); ok && isrc != "" {
		query += " AND isrc = ?"
		args = append(args, isrc)
	}

	query += " ORDER BY updated_at DESC, title ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.PersistedTrack
	for rows.Next() {
		track, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tracks, nil
}

// Count returns the number of cached tracks
func (r *TrackRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scan reads a single row from [sql.Row] or [sql.Rows] into a [models.PersistedTrack]
func (r *TrackRepository) scan(row scanner) (*models.PersistedTrack, error) {
	var (
		id        string
		service   string
		serviceID string
		title     string
		artist    string
		album     string
		duration  int
		isrc      string
		createdAt time.Time
		updatedAt time.Time
	)

	err := row.Scan(&id, &service, &serviceID, &title, &artist, &album, &duration, &isrc, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	var artists []string
	if artist != "" {
		artists = strings.Split(artist, artistSep)
	}

	dto := models.Track{
		ID:       serviceID,
		Title:    title,
		Artists:  artists,
		Album:    album,
		Duration: duration,
		ISRC:     isrc,
	}

	track := models.NewPersistedTrack(service, serviceID, dto)
	track.SetID(id)
	track.SetCreatedAt(createdAt)
	track.SetUpdatedAt(updatedAt)
	return track, nil
}
