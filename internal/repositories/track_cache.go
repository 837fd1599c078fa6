package repositories

import (
	"errors"
	"fmt"

	"github.com/desertthunder/rhythm/internal/models"
	"github.com/desertthunder/rhythm/internal/shared"
)

// TrackCacheAdapter implements tasks.TrackCache using TrackRepository.
//
// Writes go through [TrackRepository.Upsert], so caching the same provider track twice refreshes it.
type TrackCacheAdapter struct {
	repo *TrackRepository
}

// NewTrackCacheAdapter creates a new TrackCacheAdapter with the given repository
func NewTrackCacheAdapter(repo *TrackRepository) *TrackCacheAdapter {
	return &TrackCacheAdapter{repo: repo}
}

// LookupTrack returns the cached track for the provider id. A miss is (zero, false, nil).
func (a *TrackCacheAdapter) LookupTrack(service, serviceID string) (models.Track, bool, error) {
	p, err := a.repo.GetByServiceID(service, serviceID)
	if errors.Is(err, shared.ErrTrackNotFound) {
		return models.Track{}, false, nil
	}
	if err != nil {
		return models.Track{}, false, err
	}
	return p.Track(), true, nil
}

// CacheTrack stores track under the provider id.
func (a *TrackCacheAdapter) CacheTrack(service, serviceID string, track models.Track) error {
	if err := a.repo.Upsert(models.NewPersistedTrack(service, serviceID, track)); err != nil {
		return fmt.Errorf("failed to cache track: %w", err)
	}
	return nil
}
