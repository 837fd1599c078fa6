package models

import (
	"fmt"
	"strings"
	"time"
)

// Track is provider metadata for a single song.
type Track struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album,omitempty"`
	Duration int      `json:"duration,omitempty"` // Duration in seconds
	ISRC     string   `json:"isrc,omitempty"`     // International Standard Recording Code
}

// Artist joins all credited artists the way the search query expects them.
func (t Track) Artist() string {
	return strings.Join(t.Artists, ", ")
}

// DisplayName returns "Artist - Title", or just the title when no artist is known.
func (t Track) DisplayName() string {
	if a := t.Artist(); a != "" {
		return a + " - " + t.Title
	}
	return t.Title
}

// SearchQuery returns the text handed to the downloader's search.
func (t Track) SearchQuery() string {
	return t.DisplayName() + " audio"
}

var _ Model = (*PersistedTrack)(nil)

// PersistedTrack is a cached [Track] keyed by provider and provider ID.
type PersistedTrack struct {
	id        string
	service   string
	serviceID string
	track     Track
	createdAt time.Time
	updatedAt time.Time
}

// NewPersistedTrack wraps track for caching under service and serviceID.
func NewPersistedTrack(service, serviceID string, track Track) *PersistedTrack {
	now := time.Now()
	return &PersistedTrack{
		service:   service,
		serviceID: serviceID,
		track:     track,
		createdAt: now,
		updatedAt: now,
	}
}

func (p *PersistedTrack) ID() string { return p.id }
func (p *PersistedTrack) Service() string { return p.service }
func (p *PersistedTrack) ServiceID() string { return p.serviceID }
func (p *PersistedTrack) Track() Track { return p.track }
func (p *PersistedTrack) CreatedAt() time.Time { return p.createdAt }
func (p *PersistedTrack) UpdatedAt() time.Time { return p.updatedAt }

func (p *PersistedTrack) SetID(id string) { p.id = id }
func (p *PersistedTrack) SetCreatedAt(t time.Time) { p.createdAt = t }
func (p *PersistedTrack) SetUpdatedAt(t time.Time) { p.updatedAt = t }

// Validate checks the fields the cache relies on.
func (p *PersistedTrack) Validate() error {
	if p.service == "" {
		return fmt.Errorf("service is required")
	}
	if p.serviceID == "" {
		return fmt.Errorf("service_id is required")
	}
	if strings.TrimSpace(p.track.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}
