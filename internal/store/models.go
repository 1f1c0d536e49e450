package store

import (
	"encoding/json"
	"time"
)

// ContentEntry is one row of site_content. Value holds the stored JSON as-is;
// decoding into a structured value happens in the content client.
type ContentEntry struct {
	Key       string
	Value     json.RawMessage
	UpdatedBy string
	UpdatedAt time.Time
}

type GalleryImage struct {
	ID          string
	Title       string
	Description *string
	ImageURL    string
	SortOrder   int
	IsActive    bool
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GalleryImagePatch carries the fields of an image update. Nil fields keep
// their stored value.
type GalleryImagePatch struct {
	Title       *string
	Description *string
	ImageURL    *string
	SortOrder   *int
}

type Submission struct {
	ID                 string
	Name               string
	Email              string
	Phone              string
	Message            string
	InvestmentInterest string
	Status             string
	CreatedAt          time.Time
}

type SubmissionStats struct {
	Total          int
	ThisMonth      int
	HighValueLeads int
}

type AdminUser struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
