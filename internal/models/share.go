package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Platform identifies the social network a share was posted on
type Platform string

const (
	PlatformBluesky   Platform = "bluesky"
	PlatformX         Platform = "x"
	PlatformThreads   Platform = "threads"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformOther     Platform = "other"
)

// Platforms lists every accepted platform value.
var Platforms = []Platform{
	PlatformBluesky, PlatformX, PlatformThreads, PlatformLinkedIn, PlatformInstagram, PlatformOther,
}

// ShareStatus is the persisted lifecycle status of a share
type ShareStatus string

const (
	StatusDraft        ShareStatus = "draft"
	StatusPosted       ShareStatus = "posted"
	StatusVerified     ShareStatus = "verified"
	StatusDiscovered   ShareStatus = "discovered"
	StatusAcknowledged ShareStatus = "acknowledged"
)

// ShareStatuses lists every persisted status value.
var ShareStatuses = []ShareStatus{
	StatusDraft, StatusPosted, StatusVerified, StatusDiscovered, StatusAcknowledged,
}

// IsMention reports whether the status belongs to the discovered-mention track.
func (s ShareStatus) IsMention() bool {
	return s == StatusDiscovered || s == StatusAcknowledged
}

// Share is a post referencing the site: either one we published or a mention we discovered
type Share struct {
	ID       uuid.UUID   `json:"id" db:"id" gorm:"primaryKey;type:uuid"`
	Platform Platform    `json:"platform" db:"platform" gorm:"type:varchar(20);not null;index"`
	Status   ShareStatus `json:"status" db:"status" gorm:"type:varchar(20);not null;index"`

	PostURL   string     `json:"post_url" db:"post_url"`
	AtURI     *string    `json:"at_uri,omitempty" db:"at_uri" gorm:"uniqueIndex"`
	SharedURL string     `json:"shared_url" db:"shared_url"`
	CardID    *uuid.UUID `json:"card_id,omitempty" db:"card_id" gorm:"type:uuid;index"`
	TalkID    *uuid.UUID `json:"talk_id,omitempty" db:"talk_id" gorm:"type:uuid;index"`
	Notes     string     `json:"notes" db:"notes" gorm:"type:text"`

	AuthorHandle      string `json:"author_handle" db:"author_handle"`
	AuthorDID         string `json:"author_did" db:"author_did"`
	AuthorDisplayName string `json:"author_display_name" db:"author_display_name"`
	SpeakerName       string `json:"speaker_name" db:"speaker_name"`
	SpeakerHandle     string `json:"speaker_handle" db:"speaker_handle"`

	LikeCount        int        `json:"like_count" db:"like_count" gorm:"default:0"`
	RepostCount      int        `json:"repost_count" db:"repost_count" gorm:"default:0"`
	ReplyCount       int        `json:"reply_count" db:"reply_count" gorm:"default:0"`
	MetricsUpdatedAt *time.Time `json:"metrics_updated_at" db:"metrics_updated_at"`

	Following             *bool      `json:"following" db:"following"`
	RelationshipUpdatedAt *time.Time `json:"relationship_updated_at" db:"relationship_updated_at"`

	Language string                      `json:"language" db:"language" gorm:"type:varchar(8)"`
	Links    datatypes.JSONSlice[string] `json:"links" db:"links"`

	PostedAt     *time.Time `json:"posted_at" db:"posted_at" gorm:"index"`
	DiscoveredAt *time.Time `json:"discovered_at" db:"discovered_at" gorm:"index"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Card *Card `json:"card,omitempty" gorm:"foreignKey:CardID;references:ID;constraint:OnDelete:SET NULL"`
	Talk *Talk `json:"talk,omitempty" gorm:"foreignKey:TalkID;references:ID;constraint:OnDelete:SET NULL"`
}

// TableName sets the table name for the Share model
func (Share) TableName() string {
	return "social_shares"
}

// BeforeCreate assigns an id when the caller did not.
func (s *Share) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Engagement is the sum of likes, reposts and replies.
func (s *Share) Engagement() int {
	return s.LikeCount + s.RepostCount + s.ReplyCount
}
