package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Card is the read side of a tarot card owned by the content CRUD layer.
type Card struct {
	ID        uuid.UUID `json:"id" db:"id" gorm:"primaryKey;type:uuid"`
	Slug      string    `json:"slug" db:"slug" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name" db:"name" gorm:"not null"`
	ImageURL  string    `json:"image_url" db:"image_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for the Card model
func (Card) TableName() string {
	return "cards"
}

// BeforeCreate assigns an id when the caller did not.
func (c *Card) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Talk is the read side of a talk owned by the content CRUD layer.
type Talk struct {
	ID                   uuid.UUID `json:"id" db:"id" gorm:"primaryKey;type:uuid"`
	Slug                 string    `json:"slug" db:"slug" gorm:"uniqueIndex;not null"`
	Title                string    `json:"title" db:"title" gorm:"not null"`
	SpeakerName          string    `json:"speaker_name" db:"speaker_name"`
	SpeakerBlueskyHandle string    `json:"speaker_bluesky_handle" db:"speaker_bluesky_handle"`
	ThumbnailURL         string    `json:"thumbnail_url" db:"thumbnail_url"`
	CreatedAt            time.Time `json:"created_at" db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for the Talk model
func (Talk) TableName() string {
	return "talks"
}

// BeforeCreate assigns an id when the caller did not.
func (t *Talk) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
