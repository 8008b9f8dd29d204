package domain

import (
	"time"

	"github.com/google/uuid"
)

type MediaFile struct {
	Path     string
	Bytes    int64
	MimeType string
	Width    int
	Height   int
}

type Media struct {
	Id          uuid.UUID
	ActorId     string
	Original    MediaFile
	Thumbnail   *MediaFile
	Description string
	CreatedAt   time.Time
}
