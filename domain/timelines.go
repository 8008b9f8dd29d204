package domain

import (
	"time"

	"github.com/google/uuid"
)

type Timeline string

const (
	TimelineMain       Timeline = "main"
	TimelineNoAnnounce Timeline = "noannounce"
)

func (t Timeline) Valid() bool {
	return t == TimelineMain || t == TimelineNoAnnounce
}

type TimelineEntry struct {
	ActorId   string
	StatusId  string
	Timeline  Timeline
	CreatedAt time.Time
}

// RemoteProfile is the resolved public view of a remote actor. It is a cache
// value and never persisted.
type RemoteProfile struct {
	Id             string
	Username       string
	Domain         string
	Name           string
	Summary        string
	IconUrl        string
	Url            string
	Inbox          string
	SharedInbox    string
	Outbox         string
	FollowersUrl   string
	FollowingUrl   string
	PublicKey      string
	FollowersCount int
	FollowingCount int
	StatusesCount  int
	CreatedAt      time.Time
}

// DeliveryInbox prefers the shared inbox.
func (p *RemoteProfile) DeliveryInbox() string {
	if p.SharedInbox != "" {
		return p.SharedInbox
	}
	return p.Inbox
}

// DeliveryJob is a failed delivery waiting for another attempt.
type DeliveryJob struct {
	Id           uuid.UUID
	ActorId      string
	Inbox        string
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
