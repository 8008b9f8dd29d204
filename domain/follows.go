package domain

import (
	"time"

	"github.com/google/uuid"
)

type FollowStatus string

const (
	FollowRequested FollowStatus = "Requested"
	FollowAccepted  FollowStatus = "Accepted"
	FollowRejected  FollowStatus = "Rejected"
	FollowUndo      FollowStatus = "Undo"
)

func (s FollowStatus) IsActive() bool {
	return s == FollowRequested || s == FollowAccepted
}

func (s FollowStatus) Valid() bool {
	switch s {
	case FollowRequested, FollowAccepted, FollowRejected, FollowUndo:
		return true
	}
	return false
}

// Follow is a directed edge from ActorId to TargetActorId. Inbox and
// SharedInbox belong to the follower and are used for delivery.
type Follow struct {
	Id            uuid.UUID
	ActorId       string
	TargetActorId string
	Status        FollowStatus
	Uri           string
	Inbox         string
	SharedInbox   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryInbox prefers the shared inbox.
func (f *Follow) DeliveryInbox() string {
	if f.SharedInbox != "" {
		return f.SharedInbox
	}
	return f.Inbox
}

type Like struct {
	ActorId   string
	StatusId  string
	CreatedAt time.Time
}
