package domain

import (
	"slices"
	"time"
)

const ActivityStreamsPublic = "https://www.w3.org/ns/activitystreams#Public"

type StatusType string

const (
	StatusNote     StatusType = "Note"
	StatusQuestion StatusType = "Question"
	StatusAnnounce StatusType = "Announce"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

type Attachment struct {
	Url       string
	MediaType string
	Name      string
	Width     int
	Height    int
}

type PollChoice struct {
	Title string
	Votes int
}

type Status struct {
	Id           string
	Url          string
	ActorId      string
	Type         StatusType
	Text         string
	Summary      string
	Sensitive    bool
	Language     string
	Visibility   Visibility
	To           []string
	Cc           []string
	Reply        string
	Conversation string
	// OriginalStatusId is set for announces only.
	OriginalStatusId string
	Choices          []PollChoice
	MediaIds         []string
	Attachments      []Attachment
	CreatedAt        time.Time
}

func (s *Status) IsAnnounce() bool {
	return s.Type == StatusAnnounce
}

// Recipients returns to, cc and the author id, in that order.
func (s *Status) Recipients() []string {
	recipients := make([]string, 0, len(s.To)+len(s.Cc)+1)
	recipients = append(recipients, s.To...)
	recipients = append(recipients, s.Cc...)
	return append(recipients, s.ActorId)
}

// IsAddressedTo reports whether id is named in to or cc.
func (s *Status) IsAddressedTo(id string) bool {
	return slices.Contains(s.To, id) || slices.Contains(s.Cc, id)
}

// VisibilityOf derives visibility from addressing the way Mastodon does.
func VisibilityOf(to, cc []string, followersUrl string) Visibility {
	switch {
	case slices.Contains(to, ActivityStreamsPublic):
		return VisibilityPublic
	case slices.Contains(cc, ActivityStreamsPublic):
		return VisibilityUnlisted
	case followersUrl != "" && (slices.Contains(to, followersUrl) || slices.Contains(cc, followersUrl)):
		return VisibilityPrivate
	}
	return VisibilityDirect
}
