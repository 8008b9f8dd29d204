package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Account struct {
	Id           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Actor is a local account's federated identity. Remote actors are never
// stored as Actor rows, see RemoteProfile.
type Actor struct {
	Id         string
	AccountId  uuid.UUID
	Username   string
	Domain     string
	Name       string
	Summary    string
	IconUrl    string
	PublicKey  string
	PrivateKey string
	CreatedAt  time.Time
}

// ActorId builds the canonical id of a local actor.
func ActorId(domain, username string) string {
	return fmt.Sprintf("https://%s/users/%s", domain, username)
}

func (a *Actor) IsLocal() bool {
	return a.PrivateKey != ""
}

func (a *Actor) Inbox() string       { return a.Id + "/inbox" }
func (a *Actor) Outbox() string      { return a.Id + "/outbox" }
func (a *Actor) Followers() string   { return a.Id + "/followers" }
func (a *Actor) Following() string   { return a.Id + "/following" }
func (a *Actor) KeyId() string       { return a.Id + "#main-key" }
func (a *Actor) SharedInbox() string { return fmt.Sprintf("https://%s/inbox", a.Domain) }

// Handle returns the @username@domain form.
func (a *Actor) Handle() string {
	return fmt.Sprintf("@%s@%s", a.Username, a.Domain)
}

// StatusId builds the id of a new status authored by this actor.
func (a *Actor) StatusId(postId string) string {
	return fmt.Sprintf("%s/statuses/%s", a.Id, postId)
}

func (a *Actor) StatusUrl(postId string) string {
	return fmt.Sprintf("https://%s/@%s/%s", a.Domain, a.Username, postId)
}

// FollowersOwner returns the actor id owning a followers collection url, or
// false when followerUrl is not a followers collection.
func FollowersOwner(followerUrl string) (string, bool) {
	owner, found := strings.CutSuffix(followerUrl, "/followers")
	if !found || owner == "" {
		return "", false
	}
	return owner, true
}

// DomainOf returns the host part of an actor or object id.
func DomainOf(id string) string {
	u, err := url.Parse(id)
	if err != nil {
		return ""
	}
	return u.Host
}
