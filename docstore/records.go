package docstore

import (
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

const snapshotVersion = 1

type snapshot struct {
	Version    int              `cbor:"1,keyasint"`
	Accounts   []accountRecord  `cbor:"2,keyasint,omitempty"`
	Actors     []actorRecord    `cbor:"3,keyasint,omitempty"`
	Statuses   []statusRecord   `cbor:"4,keyasint,omitempty"`
	Follows    []followRecord   `cbor:"5,keyasint,omitempty"`
	Likes      []likeRecord     `cbor:"6,keyasint,omitempty"`
	Medias     []mediaRecord    `cbor:"7,keyasint,omitempty"`
	Timelines  []timelineRecord `cbor:"8,keyasint,omitempty"`
	Deliveries []deliveryRecord `cbor:"9,keyasint,omitempty"`
}

type accountRecord struct {
	Id           string `cbor:"id"`
	Email        string `cbor:"email"`
	PasswordHash string `cbor:"password_hash"`
	CreatedAt    int64  `cbor:"created_at"`
}

type actorRecord struct {
	Id         string `cbor:"id"`
	AccountId  string `cbor:"account_id"`
	Username   string `cbor:"username"`
	Domain     string `cbor:"domain"`
	Name       string `cbor:"name,omitempty"`
	Summary    string `cbor:"summary,omitempty"`
	IconUrl    string `cbor:"icon_url,omitempty"`
	PublicKey  string `cbor:"public_key"`
	PrivateKey string `cbor:"private_key"`
	CreatedAt  int64  `cbor:"created_at"`
}

type statusRecord struct {
	Id               string              `cbor:"id"`
	Url              string              `cbor:"url,omitempty"`
	ActorId          string              `cbor:"actor_id"`
	Type             string              `cbor:"type"`
	Text             string              `cbor:"text,omitempty"`
	Summary          string              `cbor:"summary,omitempty"`
	Sensitive        bool                `cbor:"sensitive,omitempty"`
	Language         string              `cbor:"language,omitempty"`
	Visibility       string              `cbor:"visibility"`
	To               []string            `cbor:"to,omitempty"`
	Cc               []string            `cbor:"cc,omitempty"`
	Reply            string              `cbor:"reply,omitempty"`
	Conversation     string              `cbor:"conversation,omitempty"`
	OriginalStatusId string              `cbor:"original_status_id,omitempty"`
	Choices          []domain.PollChoice `cbor:"choices,omitempty"`
	MediaIds         []string            `cbor:"media_ids,omitempty"`
	Attachments      []domain.Attachment `cbor:"attachments,omitempty"`
	CreatedAt        int64               `cbor:"created_at"`
}

type followRecord struct {
	Id            string `cbor:"id"`
	ActorId       string `cbor:"actor_id"`
	TargetActorId string `cbor:"target_actor_id"`
	Status        string `cbor:"status"`
	Uri           string `cbor:"uri,omitempty"`
	Inbox         string `cbor:"inbox,omitempty"`
	SharedInbox   string `cbor:"shared_inbox,omitempty"`
	CreatedAt     int64  `cbor:"created_at"`
	UpdatedAt     int64  `cbor:"updated_at"`
}

type likeRecord struct {
	ActorId   string `cbor:"actor_id"`
	StatusId  string `cbor:"status_id"`
	CreatedAt int64  `cbor:"created_at"`
}

type mediaRecord struct {
	Id          string            `cbor:"id"`
	ActorId     string            `cbor:"actor_id"`
	Original    domain.MediaFile  `cbor:"original"`
	Thumbnail   *domain.MediaFile `cbor:"thumbnail,omitempty"`
	Description string            `cbor:"description,omitempty"`
	CreatedAt   int64             `cbor:"created_at"`
}

type timelineRecord struct {
	ActorId   string `cbor:"actor_id"`
	StatusId  string `cbor:"status_id"`
	Timeline  string `cbor:"timeline"`
	CreatedAt int64  `cbor:"created_at"`
}

type deliveryRecord struct {
	Id           string `cbor:"id"`
	ActorId      string `cbor:"actor_id"`
	Inbox        string `cbor:"inbox"`
	ActivityJSON string `cbor:"activity"`
	Attempts     int    `cbor:"attempts"`
	NextRetryAt  int64  `cbor:"next_retry_at"`
	CreatedAt    int64  `cbor:"created_at"`
}

func (s *Store) snapshotLocked() *snapshot {
	snap := &snapshot{Version: snapshotVersion}

	for _, a := range s.accounts {
		snap.Accounts = append(snap.Accounts, accountRecord{
			Id: a.Id.String(), Email: a.Email, PasswordHash: a.PasswordHash, CreatedAt: storage.ToMillis(a.CreatedAt),
		})
	}
	for _, a := range s.actors {
		snap.Actors = append(snap.Actors, actorRecord{
			Id: a.Id, AccountId: a.AccountId.String(), Username: a.Username, Domain: a.Domain, Name: a.Name,
			Summary: a.Summary, IconUrl: a.IconUrl, PublicKey: a.PublicKey, PrivateKey: a.PrivateKey,
			CreatedAt: storage.ToMillis(a.CreatedAt),
		})
	}
	for _, st := range s.statuses {
		snap.Statuses = append(snap.Statuses, statusRecord{
			Id: st.Id, Url: st.Url, ActorId: st.ActorId, Type: string(st.Type), Text: st.Text, Summary: st.Summary,
			Sensitive: st.Sensitive, Language: st.Language, Visibility: string(st.Visibility), To: st.To, Cc: st.Cc,
			Reply: st.Reply, Conversation: st.Conversation, OriginalStatusId: st.OriginalStatusId,
			Choices: st.Choices, MediaIds: st.MediaIds, Attachments: st.Attachments,
			CreatedAt: storage.ToMillis(st.CreatedAt),
		})
	}
	for _, f := range s.follows {
		snap.Follows = append(snap.Follows, followRecord{
			Id: f.Id.String(), ActorId: f.ActorId, TargetActorId: f.TargetActorId, Status: string(f.Status),
			Uri: f.Uri, Inbox: f.Inbox, SharedInbox: f.SharedInbox,
			CreatedAt: storage.ToMillis(f.CreatedAt), UpdatedAt: storage.ToMillis(f.UpdatedAt),
		})
	}
	for k, createdAt := range s.likes {
		snap.Likes = append(snap.Likes, likeRecord{
			ActorId: k.actorId, StatusId: k.statusId, CreatedAt: storage.ToMillis(createdAt),
		})
	}
	for _, m := range s.medias {
		snap.Medias = append(snap.Medias, mediaRecord{
			Id: m.Id.String(), ActorId: m.ActorId, Original: m.Original, Thumbnail: m.Thumbnail,
			Description: m.Description, CreatedAt: storage.ToMillis(m.CreatedAt),
		})
	}
	for k, createdAt := range s.timelines {
		snap.Timelines = append(snap.Timelines, timelineRecord{
			ActorId: k.actorId, StatusId: k.statusId, Timeline: string(k.timeline), CreatedAt: storage.ToMillis(createdAt),
		})
	}
	for _, d := range s.deliveries {
		snap.Deliveries = append(snap.Deliveries, deliveryRecord{
			Id: d.Id.String(), ActorId: d.ActorId, Inbox: d.Inbox, ActivityJSON: d.ActivityJSON, Attempts: d.Attempts,
			NextRetryAt: storage.ToMillis(d.NextRetryAt), CreatedAt: storage.ToMillis(d.CreatedAt),
		})
	}
	return snap
}

func (s *Store) restore(snap *snapshot) {
	for _, r := range snap.Accounts {
		id, _ := uuid.Parse(r.Id)
		s.accounts[id] = domain.Account{
			Id: id, Email: r.Email, PasswordHash: r.PasswordHash, CreatedAt: storage.FromMillis(r.CreatedAt),
		}
		s.emails[r.Email] = id
	}
	for _, r := range snap.Actors {
		accountId, _ := uuid.Parse(r.AccountId)
		s.actors[r.Id] = domain.Actor{
			Id: r.Id, AccountId: accountId, Username: r.Username, Domain: r.Domain, Name: r.Name, Summary: r.Summary,
			IconUrl: r.IconUrl, PublicKey: r.PublicKey, PrivateKey: r.PrivateKey, CreatedAt: storage.FromMillis(r.CreatedAt),
		}
		s.usernames[usernameKey(r.Username, r.Domain)] = r.Id
	}
	for _, r := range snap.Statuses {
		s.statuses[r.Id] = domain.Status{
			Id: r.Id, Url: r.Url, ActorId: r.ActorId, Type: domain.StatusType(r.Type), Text: r.Text, Summary: r.Summary,
			Sensitive: r.Sensitive, Language: r.Language, Visibility: domain.Visibility(r.Visibility), To: r.To, Cc: r.Cc,
			Reply: r.Reply, Conversation: r.Conversation, OriginalStatusId: r.OriginalStatusId, Choices: r.Choices,
			MediaIds: r.MediaIds, Attachments: r.Attachments, CreatedAt: storage.FromMillis(r.CreatedAt),
		}
	}
	for _, r := range snap.Follows {
		id, _ := uuid.Parse(r.Id)
		s.follows[id] = domain.Follow{
			Id: id, ActorId: r.ActorId, TargetActorId: r.TargetActorId, Status: domain.FollowStatus(r.Status),
			Uri: r.Uri, Inbox: r.Inbox, SharedInbox: r.SharedInbox,
			CreatedAt: storage.FromMillis(r.CreatedAt), UpdatedAt: storage.FromMillis(r.UpdatedAt),
		}
	}
	for _, r := range snap.Likes {
		s.likes[likeKey{r.ActorId, r.StatusId}] = storage.FromMillis(r.CreatedAt)
	}
	for _, r := range snap.Medias {
		id, _ := uuid.Parse(r.Id)
		s.medias[id] = domain.Media{
			Id: id, ActorId: r.ActorId, Original: r.Original, Thumbnail: r.Thumbnail,
			Description: r.Description, CreatedAt: storage.FromMillis(r.CreatedAt),
		}
	}
	for _, r := range snap.Timelines {
		s.timelines[timelineKey{r.ActorId, r.StatusId, domain.Timeline(r.Timeline)}] = storage.FromMillis(r.CreatedAt)
	}
	for _, r := range snap.Deliveries {
		id, _ := uuid.Parse(r.Id)
		s.deliveries[id] = domain.DeliveryJob{
			Id: id, ActorId: r.ActorId, Inbox: r.Inbox, ActivityJSON: r.ActivityJSON, Attempts: r.Attempts,
			NextRetryAt: storage.FromMillis(r.NextRetryAt), CreatedAt: storage.FromMillis(r.CreatedAt),
		}
	}
}
