package docstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/google/uuid"
)

func usernameKey(username, domainName string) string {
	return username + "@" + domainName
}

func (s *Store) CreateAccount(_ context.Context, params storage.CreateAccountParams) (*domain.Account, *domain.Actor, error) {
	now := millis(time.Now())
	account := domain.Account{
		Id:           uuid.New(),
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
	}
	actor := domain.Actor{
		Id:         domain.ActorId(params.Domain, params.Username),
		AccountId:  account.Id,
		Username:   params.Username,
		Domain:     params.Domain,
		Name:       params.Name,
		Summary:    params.Summary,
		IconUrl:    params.IconUrl,
		PublicKey:  params.PublicKey,
		PrivateKey: params.PrivateKey,
		CreatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[account.Email]; taken {
		return nil, nil, fmt.Errorf("email %s: %w", account.Email, storage.ErrConflict)
	}
	if _, taken := s.usernames[usernameKey(actor.Username, actor.Domain)]; taken {
		return nil, nil, fmt.Errorf("username %s: %w", actor.Username, storage.ErrConflict)
	}
	if _, taken := s.actors[actor.Id]; taken {
		return nil, nil, fmt.Errorf("actor %s: %w", actor.Id, storage.ErrConflict)
	}

	s.accounts[account.Id] = account
	s.emails[account.Email] = account.Id
	s.actors[actor.Id] = actor
	s.usernames[usernameKey(actor.Username, actor.Domain)] = actor.Id
	s.dirty = true

	return &account, &actor, nil
}

func (s *Store) IsAccountExists(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[email]
	return ok, nil
}

func (s *Store) IsUsernameExists(_ context.Context, username, domainName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.usernames[usernameKey(username, domainName)]
	return ok, nil
}

func (s *Store) GetAccountFromEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	account := s.accounts[id]
	return &account, nil
}

func (s *Store) GetActorFromID(_ context.Context, id string) (*domain.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.actors[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &actor, nil
}

func (s *Store) GetActorFromUsername(ctx context.Context, username, domainName string) (*domain.Actor, error) {
	s.mu.RLock()
	id, ok := s.usernames[usernameKey(username, domainName)]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.GetActorFromID(ctx, id)
}

func (s *Store) GetActorFromEmail(_ context.Context, email string) (*domain.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accountId, ok := s.emails[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	for _, actor := range s.actors {
		if actor.AccountId == accountId {
			return &actor, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetLocalActors(_ context.Context) ([]domain.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actors := make([]domain.Actor, 0, len(s.actors))
	for _, actor := range s.actors {
		actors = append(actors, actor)
	}
	sortActors(actors)
	return actors, nil
}

func sortActors(actors []domain.Actor) {
	slices.SortFunc(actors, func(a, b domain.Actor) int {
		return strings.Compare(a.Username, b.Username)
	})
}
