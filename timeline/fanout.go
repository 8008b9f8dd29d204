// Package timeline places stored statuses on the timelines of local actors.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
	"golang.org/x/sync/errgroup"
)

const fanOutConcurrency = 8

type FanOut struct {
	store   storage.Storage
	rules   []Rule
	log     *log.Logger
	metrics *metrics.Metrics
}

// New returns a fan-out applying the main and no-announce rules.
func New(store storage.Storage, logger *log.Logger, m *metrics.Metrics) *FanOut {
	return &FanOut{
		store:   store,
		rules:   []Rule{NewMainTimelineRule(store), NewNoAnnounceTimelineRule(store)},
		log:     logger,
		metrics: m,
	}
}

// FanOut writes status onto every timeline of every local recipient whose
// rule accepts it. Running it twice adds nothing.
func (f *FanOut) FanOut(ctx context.Context, status *domain.Status) error {
	recipients, err := f.recipients(ctx, status)
	if err != nil {
		return err
	}
	f.metrics.ObserveFanOut(len(recipients))
	if len(recipients) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutConcurrency)
	for i := range recipients {
		actor := &recipients[i]
		g.Go(func() error {
			return f.place(ctx, actor, status)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fan out %s: %w", status.Id, err)
	}

	f.log.Debug("Fanned out", "status", status.Id, "recipients", len(recipients))
	return nil
}

func (f *FanOut) place(ctx context.Context, actor *domain.Actor, status *domain.Status) error {
	for _, rule := range f.rules {
		exists, err := f.store.HasTimelineStatus(ctx, actor.Id, status.Id, rule.Timeline())
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		include, err := rule.Include(ctx, actor, status)
		if err != nil {
			return err
		}
		if !include {
			continue
		}
		err = f.store.CreateTimelineStatus(ctx, domain.TimelineEntry{
			ActorId:   actor.Id,
			StatusId:  status.Id,
			Timeline:  rule.Timeline(),
			CreatedAt: orderingTime(status),
		})
		if err != nil {
			return err
		}
		f.metrics.ObserveTimelineEntry(string(rule.Timeline()))
	}
	return nil
}

// orderingTime places an entry by when its status was created.
func orderingTime(status *domain.Status) time.Time {
	if status.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return status.CreatedAt.UTC()
}

// recipients resolves to, cc and the author to distinct local actors. A
// followers collection expands to its local members.
func (f *FanOut) recipients(ctx context.Context, status *domain.Status) ([]domain.Actor, error) {
	seen := map[string]bool{}
	var actors []domain.Actor
	add := func(list ...domain.Actor) {
		for _, a := range list {
			if !seen[a.Id] {
				seen[a.Id] = true
				actors = append(actors, a)
			}
		}
	}

	for _, recipient := range status.Recipients() {
		if recipient == "" || recipient == domain.ActivityStreamsPublic {
			continue
		}
		if _, ok := domain.FollowersOwner(recipient); ok {
			followers, err := f.store.GetLocalActorsFromFollowerURL(ctx, recipient)
			if err != nil {
				return nil, err
			}
			add(followers...)
			continue
		}
		actor, err := f.store.GetActorFromID(ctx, recipient)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		add(*actor)
	}
	return actors, nil
}
