package cmd

import (
	"net/http"

	"github.com/deemkeen/pubengine/actions"
	"github.com/deemkeen/pubengine/activitypub"
	"github.com/deemkeen/pubengine/media"
	"github.com/deemkeen/pubengine/metrics"
	"github.com/deemkeen/pubengine/storage"
	"github.com/deemkeen/pubengine/timeline"
	"github.com/deemkeen/pubengine/util"
	"github.com/deemkeen/pubengine/web"
)

// app is every component wired to one storage backend.
type app struct {
	conf      *util.AppConfig
	store     storage.Storage
	metrics   *metrics.Metrics
	sender    *activitypub.Sender
	processor *activitypub.Processor
	actions   *actions.Actions
	media     *media.Store
}

func newApp(conf *util.AppConfig, store storage.Storage) *app {
	fed := conf.Conf.Federation
	m := metrics.New()
	fetcher := activitypub.NewFetcher(&http.Client{}, fed.UserAgent)

	resolver := activitypub.NewResolver(fetcher, activitypub.ResolverConfig{
		FetchTimeout:   fed.FetchTimeout,
		ProfileTimeout: fed.ProfileTimeout,
		CacheTTL:       fed.ProfileCacheTTL,
	}, conf.Logger("resolver"), m)

	timelines := timeline.New(store, conf.Logger("fanout"), m)
	sender := activitypub.NewSender(fetcher, fed.FetchTimeout, conf.Logger("delivery"), m)
	broadcaster := activitypub.NewBroadcaster(sender, store, fed.DeliveryConcurrency, fed.RetryDeliveries, conf.Logger("delivery"))
	mediaStore := media.NewStore(conf.Conf.Media.Dir, "https://"+conf.Conf.Domain, conf.Conf.Media.MaxBytes, store, conf.Logger("media"))

	processor := activitypub.NewProcessor(activitypub.ProcessorConfig{
		Store:        store,
		Keys:         activitypub.NewKeyResolver(store, resolver, conf.Logger("keys")),
		Profiles:     resolver,
		Fetcher:      fetcher,
		Timelines:    timelines,
		FetchTimeout: fed.FetchTimeout,
		Logger:       conf.Logger("inbox"),
		Metrics:      m,
	})

	acts := actions.New(actions.Config{Domain: conf.Conf.Domain, KeyBits: conf.Conf.KeyBits}, actions.Deps{
		Store:       store,
		Resolver:    resolver,
		Sender:      sender,
		Broadcaster: broadcaster,
		Timelines:   timelines,
		Media:       mediaStore,
		Logger:      conf.Logger("actions"),
	})

	return &app{
		conf:      conf,
		store:     store,
		metrics:   m,
		sender:    sender,
		processor: processor,
		actions:   acts,
		media:     mediaStore,
	}
}

func (a *app) server() *web.Server {
	return web.NewServer(a.conf, web.Deps{
		Store:     a.store,
		Processor: a.processor,
		Actions:   a.actions,
		Media:     a.media,
		Metrics:   a.metrics,
		Logger:    a.conf.Logger("web"),
	})
}

func (a *app) deliveryWorker() *activitypub.DeliveryWorker {
	return activitypub.NewDeliveryWorker(a.store, a.sender, deliveryInterval, a.conf.Logger("delivery"), a.metrics)
}
