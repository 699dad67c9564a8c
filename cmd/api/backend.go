package main

import (
	"go.uber.org/zap"

	"gatherly.app/internal/access"
	"gatherly.app/internal/assign"
	"gatherly.app/internal/audit"
	"gatherly.app/internal/config"
	"gatherly.app/internal/httpapi"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/item"
	"gatherly.app/internal/member"
	"gatherly.app/internal/slug"
	"gatherly.app/internal/space"
	"gatherly.app/internal/store/memstore"
	"gatherly.app/internal/store/pg"
	"gatherly.app/internal/subscription"
	"gatherly.app/internal/txn"
)

// stores is everything one storage backend provides.
type stores struct {
	spaces      space.Store
	items       item.Store
	members     member.Store
	assignments assign.Store
	slugs       slug.Registry
	subs        subscription.Store
	users       identity.Directory
	tx          txn.Runner
	sink        audit.Sink
}

type backend struct {
	name     string
	services httpapi.Services
	pinger   httpapi.Pinger
	close    func() error
}

func openBackend(cfg config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.PGDSN == "" {
		return memBackend(cfg, logger)
	}
	return pgBackend(cfg, logger)
}

func pgBackend(cfg config.Config, logger *zap.Logger) (*backend, error) {
	st, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	svc, err := wire(stores{
		spaces:      st.Spaces(),
		items:       st.Items(),
		members:     st.Members(),
		assignments: st.Assignments(),
		slugs:       st,
		subs:        st,
		users:       st,
		tx:          st,
		sink:        st,
	}, cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &backend{name: "postgres", services: svc, pinger: st, close: st.Close}, nil
}

func memBackend(cfg config.Config, logger *zap.Logger) (*backend, error) {
	st := memstore.New()
	for _, u := range cfg.Users {
		st.PutUser(u)
	}
	if len(cfg.Users) == 0 {
		logger.Warn("in-memory backend has no users; configure users to obtain tokens")
	}
	svc, err := wire(stores{
		spaces:      st.Spaces(),
		items:       st.Items(),
		members:     st.Members(),
		assignments: st.Assignments(),
		slugs:       st,
		subs:        st,
		users:       st,
		tx:          st,
		sink:        st,
	}, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &backend{name: "memory", services: svc, close: func() error { return nil }}, nil
}

func wire(s stores, cfg config.Config, logger *zap.Logger) (httpapi.Services, error) {
	sink := audit.Multi(s.sink, audit.NewLogSink(logger))

	subs, err := subscription.NewService(s.subs, s.tx, sink)
	if err != nil {
		return httpapi.Services{}, err
	}
	spaces, err := space.NewService(s.spaces, s.slugs, s.subs, s.tx, sink)
	if err != nil {
		return httpapi.Services{}, err
	}
	var itemOpts []item.Option
	if cfg.StableItemSlugs {
		itemOpts = append(itemOpts, item.WithStableSlugs())
	}
	items, err := item.NewService(s.items, s.slugs, s.tx, sink, itemOpts...)
	if err != nil {
		return httpapi.Services{}, err
	}
	members, err := member.NewService(s.members, s.users, s.tx, sink)
	if err != nil {
		return httpapi.Services{}, err
	}
	assignments, err := assign.New(s.assignments, s.tx, sink)
	if err != nil {
		return httpapi.Services{}, err
	}
	return httpapi.Services{
		Spaces:        spaces,
		Items:         items,
		Members:       members,
		Assignments:   assignments,
		Access:        access.New(s.members, access.WithLogger(logger)),
		Subscriptions: subs,
		Users:         s.users,
		Tx:            s.tx,
	}, nil
}
