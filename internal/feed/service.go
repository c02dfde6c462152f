// Package feed serves the audit query surface: single-entity timelines,
// the grouped event feed, event details, search and the admin list.
package feed

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tourneyaudit-server-go/internal/audit"
	"tourneyaudit-server-go/internal/resolver"
	"tourneyaudit-server-go/internal/store"
)

type Store interface {
	Source(t audit.EntityType) (store.AuditSource, error)
	GroupedUnion(ctx context.Context, parts []store.SourceGroupQuery, limit int) ([]audit.Bucket, error)
	RootTournamentID(ctx context.Context, t audit.EntityType, id int64) (*int64, error)
	AdminUserIDs(ctx context.Context) ([]int64, error)
}

type Resolver interface {
	ResolveEvents(ctx context.Context, events []audit.Event) (resolver.References, error)
	ResolveEntries(ctx context.Context, entries []audit.Entry) (resolver.References, error)
	ResolveTimeline(ctx context.Context, items []audit.TimelineItem) (resolver.References, error)
	Users(ctx context.Context, ids []int64) ([]audit.UserRef, error)
}

// Dispatch selects how grouped queries over several tables are issued.
type Dispatch string

const (
	// DispatchUnion sends one UNION ALL statement.
	DispatchUnion Dispatch = "union"
	// DispatchFanout queries every table concurrently and merges.
	DispatchFanout Dispatch = "fanout"
)

func ParseDispatch(s string) (Dispatch, error) {
	switch Dispatch(s) {
	case "", DispatchUnion:
		return DispatchUnion, nil
	case DispatchFanout:
		return DispatchFanout, nil
	}
	return "", fmt.Errorf("unknown dispatch mode %q", s)
}

type Config struct {
	DefaultLimit       int
	MaxLimit           int
	DefaultEntityTypes []audit.EntityType
	Dispatch           Dispatch
}

func DefaultConfig() Config {
	return Config{
		DefaultLimit:       50,
		MaxLimit:           100,
		DefaultEntityTypes: []audit.EntityType{audit.EntityTournament, audit.EntityMatch},
		Dispatch:           DispatchUnion,
	}
}

type Service struct {
	store    Store
	resolver Resolver
	cfg      Config
	log      *zap.SugaredLogger
	tracer   trace.Tracer
}

func NewService(st Store, res Resolver, cfg Config, log *zap.SugaredLogger) *Service {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if len(cfg.DefaultEntityTypes) == 0 {
		cfg.DefaultEntityTypes = def.DefaultEntityTypes
	}
	if cfg.Dispatch == "" {
		cfg.Dispatch = def.Dispatch
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		store:    st,
		resolver: res,
		cfg:      cfg,
		log:      log,
		tracer:   otel.Tracer("tourneyaudit-server-go/internal/feed"),
	}
}

// pageSize applies the default and the cap. Negative limits are invalid.
func (s *Service) pageSize(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: limit must not be negative", audit.ErrInvalidFilter)
	case limit == 0:
		return s.cfg.DefaultLimit, nil
	case limit > s.cfg.MaxLimit:
		return s.cfg.MaxLimit, nil
	}
	return limit, nil
}

func (s *Service) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
