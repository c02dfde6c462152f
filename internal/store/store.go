package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tourneyaudit-server-go/internal/audit"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// QueryObserver receives the outcome of every store operation.
type QueryObserver interface {
	ObserveQuery(op string, d time.Duration, err error)
}

type Store struct {
	db       *sql.DB
	log      *zap.SugaredLogger
	tracer   trace.Tracer
	observer QueryObserver
	sources  map[audit.EntityType]*tableSource
}

func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{
		db:      db,
		log:     log,
		tracer:  otel.Tracer("tourneyaudit-server-go/internal/store"),
		sources: make(map[audit.EntityType]*tableSource, len(tables)),
	}
	for t, def := range tables {
		s.sources[t] = &tableSource{store: s, def: def}
	}
	return s
}

func (s *Store) SetObserver(o QueryObserver) {
	s.observer = o
}

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres through the pgx stdlib driver and checks the
// connection.
func Open(ctx context.Context, databaseURL string, opts PoolOptions) (*sql.DB, error) {
	db, err := sql.Open("pgx", normalizeDatabaseURL(databaseURL))
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", wrapErr(err))
	}
	return db, nil
}

// pgx rejects the prisma-style schema parameter.
func normalizeDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("schema") {
		q.Del("schema")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "store.Ping")
	err := wrapErr(s.db.PingContext(ctx))
	span.end(err)
	return err
}

// Source returns the audit table for t.
func (s *Store) Source(t audit.EntityType) (AuditSource, error) {
	src, ok := s.sources[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %d", audit.ErrInvalidFilter, int(t))
	}
	return src, nil
}

type opSpan struct {
	span     trace.Span
	op       string
	start    time.Time
	observer QueryObserver
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *opSpan) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	return ctx, &opSpan{span: span, op: name, start: time.Now(), observer: s.observer}
}

func (o *opSpan) end(err error) {
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	o.span.End()
	if o.observer != nil {
		o.observer.ObserveQuery(o.op, time.Since(o.start), err)
	}
}
