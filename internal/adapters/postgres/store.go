// Package postgres implements the Data Store (§4.1) on top of Postgres
// via sqlx and lib/pq.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/forgectl/forge3d/internal/core/domain"
)

// Store wraps a sqlx connection pool and owns the proxy-URL rewrite that
// every read-path accessor applies before returning storage URLs.
type Store struct {
	db            *sqlx.DB
	proxyBaseURL  string
}

func New(databaseURL, proxyBaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, proxyBaseURL: strings.TrimRight(proxyBaseURL, "/")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Health(ctx context.Context) error { return s.db.PingContext(ctx) }

// DB exposes the underlying connection pool for adapters that share it
// with the Data Store, e.g. the Postgres-backed job queue's claim SELECT,
// its NOTIFY calls and its retry lookups (§4.3). The queue's LISTEN
// listener opens its own connection from the DSN instead.
func (s *Store) DB() *sqlx.DB { return s.db }

// proxyURL implements §6's URL rewrite: "{proxy_base}/proxy/{kind}?url={original}".
// The Data Store, not the caller, owns this rewrite on every outbound read.
func (s *Store) proxyURL(kind string, original *string) *string {
	if original == nil || *original == "" {
		return original
	}
	rewritten := fmt.Sprintf("%s/proxy/%s?url=%s", s.proxyBaseURL, kind, url.QueryEscape(*original))
	return &rewritten
}

func (s *Store) rewriteImage(img *domain.Image) {
	img.ImageURL = s.proxyURL("image", img.ImageURL)
}

func (s *Store) rewriteModel(m *domain.Model) {
	m.ModelURL = s.proxyURL("model", m.ModelURL)
	m.MTLURL = s.proxyURL("model", m.MTLURL)
	m.TextureURL = s.proxyURL("model", m.TextureURL)
	m.PreviewImageURL = s.proxyURL("model", m.PreviewImageURL)
}

func classifyDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.Classify(domain.KindIntegrity, op, err)
}
