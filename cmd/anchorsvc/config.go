package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openanchor/anchorsvc/anchor"
	"github.com/openanchor/anchorsvc/anchorstore"
	"github.com/openanchor/anchorsvc/archive"
	"github.com/openanchor/anchorsvc/ratelimit"
	"github.com/openanchor/anchorsvc/storage"
	"github.com/openanchor/anchorsvc/storage/memory"
	"github.com/openanchor/anchorsvc/storage/sql"
)

// Config is the config format for anchorsvc serve.
type Config struct {
	Storage   Storage   `json:"storage"`
	Web       Web       `json:"web"`
	Telemetry Telemetry `json:"telemetry"`
	Anchors   Anchors   `json:"anchors"`
	Archive   Archive   `json:"archive"`
	Logger    Logger    `json:"logger"`
}

// Validate the configuration.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Storage.Config == nil, "no storage supplied in config file"},
		{c.Web.HTTP == "" && c.Web.HTTPS == "", "must supply a HTTP/HTTPS address to listen on"},
		{c.Web.HTTPS != "" && c.Web.TLSCert == "", "no cert specified for HTTPS"},
		{c.Web.HTTPS != "" && c.Web.TLSKey == "", "no private key specified for HTTPS"},
		{c.Anchors.RangeFirst >= c.Anchors.RangeLast, "anchors.rangeFirst must be less than anchors.rangeLast"},
		{c.Anchors.RateLimitCapacity == 0, "anchors.rateLimitCapacity must be positive"},
	}

	var checkErrors []string
	for _, check := range checks {
		if check.bad {
			checkErrors = append(checkErrors, check.errMsg)
		}
	}
	if len(checkErrors) != 0 {
		return fmt.Errorf("invalid config:\n\t-\t%s", strings.Join(checkErrors, "\n\t-\t"))
	}
	return nil
}

// Web is the config format for the HTTP server.
type Web struct {
	HTTP    string `json:"http"`
	HTTPS   string `json:"https"`
	TLSCert string `json:"tlsCert"`
	TLSKey  string `json:"tlsKey"`
}

// Telemetry is the config format for the metrics/health HTTP server.
type Telemetry struct {
	HTTP string `json:"http"`
}

// Anchors configures the AnchorStore's assigned number range and the
// registration rate limiter.
type Anchors struct {
	RangeFirst        uint64 `json:"rangeFirst"`
	RangeLast         uint64 `json:"rangeLast"`
	RateLimitCapacity uint64 `json:"rateLimitCapacity"`
	RateLimitPeriodMS int64  `json:"rateLimitPeriodMs"`
	ServiceID         string `json:"serviceId"`
}

func (a Anchors) anchorRange() anchorstore.Range {
	return anchorstore.Range{First: anchor.Number(a.RangeFirst), Last: anchor.Number(a.RangeLast)}
}

func (a Anchors) rateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxTokens:    a.RateLimitCapacity,
		TimePerToken: time.Duration(a.RateLimitPeriodMS) * time.Millisecond,
	}
}

// Archive configures the optional archive push client. A blank
// Endpoint disables archiving entirely.
type Archive struct {
	Endpoint           string   `json:"endpoint"`
	RootCAs            []string `json:"rootCAs"`
	InsecureSkipVerify bool     `json:"insecureSkipVerify"`
}

func (a Archive) config() archive.Config {
	return archive.Config{Endpoint: a.Endpoint, RootCAs: a.RootCAs, InsecureSkipVerify: a.InsecureSkipVerify}
}

// Logger holds configuration for logging.
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Storage holds the page store configuration.
type Storage struct {
	Type   string        `json:"type"`
	Config StorageConfig `json:"config"`
}

// StorageConfig is a configuration that can open a PageStore.
type StorageConfig interface {
	Open() (storage.PageStore, error)
}

var (
	_ StorageConfig = (*memory.Config)(nil)
	_ StorageConfig = (*sql.SQLite3)(nil)
	_ StorageConfig = (*sql.Postgres)(nil)
	_ StorageConfig = (*sql.MySQL)(nil)
)

var pageStores = map[string]func() StorageConfig{
	"memory":   func() StorageConfig { return new(memory.Config) },
	"sqlite3":  func() StorageConfig { return new(sql.SQLite3) },
	"postgres": func() StorageConfig { return new(sql.Postgres) },
	"mysql":    func() StorageConfig { return new(sql.MySQL) },
}

// UnmarshalJSON dynamically determines the storage backend from Type.
func (s *Storage) UnmarshalJSON(b []byte) error {
	var store struct {
		Type   string          `json:"type"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(b, &store); err != nil {
		return fmt.Errorf("parse storage: %v", err)
	}
	f, ok := pageStores[store.Type]
	if !ok {
		return fmt.Errorf("unknown storage type %q", store.Type)
	}
	storageConfig := f()
	if len(store.Config) != 0 {
		if err := json.Unmarshal(store.Config, storageConfig); err != nil {
			return fmt.Errorf("parse storage config: %v", err)
		}
	}
	*s = Storage{Type: store.Type, Config: storageConfig}
	return nil
}
