// Package database manages the named target-database connections the scan
// pipeline reads from, and implements the connection provider port.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	// Registers the pgx stdlib driver used for all scan connections.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Config describes one named target database.
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	Dialect         string        `yaml:"dialect"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "piiscan_reader",
		Database:        "postgres",
		SSLMode:         "disable",
		Dialect:         "postgres",
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overrides credentials from the environment. Invalid numeric
// values keep the configured value.
func (c *Config) LoadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		c.Database = name
	}
	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
}

// ApplyDefaults fills zero-valued fields with the defaults.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.User == "" {
		c.User = def.User
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.SSLMode == "" {
		c.SSLMode = def.SSLMode
	}
	if c.Dialect == "" {
		c.Dialect = def.Dialect
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = def.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errs.NewInvalidRequestError("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errs.Newf(errs.ErrorTypeInvalidRequest, "database port must be between 1 and 65535, got %d", c.Port)
	}
	if c.User == "" {
		return errs.NewInvalidRequestError("database user is required")
	}
	if c.Database == "" {
		return errs.NewInvalidRequestError("database name is required")
	}
	return nil
}

// DSN builds the connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// scopedConnection implements scan.ScopedConnection over a shared pool.
// Release marks the scope done without closing the pool.
type scopedConnection struct {
	db      *sqlx.DB
	dialect string
	release func()
	once    sync.Once
}

func (s *scopedConnection) DB() *sqlx.DB    { return s.db }
func (s *scopedConnection) Dialect() string { return s.dialect }
func (s *scopedConnection) Release()        { s.once.Do(s.release) }

// Provider hands out connection scopes for the named connections from
// configuration. Pools are opened lazily on first acquire and shared across
// scans of the same connection id.
type Provider struct {
	mu      sync.Mutex
	configs map[string]*Config
	pools   map[string]*sqlx.DB
	log     *logrus.Logger
}

// NewProvider creates a provider over the named connection configs.
func NewProvider(configs map[string]*Config, log *logrus.Logger) *Provider {
	normalized := make(map[string]*Config, len(configs))
	for id, cfg := range configs {
		c := *cfg
		c.ApplyDefaults()
		normalized[id] = &c
	}
	return &Provider{
		configs: normalized,
		pools:   make(map[string]*sqlx.DB),
		log:     log,
	}
}

// IsValid reports whether the connection id is configured.
func (p *Provider) IsValid(connectionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.configs[connectionID]
	return ok
}

// Acquire opens (or reuses) the pool for the connection id and returns a
// scope bound to it. The scope spans a whole scan; concurrent column queries
// borrow child connections from the pool.
func (p *Provider) Acquire(ctx context.Context, connectionID string) (scan.ScopedConnection, error) {
	p.mu.Lock()
	cfg, ok := p.configs[connectionID]
	if !ok {
		p.mu.Unlock()
		return nil, errs.Newf(errs.ErrorTypeInvalidRequest, "unknown connection id %q", connectionID)
	}
	db, open := p.pools[connectionID]
	p.mu.Unlock()

	if !open {
		opened, err := p.open(ctx, connectionID, cfg)
		if err != nil {
			return nil, err
		}
		db = opened
	}

	return &scopedConnection{
		db:      db,
		dialect: cfg.Dialect,
		release: func() {
			// The pool is shared; releasing the scope returns borrowed
			// connections via the driver, nothing to tear down here.
		},
	}, nil
}

func (p *Provider) open(ctx context.Context, connectionID string, cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, errs.NewDatabaseError("open connection "+connectionID, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.NewDatabaseError("ping connection "+connectionID, err)
	}

	p.mu.Lock()
	if existing, ok := p.pools[connectionID]; ok {
		// Another scan opened the pool concurrently; keep the first one.
		p.mu.Unlock()
		db.Close()
		return existing, nil
	}
	p.pools[connectionID] = db
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"connection": connectionID,
		"host":       cfg.Host,
		"database":   cfg.Database,
	}).Info("Opened target database pool")
	return db, nil
}

// Close closes every open pool.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, db := range p.pools {
		if err := db.Close(); err != nil {
			p.log.WithFields(logrus.Fields{"connection": id, "error": err}).Warn("Failed to close pool")
		}
		delete(p.pools, id)
	}
}

var _ scan.ConnectionProvider = (*Provider)(nil)
