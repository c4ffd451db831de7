package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/timeouts"
)

const (
	defaultPort     = 5432
	defaultSSLMode  = "require"
	defaultMaxConns = 10
)

// Config describes one tenant database.
type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	TenantID string
	// SSLMode defaults to "require".
	SSLMode string
	// MaxConns defaults to 10.
	MaxConns int32
	// IdleTimeout defaults to timeouts.DBIdle.
	IdleTimeout time.Duration
	// ConnectTimeout defaults to timeouts.DBConnect.
	ConnectTimeout time.Duration
}

// Validate reports missing connection settings.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "database name")
	}
	if strings.TrimSpace(c.User) == "" {
		missing = append(missing, "user")
	}
	if len(missing) > 0 {
		return fmt.Errorf("postgres config missing %s", strings.Join(missing, ", "))
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("postgres port %d out of range", c.Port)
	}
	return nil
}

// DSN renders the connection URL.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := strings.TrimSpace(c.SSLMode)
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// PoolConfig builds the pgxpool configuration for a tenant.
func PoolConfig(c Config) (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	cfg.MaxConns = c.MaxConns
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	cfg.MaxConnIdleTime = c.IdleTimeout
	if cfg.MaxConnIdleTime <= 0 {
		cfg.MaxConnIdleTime = timeouts.DBIdle
	}
	cfg.ConnConfig.ConnectTimeout = c.ConnectTimeout
	if cfg.ConnConfig.ConnectTimeout <= 0 {
		cfg.ConnConfig.ConnectTimeout = timeouts.DBConnect
	}

	tenantID := strings.TrimSpace(c.TenantID)
	if tenantID != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, "SELECT set_config('nile.tenant_id', $1, false)", tenantID); err != nil {
				return fmt.Errorf("set tenant context: %w", err)
			}
			return nil
		}
	}
	return cfg, nil
}
