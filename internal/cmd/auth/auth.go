// Package auth parses auth command configuration and launches the auth runtime.
package auth

import (
	"context"
	"flag"
	"fmt"
	"strings"

	entrypoint "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/cmd"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/config"
	server "github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/app"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/mail"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/service"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/postgres"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/tenant"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/token"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// TenantDB holds one tenant's postgres settings.
type TenantDB struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	Name     string `env:"DB_NAME"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"require"`
	TenantID string `env:"TENANT_ID"`
}

func (t TenantDB) postgres() postgres.Config {
	return postgres.Config{
		Host:     t.Host,
		Port:     t.Port,
		Name:     t.Name,
		User:     t.User,
		Password: t.Password,
		SSLMode:  t.SSLMode,
		TenantID: t.TenantID,
	}
}

// Config holds auth command configuration.
type Config struct {
	Port     int    `env:"PORT" envDefault:"3001"`
	GRPCPort int    `env:"GRPC_PORT" envDefault:"3002"`
	NodeEnv  string `env:"NODE_ENV"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`

	JWTSecret           string          `env:"JWT_SECRET"`
	JWTExpiresIn        config.Duration `env:"JWT_EXPIRES_IN" envDefault:"7d"`
	JWTRefreshExpiresIn config.Duration `env:"JWT_REFRESH_EXPIRES_IN" envDefault:"30d"`

	BcryptRounds         int             `env:"BCRYPT_ROUNDS" envDefault:"12"`
	MaxLoginAttempts     int             `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LockoutTime          config.Duration `env:"LOCKOUT_TIME" envDefault:"15m"`
	PasswordResetExpires config.Duration `env:"PASSWORD_RESET_EXPIRES" envDefault:"1h"`

	SMTPHost           string  `env:"SMTP_HOST"`
	SMTPPort           int     `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser           string  `env:"SMTP_USER"`
	SMTPPass           string  `env:"SMTP_PASS"`
	FromName           string  `env:"FROM_NAME" envDefault:"Talk-to-My-Lawyer"`
	FromEmail          string  `env:"FROM_EMAIL"`
	SupportEmail       string  `env:"SUPPORT_EMAIL"`
	ClientURL          string  `env:"CLIENT_URL" envDefault:"http://localhost:5173"`
	ReferralCommission float64 `env:"REFERRAL_COMMISSION" envDefault:"0"`

	DBDriver string   `env:"DB_DRIVER" envDefault:"sqlite"`
	DataDir  string   `env:"DATA_DIR" envDefault:"data"`
	AdminDB  TenantDB `envPrefix:"ADMIN_"`
	UserDB   TenantDB `envPrefix:"USER_"`
	// EmployeeDB serves the remote_employee tenant.
	EmployeeDB TenantDB `envPrefix:"EMPLOYEE_"`

	RedisURL string `env:"REDIS_URL"`
}

// Environment resolves NODE_ENV with APP_ENV as fallback.
func (c Config) Environment() string {
	if env := strings.TrimSpace(c.NodeEnv); env != "" {
		return env
	}
	return strings.TrimSpace(c.AppEnv)
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "The auth HTTP server port")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The auth gRPC health port (0 disables)")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Tenant storage driver: sqlite or postgres")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for sqlite tenant files")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RuntimeConfig maps command configuration onto the server runtime.
func (c Config) RuntimeConfig() server.RuntimeConfig {
	grpcAddr := ""
	if c.GRPCPort > 0 {
		grpcAddr = fmt.Sprintf(":%d", c.GRPCPort)
	}
	return server.RuntimeConfig{
		HTTPAddr:    fmt.Sprintf(":%d", c.Port),
		GRPCAddr:    grpcAddr,
		Environment: c.Environment(),
		Tenants: tenant.Config{
			Driver:  c.DBDriver,
			DataDir: c.DataDir,
			Postgres: map[user.Role]postgres.Config{
				user.RoleAdmin:          c.AdminDB.postgres(),
				user.RoleUser:           c.UserDB.postgres(),
				user.RoleRemoteEmployee: c.EmployeeDB.postgres(),
			},
		},
		Tokens: token.Config{
			Secret:     c.JWTSecret,
			AccessTTL:  c.JWTExpiresIn.Std(),
			RefreshTTL: c.JWTRefreshExpiresIn.Std(),
		},
		Service: service.Config{
			BcryptCost:         c.BcryptRounds,
			MaxLoginAttempts:   c.MaxLoginAttempts,
			LockoutDuration:    c.LockoutTime.Std(),
			ResetExpiry:        c.PasswordResetExpires.Std(),
			ReferralCommission: c.ReferralCommission,
		},
		Mail: mail.Config{
			ClientURL:    c.ClientURL,
			SupportEmail: c.SupportEmail,
			ResetExpiry:  c.PasswordResetExpires.Std(),
		},
		SMTP: mail.SMTPConfig{
			Host:      c.SMTPHost,
			Port:      c.SMTPPort,
			Username:  c.SMTPUser,
			Password:  c.SMTPPass,
			FromName:  c.FromName,
			FromEmail: c.FromEmail,
		},
		RedisURL: c.RedisURL,
	}
}

// Run starts the auth runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuth, func(ctx context.Context) error {
		return server.Run(ctx, cfg.RuntimeConfig())
	})
}
