package auth

import (
	"flag"
	"testing"
	"time"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/tenant"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 3001 {
		t.Fatalf("port = %d, want 3001", cfg.Port)
	}
	if cfg.GRPCPort != 3002 {
		t.Fatalf("grpc port = %d, want 3002", cfg.GRPCPort)
	}
	if cfg.JWTExpiresIn.Std() != 7*24*time.Hour {
		t.Fatalf("jwt expiry = %s", cfg.JWTExpiresIn.Std())
	}
	if cfg.JWTRefreshExpiresIn.Std() != 30*24*time.Hour {
		t.Fatalf("refresh expiry = %s", cfg.JWTRefreshExpiresIn.Std())
	}
	if cfg.LockoutTime.Std() != 15*time.Minute {
		t.Fatalf("lockout = %s", cfg.LockoutTime.Std())
	}
	if cfg.BcryptRounds != 12 || cfg.MaxLoginAttempts != 5 {
		t.Fatalf("bcrypt=%d attempts=%d", cfg.BcryptRounds, cfg.MaxLoginAttempts)
	}
	if cfg.DBDriver != tenant.DriverSQLite {
		t.Fatalf("driver = %q", cfg.DBDriver)
	}
	if cfg.AdminDB.Port != 5432 || cfg.AdminDB.SSLMode != "require" {
		t.Fatalf("admin db = %+v", cfg.AdminDB)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "4000")
	t.Setenv("LOCKOUT_TIME", "900000")
	t.Setenv("PASSWORD_RESET_EXPIRES", "3600000")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("EMPLOYEE_DB_HOST", "employees.db.example.com")
	t.Setenv("EMPLOYEE_DB_PORT", "6543")
	t.Setenv("EMPLOYEE_TENANT_ID", "tenant-emp")
	t.Setenv("REFERRAL_COMMISSION", "12.5")

	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-grpc-port", "0", "-db-driver", "postgres"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 4000 {
		t.Fatalf("port = %d", cfg.Port)
	}
	if cfg.LockoutTime.Std() != 15*time.Minute || cfg.PasswordResetExpires.Std() != time.Hour {
		t.Fatalf("lockout=%s reset=%s", cfg.LockoutTime.Std(), cfg.PasswordResetExpires.Std())
	}
	if cfg.Environment() != "production" {
		t.Fatalf("environment = %q", cfg.Environment())
	}

	rt := cfg.RuntimeConfig()
	if rt.HTTPAddr != ":4000" || rt.GRPCAddr != "" {
		t.Fatalf("addrs = %q %q", rt.HTTPAddr, rt.GRPCAddr)
	}
	if rt.Tenants.Driver != tenant.DriverPostgres {
		t.Fatalf("driver = %q", rt.Tenants.Driver)
	}
	emp := rt.Tenants.Postgres[user.RoleRemoteEmployee]
	if emp.Host != "employees.db.example.com" || emp.Port != 6543 || emp.TenantID != "tenant-emp" {
		t.Fatalf("employee tenant = %+v", emp)
	}
	if rt.Service.ReferralCommission != 12.5 || rt.Service.LockoutDuration != 15*time.Minute {
		t.Fatalf("service config = %+v", rt.Service)
	}
}

func TestParseConfigRejectsBadDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_EXPIRES_IN", "soon")
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestEnvironmentFallsBackToAppEnv(t *testing.T) {
	cfg := Config{AppEnv: "staging"}
	if cfg.Environment() != "staging" {
		t.Fatalf("environment = %q", cfg.Environment())
	}
}
