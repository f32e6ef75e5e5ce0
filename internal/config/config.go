// Package config resolves which environment a run targets. Both
// environments' files are always read so that a production run can be
// refused when it would hit the development database, and vice versa.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	Development = "development"
	Production  = "production"
)

var (
	ErrMissingEnvironment = errors.New("missing environment configuration")
	ErrIdenticalTargets   = errors.New("development and production resolve to the same database")
)

// S3Config holds the optional report archive settings.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether enough is set to upload reports.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	Environment       string
	DatabaseURL       string
	ReportS3          S3Config
	ReportPassphrase  string
	DevelopmentTarget string
	ProductionTarget  string
}

func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// EnvFile returns the path of the env file for environment inside dir.
func EnvFile(dir, environment string) string {
	return filepath.Join(dir, ".env."+environment)
}

// Load reads .env.development and .env.production from dir and returns the
// configuration for the selected environment. The process environment is
// not modified.
func Load(dir string, production bool) (*Config, error) {
	dev, err := readEnv(dir, Development)
	if err != nil {
		return nil, err
	}
	prod, err := readEnv(dir, Production)
	if err != nil {
		return nil, err
	}

	devURL := strings.TrimSpace(dev["DATABASE_URL"])
	prodURL := strings.TrimSpace(prod["DATABASE_URL"])
	var missing []string
	if devURL == "" {
		missing = append(missing, EnvFile(dir, Development)+": DATABASE_URL")
	}
	if prodURL == "" {
		missing = append(missing, EnvFile(dir, Production)+": DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingEnvironment, strings.Join(missing, ", "))
	}

	devTarget, prodTarget := NormalizeTarget(devURL), NormalizeTarget(prodURL)
	if devTarget == prodTarget {
		return nil, fmt.Errorf("%w: %s", ErrIdenticalTargets, devTarget)
	}

	env, vars := Development, dev
	if production {
		env, vars = Production, prod
	}
	cfg := &Config{
		Environment: env,
		DatabaseURL: strings.TrimSpace(vars["DATABASE_URL"]),
		ReportS3: S3Config{
			Endpoint:  strings.TrimSpace(vars["REPORT_S3_ENDPOINT"]),
			Bucket:    strings.TrimSpace(vars["REPORT_S3_BUCKET"]),
			Region:    envOrDefault(vars, "REPORT_S3_REGION", "us-east-1"),
			AccessKey: strings.TrimSpace(vars["REPORT_S3_ACCESS_KEY"]),
			SecretKey: strings.TrimSpace(vars["REPORT_S3_SECRET_KEY"]),
		},
		ReportPassphrase:  vars["REPORT_PASSPHRASE"],
		DevelopmentTarget: devTarget,
		ProductionTarget:  prodTarget,
	}
	return cfg, nil
}

// DatabasePath returns the SQLite path for DatabaseURL.
func (c *Config) DatabasePath() string {
	if c.IsProduction() {
		return c.ProductionTarget
	}
	return c.DevelopmentTarget
}

// NormalizeTarget reduces a database URL to the file it opens, so that
// "file:./data/app.db?mode=rw" and "data/app.db" compare equal.
func NormalizeTarget(url string) string {
	t := strings.TrimSpace(url)
	t = strings.TrimPrefix(t, "sqlite://")
	t = strings.TrimPrefix(t, "file:")
	if i := strings.IndexByte(t, '?'); i >= 0 {
		t = t[:i]
	}
	if t == ":memory:" || t == "" {
		return t
	}
	if abs, err := filepath.Abs(t); err == nil {
		return abs
	}
	return filepath.Clean(t)
}

func readEnv(dir, environment string) (map[string]string, error) {
	path := EnvFile(dir, environment)
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrMissingEnvironment, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

func envOrDefault(vars map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(vars[key]); v != "" {
		return v
	}
	return fallback
}
