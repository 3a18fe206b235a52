package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"app_env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// IPs o CIDRs de los proxies cuyo X-Forwarded-For se acepta
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
			// tabla con la columna id de los tenants existentes
			TenantTable string `yaml:"tenant_table"`
		} `yaml:"postgres"`
		// solo driver=memory: tenants conocidos
		Tenants []string `yaml:"tenants"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Security struct {
		// 64 hex chars (AES-256). Obligatoria.
		EncryptionKey string `yaml:"encryption_key"`
		// firma del state OAuth; vacío => derivada de encryption_key (HKDF)
		StateSecret string `yaml:"state_secret"`
	} `yaml:"security"`

	OAuth struct {
		Google struct {
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			RedirectURL  string   `yaml:"redirect_url"`
			Scopes       []string `yaml:"scopes"`
			// si está vacío el callback responde JSON
			SuccessRedirect string        `yaml:"success_redirect"`
			StateTTL        time.Duration `yaml:"state_ttl"`
			HTTPTimeout     time.Duration `yaml:"http_timeout"`
		} `yaml:"google"`
	} `yaml:"oauth"`

	Scan struct {
		Enabled       bool          `yaml:"enabled"`
		Interval      time.Duration `yaml:"interval"`
		Threshold     time.Duration `yaml:"threshold"`
		Workers       int           `yaml:"workers"`
		TenantTimeout time.Duration `yaml:"tenant_timeout"`
	} `yaml:"scan"`

	Rate struct {
		Enabled  bool `yaml:"enabled"`
		Initiate struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"initiate"`
		Callback struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"callback"`
	} `yaml:"rate"`

	Flags struct {
		Migrate bool `yaml:"migrate"`
	} `yaml:"flags"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`

	Notify struct {
		// log | email | none
		Kind       string   `yaml:"kind"`
		Recipients []string `yaml:"recipients"`
		QueueSize  int      `yaml:"queue_size"`
	} `yaml:"notify"`

	Admin struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"admin"`
}

// Load lee el YAML (si path no está vacío), aplica defaults y overrides de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

// sane defaults
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		if c.Storage.DSN != "" {
			c.Storage.Driver = "postgres"
		} else {
			c.Storage.Driver = "memory"
		}
	}
	if c.Storage.Postgres.TenantTable == "" {
		c.Storage.Postgres.TenantTable = "store"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "tubelink:"
	}
	if c.OAuth.Google.StateTTL == 0 {
		c.OAuth.Google.StateTTL = 5 * time.Minute
	}
	if c.OAuth.Google.HTTPTimeout == 0 {
		c.OAuth.Google.HTTPTimeout = 15 * time.Second
	}
	if c.Scan.Interval == 0 {
		c.Scan.Interval = 2 * time.Minute
	}
	if c.Scan.Threshold == 0 {
		c.Scan.Threshold = 5 * time.Minute
	}
	if c.Scan.Workers == 0 {
		c.Scan.Workers = 4
	}
	if c.Scan.TenantTimeout == 0 {
		c.Scan.TenantTimeout = 30 * time.Second
	}
	if c.Rate.Initiate.Limit == 0 {
		c.Rate.Initiate.Limit = 10
	}
	if c.Rate.Initiate.Window == "" {
		c.Rate.Initiate.Window = "1m"
	}
	if c.Rate.Callback.Limit == 0 {
		c.Rate.Callback.Limit = 30
	}
	if c.Rate.Callback.Window == "" {
		c.Rate.Callback.Window = "1m"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if c.Notify.Kind == "" {
		c.Notify.Kind = "log"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 64
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvDur("SERVER_SHUTDOWN_TIMEOUT"); ok {
		c.Server.ShutdownTimeout = v
	}
	if v, ok := getEnvCSV("TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}
	if v, ok := getEnvStr("STORAGE_TENANT_TABLE"); ok {
		c.Storage.Postgres.TenantTable = v
	}
	if v, ok := getEnvCSV("STORAGE_TENANTS"); ok {
		c.Storage.Tenants = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// SECURITY
	if v, ok := getEnvStr("ENCRYPTION_KEY"); ok {
		c.Security.EncryptionKey = strings.TrimSpace(v)
	}
	if v, ok := getEnvStr("STATE_SECRET"); ok {
		c.Security.StateSecret = v
	}

	// GOOGLE
	if v, ok := getEnvStr("GOOGLE_CLIENT_ID"); ok {
		c.OAuth.Google.ClientID = v
	}
	if v, ok := getEnvStr("GOOGLE_CLIENT_SECRET"); ok {
		c.OAuth.Google.ClientSecret = v
	}
	if v, ok := getEnvStr("GOOGLE_REDIRECT_URI"); ok {
		c.OAuth.Google.RedirectURL = v
	}
	if v, ok := getEnvCSV("GOOGLE_SCOPES"); ok {
		c.OAuth.Google.Scopes = v
	}
	if v, ok := getEnvStr("GOOGLE_SUCCESS_REDIRECT"); ok {
		c.OAuth.Google.SuccessRedirect = v
	}
	if v, ok := getEnvDur("GOOGLE_STATE_TTL"); ok {
		c.OAuth.Google.StateTTL = v
	}
	if v, ok := getEnvDur("GOOGLE_HTTP_TIMEOUT"); ok {
		c.OAuth.Google.HTTPTimeout = v
	}

	// SCAN
	if v, ok := getEnvBool("SCAN_ENABLED"); ok {
		c.Scan.Enabled = v
	}
	if v, ok := getEnvDur("SCAN_INTERVAL"); ok {
		c.Scan.Interval = v
	}
	if v, ok := getEnvDur("SCAN_THRESHOLD"); ok {
		c.Scan.Threshold = v
	}
	if v, ok := getEnvInt("SCAN_WORKERS"); ok {
		c.Scan.Workers = v
	}
	if v, ok := getEnvDur("SCAN_TENANT_TIMEOUT"); ok {
		c.Scan.TenantTimeout = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_INITIATE_LIMIT"); ok {
		c.Rate.Initiate.Limit = v
	}
	if v, ok := getEnvStr("RATE_INITIATE_WINDOW"); ok {
		c.Rate.Initiate.Window = v
	}
	if v, ok := getEnvInt("RATE_CALLBACK_LIMIT"); ok {
		c.Rate.Callback.Limit = v
	}
	if v, ok := getEnvStr("RATE_CALLBACK_WINDOW"); ok {
		c.Rate.Callback.Window = v
	}

	// FLAGS
	if v, ok := getEnvBool("FLAGS_MIGRATE"); ok {
		c.Flags.Migrate = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvBool("SMTP_INSECURE_SKIP_VERIFY"); ok {
		c.SMTP.InsecureSkipVerify = v
	}

	// NOTIFY
	if v, ok := getEnvStr("NOTIFY_KIND"); ok {
		c.Notify.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvCSV("NOTIFY_RECIPIENTS"); ok {
		c.Notify.Recipients = v
	}

	// ADMIN
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		c.Admin.APIKey = v
	}
}

// GoogleConfigured indica si hay client id, secret y redirect.
func (c *Config) GoogleConfigured() bool {
	g := c.OAuth.Google
	return g.ClientID != "" && g.ClientSecret != "" && g.RedirectURL != ""
}

// Validate chequea la configuración crítica. La clave de cifrado es obligatoria;
// Google sin configurar no es fatal (el flujo responde config_error).
func (c *Config) Validate() error {
	var errs []error

	k, err := hex.DecodeString(c.Security.EncryptionKey)
	switch {
	case c.Security.EncryptionKey == "":
		errs = append(errs, errors.New("security.encryption_key is required"))
	case err != nil || len(k) != 32:
		errs = append(errs, errors.New("security.encryption_key must be 64 hex chars"))
	}
	if s := c.Security.StateSecret; s != "" && len(s) < 32 {
		errs = append(errs, errors.New("security.state_secret must be at least 32 bytes"))
	}

	for _, p := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p))
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q not supported", c.Storage.Driver))
	}

	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind %q not supported", c.Cache.Kind))
	}

	if c.Rate.Enabled {
		for name, w := range map[string]string{"initiate": c.Rate.Initiate.Window, "callback": c.Rate.Callback.Window} {
			if _, err := time.ParseDuration(w); err != nil {
				errs = append(errs, fmt.Errorf("rate.%s.window: %w", name, err))
			}
		}
	}

	switch c.Notify.Kind {
	case "log", "none":
	case "email":
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			errs = append(errs, errors.New("notify.kind=email requires smtp.host and smtp.from"))
		}
		if len(c.Notify.Recipients) == 0 {
			errs = append(errs, errors.New("notify.kind=email requires notify.recipients"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.kind %q not supported", c.Notify.Kind))
	}

	if c.Scan.Workers < 1 {
		errs = append(errs, errors.New("scan.workers must be >= 1"))
	}
	return errors.Join(errs...)
}

// RateWindow parsea una ventana de rate limit; 1m si es inválida.
func RateWindow(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// ConnMaxLifetime parsea storage.postgres.conn_max_lifetime (0 si vacío o inválido).
func (c *Config) ConnMaxLifetime() time.Duration {
	d, _ := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime)
	return d
}
