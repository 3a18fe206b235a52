// Package app arma el grafo de dependencias del servicio a partir de la config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/tubelink/internal/cache"
	"github.com/dropDatabas3/tubelink/internal/config"
	"github.com/dropDatabas3/tubelink/internal/credentials"
	"github.com/dropDatabas3/tubelink/internal/domain/repository"
	googlectrl "github.com/dropDatabas3/tubelink/internal/http/controllers/google"
	healthctrl "github.com/dropDatabas3/tubelink/internal/http/controllers/health"
	"github.com/dropDatabas3/tubelink/internal/http/helpers"
	"github.com/dropDatabas3/tubelink/internal/http/router"
	"github.com/dropDatabas3/tubelink/internal/metrics"
	"github.com/dropDatabas3/tubelink/internal/notify"
	"github.com/dropDatabas3/tubelink/internal/oauth/google"
	"github.com/dropDatabas3/tubelink/internal/oauth/state"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
	"github.com/dropDatabas3/tubelink/internal/rate"
	"github.com/dropDatabas3/tubelink/internal/security/tokencipher"
	"github.com/dropDatabas3/tubelink/internal/store/memory"
	"github.com/dropDatabas3/tubelink/internal/store/pg"
	migrations "github.com/dropDatabas3/tubelink/migrations/postgres"
)

// Container contiene los componentes armados.
type Container struct {
	Handler  http.Handler
	Manager  *credentials.Manager
	Scanner  *credentials.Scanner
	Cache    cache.Client
	Metrics  *metrics.Metrics
	PG       *pg.Store // nil con driver memory
	notifier *notify.Queue
}

// Options permite inyectar dependencias (tests, herramientas).
type Options struct {
	// Registerer de Prometheus; nil => DefaultRegisterer.
	Registerer prometheus.Registerer
	// HTTPClient para Google; nil => default del coordinator.
	HTTPClient *http.Client
	// GoogleEndpoints sobrescribe las URLs de Google (tests contra httptest).
	GoogleEndpoints *google.Config
}

// Build arma todo. Una clave de cifrado inválida es error fatal.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	log := logger.L().With(logger.Component("app"))

	cipher, err := tokencipher.New(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	c := &Container{Metrics: m}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	// cache: replay guard del state y lease del scanner
	c.Cache, err = cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}

	store, tenants, err := c.buildStore(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}

	stateKey := []byte(cfg.Security.StateSecret)
	if len(stateKey) == 0 {
		if stateKey, err = state.DeriveKey(cfg.Security.EncryptionKey); err != nil {
			return nil, err
		}
	}
	codec, err := state.New(stateKey, cfg.OAuth.Google.StateTTL, c.Cache)
	if err != nil {
		return nil, err
	}
	gcfg := google.Config{
		ClientID:     cfg.OAuth.Google.ClientID,
		ClientSecret: cfg.OAuth.Google.ClientSecret,
		RedirectURL:  cfg.OAuth.Google.RedirectURL,
		Scopes:       cfg.OAuth.Google.Scopes,
		HTTPTimeout:  cfg.OAuth.Google.HTTPTimeout,
	}
	if e := opts.GoogleEndpoints; e != nil {
		gcfg.AuthURL, gcfg.TokenURL = e.AuthURL, e.TokenURL
		gcfg.UserInfoURL, gcfg.ChannelsURL = e.UserInfoURL, e.ChannelsURL
	}
	coord := google.New(gcfg, codec)
	if opts.HTTPClient != nil {
		coord = coord.WithHTTPClient(opts.HTTPClient)
	}
	if !coord.Configured() {
		log.Warn("google oauth not configured; link flow will answer config_error")
	}

	c.notifier = notify.NewQueue(buildNotifier(cfg), cfg.Notify.QueueSize)

	c.Manager = credentials.New(credentials.Deps{
		Store:    store,
		Tenants:  tenants,
		OAuth:    coord,
		Cipher:   cipher,
		Notifier: c.notifier,
		Metrics:  m,
	}, credentials.Options{
		RefreshThreshold: cfg.Scan.Threshold,
		Workers:          cfg.Scan.Workers,
		TenantTimeout:    cfg.Scan.TenantTimeout,
	})
	c.Scanner = credentials.NewScanner(c.Manager, credentials.ScannerOptions{
		Interval:  cfg.Scan.Interval,
		Threshold: cfg.Scan.Threshold,
		Lock:      c.Cache,
	})

	var limiter rate.MultiLimiter
	if cfg.Rate.Enabled {
		var raw *rdb.Client
		if rc, isRedis := c.Cache.(interface{ Raw() *rdb.Client }); isRedis {
			raw = rc.Raw()
		}
		limiter = rate.NewMulti(raw, cfg.Cache.Redis.Prefix+"rl:")
	}

	trusted, err := helpers.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	checks := map[string]healthctrl.Check{"cache": c.Cache.Ping}
	if c.PG != nil {
		checks["postgres"] = c.PG.Ping
	}

	ctrls := googlectrl.NewControllers(c.Manager, cfg.OAuth.Google.SuccessRedirect)
	if cfg.Scan.Enabled {
		ctrls.WithScanTrigger(c.Scanner.Trigger)
	}

	c.Handler = router.New(router.Deps{
		Google:         ctrls,
		Health:         healthctrl.NewHealthController(checks),
		Metrics:        m,
		RateLimiter:    limiter,
		InitiateRate:   rate.Rule{Max: cfg.Rate.Initiate.Limit, Window: config.RateWindow(cfg.Rate.Initiate.Window)},
		CallbackRate:   rate.Rule{Max: cfg.Rate.Callback.Limit, Window: config.RateWindow(cfg.Rate.Callback.Window)},
		AdminAPIKey:    cfg.Admin.APIKey,
		TrustedProxies: trusted,
	})
	if cfg.Admin.APIKey == "" {
		log.Warn("admin api key not set; admin routes are disabled")
	}

	ok = true
	return c, nil
}

func (c *Container) buildStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (repository.CredentialRepository, repository.TenantRegistry, error) {
	log := logger.L().With(logger.Component("app"))

	switch cfg.Storage.Driver {
	case "postgres":
		s, err := pg.New(ctx, cfg.Storage.DSN, pg.Options{
			MaxConns:        cfg.Storage.Postgres.MaxOpenConns,
			MinConns:        cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
			TenantTable:     cfg.Storage.Postgres.TenantTable,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		c.PG = s
		if cfg.Flags.Migrate {
			n, err := pg.Migrate(ctx, s.Pool(), migrations.FS, migrations.Dir)
			if err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", logger.Count(n))
		}
		if err := metrics.RegisterPool(reg, s.Pool); err != nil {
			log.Warn("pool metrics not registered", logger.Err(err))
		}
		return s, s, nil
	case "memory":
		log.Warn("using in-memory credential store; data is lost on restart")
		return memory.New(), memory.NewTenants(cfg.Storage.Tenants...), nil
	default:
		return nil, nil, errors.New("unsupported storage driver " + cfg.Storage.Driver)
	}
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	switch cfg.Notify.Kind {
	case "email":
		sender := notify.NewSMTPSender(notify.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			FromEmail:          cfg.SMTP.From,
			TLSMode:            cfg.SMTP.TLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})
		return notify.NewEmail(sender, cfg.Notify.Recipients)
	case "none":
		return notify.Noop{}
	default:
		return notify.Log{}
	}
}

// Close libera recursos en orden: notificaciones pendientes, DB, cache.
func (c *Container) Close() {
	if c.notifier != nil {
		c.notifier.Close()
	}
	if c.PG != nil {
		c.PG.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}
