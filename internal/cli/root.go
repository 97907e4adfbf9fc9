// Package cli implements r2pctl, the back-office tool for the marketplace
// database: schema migrations, category seeding and catalog moderation.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ready2publish/pkg/queue"
	"ready2publish/pkg/store"
)

// StoreOpener opens the record store named by a database URL.
type StoreOpener func(ctx context.Context, databaseURL string) (store.Store, error)

type options struct {
	open StoreOpener
}

// Option customizes the root command.
type Option func(*options)

// WithStoreOpener replaces the Postgres store, e.g. with an in-memory one.
func WithStoreOpener(open StoreOpener) Option {
	return func(o *options) { o.open = open }
}

func openGormStore(_ context.Context, databaseURL string) (store.Store, error) {
	return store.NewGormStore(databaseURL, false)
}

// env carries the store opened for one command run.
type env struct {
	cfg   *viper.Viper
	open  StoreOpener
	store store.Store
	rdb   *redis.Client
	out   io.Writer
}

// NewRootCmd builds the r2pctl command tree. Settings come from flags, then
// R2P_* environment variables (a .env file is loaded first), then the file
// named by --config.
func NewRootCmd(opts ...Option) *cobra.Command {
	o := options{open: openGormStore}
	for _, opt := range opts {
		opt(&o)
	}
	e := &env{cfg: viper.New(), open: o.open}

	var (
		configPath string
		noColor    bool
	)
	cmd := &cobra.Command{
		Use:   "r2pctl",
		Short: "Back-office tool for the ready2publish marketplace",
		Long: `r2pctl manages the marketplace database.

It applies schema migrations, seeds categories, lists the catalog with the
same filters as the shop and moderates submitted books. It also shows orders,
contact messages and the domain events kept in Redis.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			if noColor {
				color.NoColor = true
			}
			e.out = cmd.OutOrStdout()
			return e.loadConfig(configPath)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return e.close()
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml)")
	cmd.PersistentFlags().String("database-url", "", "Postgres connection string (env R2P_DATABASE_URL)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().String("redis-addr", "", "Redis address for events (env R2P_REDIS_ADDR)")
	cmd.PersistentFlags().String("redis-password", "", "Redis password (env R2P_REDIS_PASSWORD)")
	_ = e.cfg.BindPFlag("database_url", cmd.PersistentFlags().Lookup("database-url"))
	_ = e.cfg.BindPFlag("redis_addr", cmd.PersistentFlags().Lookup("redis-addr"))
	_ = e.cfg.BindPFlag("redis_password", cmd.PersistentFlags().Lookup("redis-password"))

	cmd.AddCommand(
		newMigrateCmd(e),
		newCategoriesCmd(e),
		newCatalogCmd(e),
		newOrdersCmd(e),
		newContactCmd(e),
		newEventsCmd(e),
	)
	return cmd
}

func (e *env) loadConfig(path string) error {
	e.cfg.SetEnvPrefix("R2P")
	e.cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	e.cfg.AutomaticEnv()
	// DATABASE_URL is what the services read; accept it too.
	_ = e.cfg.BindEnv("database_url", "R2P_DATABASE_URL", "DATABASE_URL")
	_ = e.cfg.BindEnv("redis_addr", "R2P_REDIS_ADDR", "REDIS_ADDR")
	_ = e.cfg.BindEnv("redis_password", "R2P_REDIS_PASSWORD", "REDIS_PASSWORD")
	if path != "" {
		e.cfg.SetConfigFile(path)
		if err := e.cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// db opens the store on first use.
func (e *env) db(ctx context.Context) (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	url := strings.TrimSpace(e.cfg.GetString("database_url"))
	if url == "" {
		return nil, errors.New("no database configured: set --database-url or R2P_DATABASE_URL")
	}
	s, err := e.open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	e.store = s
	return s, nil
}

// events connects to Redis on first use and reads the services' event streams.
func (e *env) events(ctx context.Context) (*queue.RedisStreamPublisher, error) {
	if e.rdb == nil {
		addr := strings.TrimSpace(e.cfg.GetString("redis_addr"))
		if addr == "" {
			return nil, errors.New("no redis configured: set --redis-addr or R2P_REDIS_ADDR")
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: e.cfg.GetString("redis_password")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connecting redis: %w", err)
		}
		e.rdb = rdb
	}
	return queue.NewRedisStreamPublisher(e.rdb, queue.DefaultStreamPrefix, 0)
}

func (e *env) close() error {
	var errs []error
	if e.rdb != nil {
		errs = append(errs, e.rdb.Close())
		e.rdb = nil
	}
	if e.store != nil {
		s := e.store
		e.store = nil
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// ok prints a green success line.
func (e *env) ok(format string, a ...any) {
	fmt.Fprintln(e.out, color.GreenString("✓"), fmt.Sprintf(format, a...))
}

// header prints a cyan section heading.
func (e *env) header(format string, a ...any) {
	fmt.Fprintln(e.out, color.CyanString(fmt.Sprintf(format, a...)))
}
