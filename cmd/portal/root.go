package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/infra/persistence/memory"
	"entityportal/internal/logger"
	"entityportal/internal/portal"
	"entityportal/internal/tracker"
	"entityportal/internal/transport"
	"entityportal/pkg/domain"
)

const (
	keyUser   = "user"
	keyRoles  = "roles"
	keyOutput = "output"
	keyTrace  = "trace"
)

const keyMetrics = "metrics"

// validOutputs lists the accepted --output values.
var validOutputs = []string{"text", "json"}

type rootOptions struct {
	v          *viper.Viper
	configFile string
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	opts := &rootOptions{v: v}

	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Entity portal host and tracker administration",
		Long: `Hosts the project tracker behind the remote data portal and
administers its roles and projects.

Every command dispatches through the portal. With --proxy=http the calls go
to the host at --endpoint; otherwise they run in process against the store
named by --storage-driver.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRolesCommand(opts))
	cmd.AddCommand(newProjectCommand(opts))

	return cmd
}

// addFlags defines the settings every command accepts. Their names are the
// viper keys.
func (o *rootOptions) addFlags(f *pflag.FlagSet) {
	f.StringVar(&o.configFile, "config", "", "config file (yaml, json or toml)")
	f.String(portal.KeyAuthMode, string(portal.AuthCustom), "authentication mode (custom|host)")
	f.String(portal.KeyProxy, string(portal.ProxyLocal), "portal proxy (local|http)")
	f.String(portal.KeyEndpoint, "", "remote portal URL, required with --proxy=http")
	f.String(portal.KeyStorageDriver, string(tracker.StorageMemory), "storage driver (memory|sqlite|postgres)")
	f.String(portal.KeyStorageDSN, "", "sqlite path or postgres connection string")
	f.String(portal.KeyLogLevel, "info", "log level (debug|info|warn|error)")
	f.String(portal.KeyLogFormat, "json", "log format (json|console)")
	f.String(keyUser, "", "name of the calling user")
	f.StringSlice(keyRoles, nil, "roles of the calling user")
	f.StringP(keyOutput, "o", "text", "output format (text|json)")
}

// load binds the parsed flags, reads the config file and validates the
// result.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if err := o.v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind flags")
	}
	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
		if err := o.v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", o.configFile)
		}
	}
	if out := o.v.GetString(keyOutput); !slices.Contains(validOutputs, out) {
		return fmt.Errorf("invalid output %q: must be one of %v", out, validOutputs)
	}
	return portal.NewViperConfig(o.v).Validate()
}

func (o *rootOptions) config() *portal.ViperConfig { return portal.NewViperConfig(o.v) }

func (o *rootOptions) principal() domain.Principal {
	user, roles := o.v.GetString(keyUser), o.v.GetStringSlice(keyRoles)
	if o.config().AuthenticationMode() == portal.AuthHost {
		return domain.HostPrincipal{Username: user, Groups: roles}
	}
	return domain.NewBusinessPrincipal(user, roles...)
}

// session is what one command run needs: the store the hooks write to and
// the tracker types registered against it.
type session struct {
	logger   *zap.SugaredLogger
	store    persistence.Store
	tracker  *tracker.Tracker
	registry *portal.Registry
	config   *portal.ViperConfig
}

// open builds a session. A client of a remote portal never touches the
// configured store and gets an empty memory store instead.
func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg := o.config()
	log := logger.NewWithWriter(cmd.ErrOrStderr(), o.v.GetString(portal.KeyLogLevel), o.v.GetString(portal.KeyLogFormat)).
		Named("portal")

	var store persistence.Store = memory.NewStore()
	if cfg.ProxyKind() == portal.ProxyLocal || cmd.Name() == "serve" {
		driver := tracker.StorageDriver(o.v.GetString(portal.KeyStorageDriver))
		s, err := tracker.OpenStore(ctx, driver, o.v.GetString(portal.KeyStorageDSN))
		if err != nil {
			return nil, err
		}
		store = s
	}

	tr, err := tracker.New(store, tracker.WithLogger(log.Named("tracker")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	reg := portal.NewRegistry()
	if err := tr.Register(reg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{logger: log, store: store, tracker: tr, registry: reg, config: cfg}, nil
}

func (s *session) Close() error {
	_ = s.logger.Sync()
	return s.store.Close()
}

func (s *session) router(opts ...portal.RouterOption) *portal.Router {
	base := []portal.RouterOption{
		portal.WithLogger(s.logger.Named("router")),
		portal.WithResources(portal.NewResources(s.store)),
	}
	return portal.NewRouter(s.registry, s.config, append(base, opts...)...)
}

func (s *session) client(p domain.Principal) *portal.Client {
	proxy := transport.NewHTTPProxy(s.registry, s.config, transport.WithProxyLogger(s.logger.Named("proxy")))
	return portal.NewClient(s.registry, s.config,
		portal.WithLocal(s.router()),
		portal.WithRemote(proxy),
		portal.WithIdentity(domain.NewIdentity(p)),
		portal.WithClientLogger(s.logger.Named("client")),
	)
}

// withClient runs fn with a portal client for the calling user.
func (o *rootOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *portal.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := o.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, s.client(o.principal()))
}
