package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/taskgate/bus"
	"github.com/vinayprograms/taskgate/config"
	"github.com/vinayprograms/taskgate/credentials"
	"github.com/vinayprograms/taskgate/gateway"
	"github.com/vinayprograms/taskgate/logging"
	"github.com/vinayprograms/taskgate/ratelimit"
	"github.com/vinayprograms/taskgate/session"
	"github.com/vinayprograms/taskgate/shutdown"
	"github.com/vinayprograms/taskgate/tasks"
	"github.com/vinayprograms/taskgate/telemetry"
)

// app is one wired client core for the duration of a command.
type app struct {
	opts      *rootOptions
	cfg       *config.Config
	logger    *logging.Logger
	coord     *shutdown.Coordinator
	bus       bus.MessageBus
	publisher *bus.Publisher
	client    *gateway.Client
	sessions  *session.Manager
	store     *tasks.Store
	out       io.Writer
}

// withApp builds the client core, runs fn and tears the core down.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)
	a.teardown()
	return runErr
}

// teardown runs the registered shutdown handlers. Failures are logged, not
// returned, so they never mask the command's own result.
func (a *app) teardown() {
	if err := a.coord.ShutdownWithTimeout(0); err != nil {
		a.logger.Warn("shutdown_incomplete", map[string]interface{}{"error": err.Error()})
	}
}

func newApp(ctx context.Context, opts *rootOptions, out, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New()
	logger.SetOutput(errOut)
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger = logger.WithComponent("taskctl")

	a := &app{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		coord:  shutdown.New(shutdown.WithLogger(logger)),
		out:    out,
	}
	if err := a.wire(ctx); err != nil {
		a.teardown()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			APIBaseURL:     cfg.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		a.coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
	}

	if cfg.Events.NATSURL != "" {
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = cfg.Events.NATSURL
		nb, err := bus.NewNATSBus(natsCfg)
		if err != nil {
			return err
		}
		a.bus = nb
	} else {
		a.bus = bus.NewMemoryBus(bus.DefaultConfig())
	}
	a.coord.Register("bus", shutdown.PhaseTransport, shutdown.Closer(a.bus))
	a.publisher = bus.NewPublisher(a.bus, cfg.Events.SubjectPrefix)

	gwOpts := []gateway.Option{
		gateway.WithTimeout(cfg.Timeout.Duration),
		gateway.WithLogger(a.logger),
	}
	if cfg.RateLimit.Enabled() {
		limiter := ratelimit.NewMemoryLimiter()
		limiter.SetCapacity(gateway.RateLimitResource, cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration)
		gwOpts = append(gwOpts, gateway.WithRateLimiter(limiter))
		a.coord.Register("ratelimit", shutdown.PhaseTransport, shutdown.Closer(limiter))
	}

	client, err := gateway.New(cfg.BaseURL, gwOpts...)
	if err != nil {
		return err
	}
	a.client = client
	a.coord.Register("gateway", shutdown.PhaseTransport, shutdown.Closer(client))

	a.sessions = session.NewManager(client,
		session.WithLogger(a.logger),
		session.WithPublisher(a.publisher),
	)
	a.coord.RegisterFunc("session", shutdown.PhaseStores, func(context.Context) error {
		a.sessions.Close()
		return nil
	})

	store, err := tasks.NewStore(tasks.NewHTTPBackend(client),
		tasks.WithLogger(a.logger),
		tasks.WithPublisher(a.publisher),
		tasks.WithPageSize(cfg.Store.PageSize),
	)
	if err != nil {
		return err
	}
	a.store = store
	a.coord.Register("tasks", shutdown.PhaseStores, shutdown.Closer(store))
	return nil
}

// account returns the login from --account, or from the standard
// locations and the environment.
func (a *app) account() (*credentials.Account, error) {
	if a.opts.accountPath != "" {
		return credentials.LoadFile(a.opts.accountPath)
	}
	acct, _, err := credentials.Load()
	return acct, err
}

// signIn logs in with the configured account.
func (a *app) signIn(ctx context.Context) error {
	acct, err := a.account()
	if err != nil {
		return err
	}
	if err := a.sessions.Login(ctx, session.LoginInput{Email: acct.Email, Password: acct.Password}); err != nil {
		return fmt.Errorf("sign in as %s: %w", acct.Email, err)
	}
	return nil
}
