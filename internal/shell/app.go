// Package shell assembles the courier components into one running
// application and owns the readiness signals.
package shell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agentworkforce/courierlink/internal/api"
	"github.com/agentworkforce/courierlink/internal/config"
	"github.com/agentworkforce/courierlink/internal/debugapi"
	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/intentstore"
	"github.com/agentworkforce/courierlink/internal/kvstore"
	"github.com/agentworkforce/courierlink/internal/navigation"
	"github.com/agentworkforce/courierlink/internal/pushrecv"
	"github.com/agentworkforce/courierlink/internal/readiness"
	"github.com/agentworkforce/courierlink/internal/session"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	// Router defaults to an in-memory stack seeded with the landing screen.
	Router        navigation.Router
	KV            kvstore.Store
	Scheduler     navigation.Scheduler
	BaseTransport http.RoundTripper
	Refresher     session.Refresher
	Meter         metric.Meter
	Now           func() time.Time
}

type App struct {
	Config      config.Config
	Logger      logrus.FieldLogger
	KV          kvstore.Store
	Credentials *session.CredentialStore
	Transport   *session.Transport
	API         *api.Client
	Gate        *readiness.Gate
	Pending     *intentstore.Store
	Router      navigation.Router
	Dispatcher  *navigation.Dispatcher

	ownsKV bool
}

func New(cfg config.Config, logger logrus.FieldLogger, opts Options) (*App, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	app := &App{Config: cfg, Logger: logger, KV: opts.KV}
	if app.KV == nil {
		kv, err := kvstore.BuildFromDSN(cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		app.KV = kv
		app.ownsKV = true
	}

	var sealer session.Sealer
	if cfg.Credentials.Secret != "" {
		aes, err := session.NewAESSealer(cfg.Credentials.Secret)
		if err != nil {
			app.closeKV()
			return nil, err
		}
		sealer = aes
	}
	app.Credentials = session.NewCredentialStore(app.KV, sealer)

	refresher := opts.Refresher
	if refresher == nil {
		refresher = session.NewHTTPRefresher(cfg.API.BaseURL, cfg.API.Timeout)
	}
	app.Gate = readiness.NewGate()
	app.Transport = session.NewTransport(opts.BaseTransport, app.Credentials, refresher, logger)
	app.Transport.OnSessionExpired = func(context.Context) {
		logger.Warn("session expired; navigation gated until next login")
		app.Gate.SetAuthorized(false)
	}
	app.API = api.NewClient(cfg.API.BaseURL, &http.Client{Transport: app.Transport, Timeout: cfg.API.Timeout}, app.Credentials, logger)

	storeOpts := []intentstore.Option{intentstore.WithTTL(cfg.Navigation.PendingTTL), intentstore.WithLogger(logger)}
	if opts.Now != nil {
		storeOpts = append(storeOpts, intentstore.WithClock(opts.Now))
	}
	pending, err := intentstore.New(app.KV, storeOpts...)
	if err != nil {
		app.closeKV()
		return nil, err
	}
	app.Pending = pending

	app.Router = opts.Router
	if app.Router == nil {
		app.Router = navigation.NewStackRouter(logger, navigation.Route{ScreenPath: cfg.Navigation.LandingScreen})
	}
	dispatcher, err := navigation.NewDispatcher(navigation.Options{
		Gate:                  app.Gate,
		Store:                 app.Pending,
		Router:                app.Router,
		Scheduler:             opts.Scheduler,
		Logger:                logger,
		Meter:                 opts.Meter,
		Now:                   opts.Now,
		Debounce:              cfg.Navigation.Debounce,
		TargetScreen:          cfg.Navigation.TargetScreen,
		LandingScreen:         cfg.Navigation.LandingScreen,
		DevMode:               cfg.Debug.DevMode,
		LandOnUnroutableClick: cfg.Navigation.LandOnUnroutableClick,
	})
	if err != nil {
		app.closeKV()
		return nil, err
	}
	app.Dispatcher = dispatcher
	return app, nil
}

// Start seeds the authorization flag from stored credentials and hands the
// launch payload, if any, to the cold start entry point.
func (a *App) Start(ctx context.Context, launch intent.Payload) navigation.Result {
	authorized := a.Credentials.HasSession(ctx)
	if authorized {
		a.logTokenExpiry(ctx)
	}
	a.Gate.SetAuthorized(authorized)
	if len(launch) == 0 {
		return navigation.Result{Outcome: navigation.OutcomeDropped, Reason: "no_launch_payload"}
	}
	return a.Dispatcher.ColdStart(ctx, launch)
}

func (a *App) SetSurfaceReady(ready bool) {
	a.Gate.SetSurfaceReady(ready)
}

func (a *App) Login(ctx context.Context, email, password string) (*api.Profile, error) {
	profile, err := a.API.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.Gate.SetAuthorized(true)
	return profile, nil
}

func (a *App) Logout(ctx context.Context) error {
	err := a.API.Logout(ctx)
	a.Gate.SetAuthorized(false)
	return err
}

func (a *App) HasSession(ctx context.Context) bool {
	return a.Credentials.HasSession(ctx)
}

func (a *App) DebugHandler() http.Handler {
	var stack debugapi.StackReporter
	if reporter, ok := a.Router.(debugapi.StackReporter); ok {
		stack = reporter
	}
	return debugapi.NewServer(debugapi.Deps{
		Navigator: a.Dispatcher,
		Pending:   a.Pending,
		Gate:      a.Gate,
		Stack:     stack,
		Session:   a,
		Logger:    a.Logger,
	}, debugapi.Config{
		HMACSecret: a.Config.Debug.Secret,
		DevMode:    a.Config.Debug.DevMode,
		MaxSkew:    a.Config.Debug.MaxSkew,
	})
}

// Run serves the configured push receivers and debug API. It blocks until ctx
// ends or one of them fails.
func (a *App) Run(ctx context.Context) error {
	var listener net.Listener
	if addr := a.Config.Debug.Addr; addr != "" {
		var err error
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	limiter := pushrecv.NewLimiter(a.Config.Push.RateLimit, a.Config.Push.Burst)

	if url := a.Config.Push.WebsocketURL; url != "" {
		receiver := &pushrecv.StreamReceiver{
			URL:         url,
			Handler:     a.Dispatcher,
			Limiter:     limiter,
			Logger:      a.Logger,
			MaxBackoff:  a.Config.Push.MaxBackoff,
			BearerToken: a.accessToken,
		}
		group.Go(func() error { return receiver.Run(ctx) })
	}
	if dir := a.Config.Push.InboxDir; dir != "" {
		watcher := &pushrecv.InboxWatcher{Dir: dir, Handler: a.Dispatcher, Limiter: limiter, Logger: a.Logger}
		group.Go(func() error { return watcher.Run(ctx) })
	}
	if listener != nil {
		group.Go(func() error { return a.serveDebug(ctx, listener) })
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) serveDebug(ctx context.Context, listener net.Listener) error {
	server := &http.Server{Handler: a.DebugHandler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()
	a.Logger.WithField("addr", listener.Addr().String()).Info("debug api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	a.Dispatcher.Close()
	return a.closeKV()
}

func (a *App) closeKV() error {
	if !a.ownsKV || a.KV == nil {
		return nil
	}
	return a.KV.Close()
}

func (a *App) accessToken(ctx context.Context) (string, error) {
	tokens, err := a.Credentials.Get(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

func (a *App) logTokenExpiry(ctx context.Context) {
	tokens, err := a.Credentials.Get(ctx)
	if err != nil {
		return
	}
	expiry, err := session.AccessTokenExpiry(tokens.AccessToken)
	if err != nil {
		a.Logger.WithError(err).Debug("stored access token is not a readable jwt")
		return
	}
	a.Logger.WithField("expires_at", expiry.Format(time.RFC3339)).Debug("restored session")
}
