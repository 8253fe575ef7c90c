package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/clipkeeper/internal/client/capture"
	"github.com/dmitrijs2005/clipkeeper/internal/client/client"
	"github.com/dmitrijs2005/clipkeeper/internal/client/clipboard"
	"github.com/dmitrijs2005/clipkeeper/internal/client/cloudsync"
	"github.com/dmitrijs2005/clipkeeper/internal/client/config"
	"github.com/dmitrijs2005/clipkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/filesync"
	"github.com/dmitrijs2005/clipkeeper/internal/client/fingerprint"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/clipkeeper/internal/client/retention"
	"github.com/dmitrijs2005/clipkeeper/internal/client/searchindex"
	"github.com/dmitrijs2005/clipkeeper/internal/client/services"
	"github.com/dmitrijs2005/clipkeeper/internal/client/synclock"
	"github.com/dmitrijs2005/clipkeeper/internal/client/syncqueue"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	dbFileName          = "clipkeeper.db"
	indexFileName       = "search_index.bin"
	credentialsFileName = "credentials.bin"
)

// AppOptions tune NewApp for callers other than main.
type AppOptions struct {
	// SettingsPath receives setting changes such as the cloud sync toggle.
	// Defaults to the config's settings path.
	SettingsPath string
	// Logger replaces the rotating file logger.
	Logger logging.Logger
	// API replaces the HTTP client, mainly in tests.
	API client.API
	// AuthAPI replaces the HTTP client for account operations.
	AuthAPI client.AuthAPI
	// Transport is handed to the HTTP client.
	Transport http.RoundTripper
	In        io.Reader
	Out       io.Writer
}

// App owns every long-lived component of the client.
type App struct {
	config       *config.Config
	settingsPath string
	settingsMu   sync.Mutex

	db        *sql.DB
	log       logging.Logger
	logCloser io.Closer
	bus       *events.Bus
	layout    filex.Layout
	deviceID  string

	index   *searchindex.Index
	tokens  *client.TokenManager
	gate    *services.SyncGate
	trigger *capture.Trigger
	queue   *syncqueue.Queue
	drainer *syncqueue.Drainer
	cloud   *cloudsync.Scheduler
	files   *filesync.Scheduler

	authService services.AuthService
	clipService services.ClipService

	reader *bufio.Reader
	out    io.Writer

	closeOnce sync.Once
}

// NewApp builds the client from cfg. The caller must Close the App.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (_ *App, err error) {
	a := &App{
		config:       cfg,
		settingsPath: opts.SettingsPath,
		layout:       cfg.Layout(),
		bus:          events.NewBus(),
		out:          opts.Out,
	}
	if a.settingsPath == "" {
		a.settingsPath = cfg.SettingsPath()
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	a.reader = bufio.NewReader(in)

	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err = a.layout.Ensure(); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}

	a.log = opts.Logger
	if a.log == nil {
		l, closer, err := logging.New(logging.Options{Dir: a.layout.LogsDir(), Level: cfg.LogLevel, JSON: cfg.LogJSON})
		if err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
		a.log, a.logCloser = l, closer
	}

	a.db, err = dbx.OpenSQLite(ctx, filepath.Join(a.layout.DataDir(), dbFileName))
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	rm := repomanager.NewSQLiteRepositoryManager()
	if err = rm.RunMigrations(ctx, a.db); err != nil {
		return nil, err
	}

	a.deviceID, err = metadata.DeviceID(ctx, rm.Metadata(a.db))
	if err != nil {
		return nil, fmt.Errorf("resolving device id: %w", err)
	}

	codec, err := cryptox.NewCodec()
	if err != nil {
		return nil, err
	}

	a.tokens, err = a.loadTokens(ctx)
	if err != nil {
		return nil, err
	}

	var httpClient *client.HTTPClient
	if opts.API == nil || opts.AuthAPI == nil {
		httpClient = client.New(client.Options{
			BaseURL:   cfg.ServerURL,
			Transport: opts.Transport,
			Tokens:    a.tokens,
			Logger:    a.log,
			OnAuthExpired: func(ctx context.Context) {
				if a.authService != nil {
					a.authService.Expired(ctx)
				}
			},
		})
	}
	api, authAPI := opts.API, opts.AuthAPI
	if api == nil {
		api = httpClient
	}
	if authAPI == nil {
		authAPI = httpClient
	}

	notifier := events.Multi{a.bus, events.Logging{Log: a.log}}
	a.gate = services.NewSyncGate(cfg.CloudSyncEnabled, a.tokens.LoggedIn, a.saveSyncSetting)

	a.index = searchindex.Open(searchindex.Options{
		Path:           filepath.Join(a.layout.DataDir(), indexFileName),
		MaxContentSize: cfg.IndexMaxContentSize,
		BloomTrustSize: cfg.IndexBloomTrustSize,
		PersistDelay:   cfg.IndexPersistDelay,
		Logger:         a.log,
	})
	src := services.IndexSource{DB: a.db, Repos: rm, Codec: codec, Logger: a.log}
	if _, err := a.index.RebuildIfNeeded(ctx, src); err != nil {
		a.log.Warn(ctx, "search index rebuild failed", "error", err)
	}

	pruner := retention.NewPruner(rm.Clips(a.db), a.index, a.layout, a.maxRecords, a.log)
	lock := synclock.New()
	a.queue = syncqueue.New(cfg.SyncQueueSize, a.log)

	a.trigger = capture.New(capture.Deps{
		DB:       a.db,
		Repos:    rm,
		Codec:    codec,
		Hasher:   fingerprint.New(a.log),
		Pruner:   pruner,
		Index:    a.index,
		Queue:    a.queue,
		Notifier: notifier,
		Logger:   a.log,
	}, capture.Options{
		Layout:        a.layout,
		DeviceID:      a.deviceID,
		FileSizeLimit: cfg.FileSizeLimit,
		SyncEnabled:   a.gate.Enabled,
	})

	a.drainer = syncqueue.NewDrainer(a.queue, lock, api, rm.Clips(a.db), notifier,
		syncqueue.DrainerOptions{Enabled: a.gate.Enabled}, a.log)

	a.cloud = cloudsync.New(cloudsync.Deps{
		DB:       a.db,
		Repos:    rm,
		API:      api,
		Lock:     lock,
		Codec:    codec,
		Index:    a.index,
		Pruner:   pruner,
		Notifier: notifier,
		Logger:   a.log,
	}, cloudsync.Options{
		Interval: cfg.SyncInterval,
		DeviceID: a.deviceID,
		Layout:   a.layout,
		Enabled:  a.gate.Enabled,
	})

	mode, err := filesync.ParseMode(cfg.FileSyncMode)
	if err != nil {
		return nil, err
	}
	a.files = filesync.New(rm.Clips(a.db), api, notifier, filesync.Options{
		Interval:    cfg.FileSyncInterval,
		Mode:        mode,
		Batch:       cfg.FileSyncBatch,
		Concurrency: cfg.UploadConcurrency,
		SizeLimit:   cfg.FileSizeLimit,
		Layout:      a.layout,
		Enabled:     a.gate.Enabled,
	}, a.log)

	a.authService = services.NewAuthService(authAPI, a.tokens, rm.Metadata(a.db), a.gate, notifier, a.log)
	a.clipService = services.NewClipService(services.ClipDeps{
		DB:       a.db,
		Repos:    rm,
		Codec:    codec,
		Index:    a.index,
		Queue:    a.queue,
		Gate:     a.gate,
		Notifier: notifier,
		Layout:   a.layout,
		Logger:   a.log,
	})
	return a, nil
}

// loadTokens restores stored credentials. A credentials file that no
// longer decrypts is discarded and the user has to log in again.
func (a *App) loadTokens(ctx context.Context) (*client.TokenManager, error) {
	store := credentials.NewFileStore(filepath.Join(a.layout.ConfigDir(), credentialsFileName), a.deviceID)
	tm, err := client.NewTokenManager(ctx, store)
	if err == nil {
		return tm, nil
	}
	a.log.Warn(ctx, "discarding unreadable credentials", "error", err)
	if err := store.Clear(ctx); err != nil {
		return nil, err
	}
	return client.NewTokenManager(ctx, store)
}

func (a *App) maxRecords() int {
	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()
	return a.config.MaxRecords
}

func (a *App) saveSyncSetting(ctx context.Context, enabled bool) error {
	a.settingsMu.Lock()
	defer a.settingsMu.Unlock()
	a.config.CloudSyncEnabled = enabled
	if err := a.config.Save(a.settingsPath); err != nil {
		return err
	}
	a.log.Info(ctx, "cloud sync setting changed", "enabled", enabled)
	return nil
}

// Run captures from src while the sync workers run, until src is exhausted
// or ctx is done.
func (a *App) Run(ctx context.Context, src clipboard.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the end of the input ends the session
		defer cancel()
		return a.trigger.Run(ctx, src)
	})
	g.Go(func() error { return a.drainer.Run(ctx) })
	g.Go(func() error { return a.cloud.Run(ctx) })
	g.Go(func() error { return a.files.Run(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close waits for detached capture work, persists the index and releases
// the database and log file. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.trigger != nil {
			a.trigger.Wait()
		}
		if a.index != nil {
			if err := a.index.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing search index: %w", err))
			}
		}
		if a.bus != nil {
			a.bus.Close()
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing database: %w", err))
			}
		}
		if a.logCloser != nil {
			if err := a.logCloser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
