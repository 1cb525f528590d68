package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/agentworkforce/liftrelay/internal/config"
	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/agentworkforce/liftrelay/internal/httpapi"
	"github.com/agentworkforce/liftrelay/internal/schema"
	"github.com/agentworkforce/liftrelay/internal/workout"
)

// runtime is everything a command needs once settings are loaded.
type runtime struct {
	settings config.Settings
	store    docstore.Store
	service  *workout.Service
	logger   *log.Logger
}

func (r *runtime) Close() error {
	if closer, ok := r.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func newLogger(opts *RootOptions, w io.Writer) *log.Logger {
	if !opts.Verbose {
		w = io.Discard
	}
	return log.New(w, "liftrelay: ", log.LstdFlags)
}

// openStore builds the document store the settings point at. Remote stores
// authenticate with a static token or, when configured, a GitHub App.
func openStore(settings config.Settings, logger docstore.Logger) (docstore.Store, error) {
	dsn := settings.StoreDSN()
	if dsn == "" {
		return nil, fmt.Errorf("%w: no document store configured", config.ErrIncomplete)
	}
	httpOpts := docstore.HTTPStoreOptions{
		Branch:         settings.Store.Branch,
		CommitterName:  settings.Store.CommitterName,
		CommitterEmail: settings.Store.CommitterEmail,
		UserAgent:      "liftrelay",
		MaxRetries:     settings.Store.MaxRetries,
		Logger:         logger,
	}
	switch {
	case settings.UsesGitHubApp():
		key, err := os.ReadFile(settings.Store.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read github app private key: %w", err)
		}
		source, err := docstore.NewGitHubAppTokenSource(docstore.GitHubAppOptions{
			AppID:          settings.Store.AppID,
			InstallationID: settings.Store.InstallationID,
			PrivateKeyPEM:  key,
			APIBaseURL:     settings.Store.APIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		httpOpts.TokenSource = source.Token
	case settings.Store.Token != "":
		httpOpts.TokenSource = docstore.StaticToken(settings.Store.Token)
	}
	return docstore.Open(dsn, docstore.OpenOptions{HTTP: httpOpts})
}

func newService(settings config.Settings, store docstore.Store, logger workout.Logger) (*workout.Service, error) {
	validator, err := schema.Default()
	if err != nil {
		return nil, err
	}
	return workout.NewService(store, workout.Options{
		Layout: workout.Layout{
			HistoryRoot:   settings.Layout.HistoryRoot,
			StateRoot:     settings.Layout.StateRoot,
			PlansRoot:     settings.Layout.PlansRoot,
			SchedulesRoot: settings.Layout.SchedulesRoot,
			SplitsRoot:    settings.Layout.SplitsRoot,
		},
		Validator: validator,
		Location:  settings.Location(),
		Logger:    logger,
	}), nil
}

// loadRuntime reads settings and opens the store and service.
func loadRuntime(opts *RootOptions, logOut io.Writer) (*runtime, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, logOut)
	store, err := openStore(settings, logger)
	if err != nil {
		return nil, err
	}
	service, err := newService(settings, store, logger)
	if err != nil {
		return nil, err
	}
	return &runtime{settings: settings, store: store, service: service, logger: logger}, nil
}

// buildHandler assembles the HTTP server for settings. A store that cannot be
// opened leaves the server up and answering server_misconfig.
func buildHandler(settings config.Settings, logger *log.Logger) (*httpapi.Server, io.Closer) {
	cfg := httpapi.ServerConfig{
		SigningSecret:   settings.SigningSecret,
		MaxAge:          settings.MaxAge,
		PublicBaseURL:   settings.PublicBaseURL,
		DefaultRotation: settings.DefaultRotation,
		Missing:         settings.Missing(),
		Logger:          logger,
		RateLimitMax:    settings.RateLimitMax,
		RateLimitWindow: settings.RateLimitWindow,
		MaxBodyBytes:    settings.MaxBodyBytes,
	}
	var closer io.Closer
	if len(cfg.Missing) == 0 {
		store, err := openStore(settings, logger)
		if err != nil {
			logger.Printf("document store unavailable: %v", err)
		} else {
			service, err := newService(settings, store, logger)
			if err != nil {
				logger.Printf("service unavailable: %v", err)
			} else {
				cfg.Service = service
			}
			closer, _ = store.(io.Closer)
		}
	}
	return httpapi.NewServer(cfg), closer
}
