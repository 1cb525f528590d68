package cli

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agentworkforce/liftrelay/internal/config"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	addr  string
	watch bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the signed action endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the config file when it changes")
	return cmd
}

// swapHandler serves the most recently built handler.
type swapHandler struct {
	mu      sync.RWMutex
	current *generation
	logger  *log.Logger
}

// generation is one installed handler and the store it owns.
type generation struct {
	handler  http.Handler
	closer   io.Closer
	inflight sync.WaitGroup
}

func (h *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	gen := h.current
	if gen != nil {
		gen.inflight.Add(1)
	}
	h.mu.RUnlock()
	if gen == nil {
		http.NotFound(w, r)
		return
	}
	defer gen.inflight.Done()
	gen.handler.ServeHTTP(w, r)
}

// swap installs handler. The replaced handler's closer runs once the
// requests it is still serving have finished; the returned channel is closed
// after that.
func (h *swapHandler) swap(handler http.Handler, closer io.Closer) <-chan struct{} {
	h.mu.Lock()
	old := h.current
	h.current = &generation{handler: handler, closer: closer}
	h.mu.Unlock()

	done := make(chan struct{})
	if old == nil || old.closer == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		old.inflight.Wait()
		if err := old.closer.Close(); err != nil && h.logger != nil {
			h.logger.Printf("closing replaced store: %v", err)
		}
	}()
	return done
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *serveOptions, logOut io.Writer) error {
	settings, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return err
	}
	// Request logs are always on for the server.
	logger := newLogger(&RootOptions{Verbose: true}, logOut)
	if err := settings.MissingError(); err != nil {
		logger.Printf("%v; write endpoints will answer server_misconfig", err)
	}

	live := &swapHandler{logger: logger}
	server, closer := buildHandler(settings, logger)
	live.swap(server, closer)

	if opts.watch && rootOpts.ConfigPath != "" {
		go func() {
			err := config.Watch(ctx, rootOpts.ConfigPath, logger, func(next config.Settings) {
				server, closer := buildHandler(next, logger)
				live.swap(server, closer)
				logger.Printf("configuration reloaded from %s", rootOpts.ConfigPath)
			})
			if err != nil {
				logger.Printf("config watch stopped: %v", err)
			}
		}()
	}

	addr := settings.ListenAddr
	if opts.addr != "" {
		addr = opts.addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           live,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("liftrelay listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}
	<-live.swap(http.NotFoundHandler(), nil)
	return nil
}
