package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/spf13/cobra"
)

type devStoreOptions struct {
	addr   string
	dsn    string
	prefix string
	token  string
}

func NewDevStoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &devStoreOptions{}
	cmd := &cobra.Command{
		Use:   "devstore",
		Short: "Serve a local contents API over any document store",
		Long: `Serve the repository contents API the remote store client speaks, backed
by a memory, file, sqlite or postgres store. Point the service at it with
store.dsn = http://<addr><prefix>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDevStore(ctx, rootOpts, opts, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8090", "listen address")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "memory://", "backing store dsn")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "/repos/local/workouts", "repository root path")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("LIFTRELAY_DEVSTORE_TOKEN"), "bearer token required from clients")
	return cmd
}

func runDevStore(ctx context.Context, rootOpts *RootOptions, opts *devStoreOptions, logOut io.Writer) error {
	logger := newLogger(&RootOptions{Verbose: true}, logOut)
	store, err := docstore.Open(opts.dsn, docstore.OpenOptions{})
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	handler := docstore.NewContentsHandler(store, docstore.ContentsHandlerOptions{
		Prefix: opts.prefix,
		Token:  opts.token,
		Logger: logger,
	})
	server := &http.Server{Addr: opts.addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("devstore serving %s at %s%s", opts.dsn, opts.addr, opts.prefix)
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
