// File: internal/cli/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-state/api"
	"github.com/momentics/hioload-state/facade"
	"github.com/momentics/hioload-state/internal/logging"
	"github.com/momentics/hioload-state/transport/wsock"
)

const (
	shutdownTimeout = 10 * time.Second
	maxPushBody     = 1 << 20
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket push server",
	Long: `Serve upgrades /ws?user=<identity> to a WebSocket and registers it under
the identity. POST /push?identity=<identity> pushes the request body to every
live connection of that identity held by this worker. GET /stats reports
counters and probes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// queryAuth takes the identity from the "user" query parameter.
var queryAuth = api.AuthenticatorFunc(func(req api.Request, _ ...any) (string, error) {
	if req.HTTP == nil {
		return "", api.NewAuthError(4001, "unauthorized")
	}
	user := req.HTTP.URL.Query().Get("user")
	if user == "" {
		return "", api.NewAuthError(4001, "unauthorized")
	}
	return user, nil
})

func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.For("serve")
	hub := wsock.NewHub(wsock.Config{Logger: logging.For("wsock")})
	state, err := facade.New(config, queryAuth, hub)
	if err != nil {
		return err
	}
	if err := state.Start(); err != nil {
		_ = state.Shutdown()
		return err
	}

	srv := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           newMux(state, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info().Str("addr", srv.Addr).Msg("listening")

	var serveErr error
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(sctx, srv, hub, state); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// shutdown stops accepting requests, then closes the upgraded sockets, then
// releases the tables the handlers were using.
func shutdown(ctx context.Context, srv *http.Server, hub *wsock.Hub, state api.GracefulShutdown) error {
	err := srv.Shutdown(ctx)
	_ = hub.Close()
	if serr := state.Shutdown(); err == nil {
		err = serr
	}
	return err
}

// newMux routes the WebSocket endpoint, push and stats.
func newMux(state *facade.State, hub *wsock.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler(state.Connections()))
	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		identity := r.URL.Query().Get("identity")
		if identity == "" {
			http.Error(w, "identity is required", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		state.Connections().Push(identity, body)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		out, err := sonic.Marshal(state.Control().Stats())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	})
	return mux
}
