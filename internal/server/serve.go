package server

import (
	"context"
	"log/slog"

	"starstep/internal/engine"
	"starstep/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP API and the gRPC health endpoint until ctx is
// canceled or either server fails. An empty address disables that server.
func Serve(ctx context.Context, httpAddr, grpcAddr string, store *storage.Store, eng *engine.Engine, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	g, ctx := errgroup.WithContext(ctx)
	if httpAddr != "" {
		srv := NewServer(httpAddr, store, eng, log)
		g.Go(func() error { return srv.Start(ctx) })
	}
	if grpcAddr != "" {
		gs := NewGRPCServer(grpcAddr, log)
		g.Go(func() error { return gs.Start(ctx) })
	}
	return g.Wait()
}
