package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kyuhyong/surveillance-camera/internal/recorder"
	"github.com/kyuhyong/surveillance-camera/internal/stream"
	"github.com/kyuhyong/surveillance-camera/internal/ws"
)

type recorderState interface {
	State() recorder.State
}

// healthResponse is served on /healthz
type healthResponse struct {
	Status    string `json:"status"`
	Recorder  string `json:"recorder"`
	Clients   int    `json:"clients"`
	Viewers   int    `json:"mjpeg_viewers"`
	Timestamp string `json:"timestamp"`
}

func newMux(hub *ws.Hub, mjpeg *stream.MJPEGStream, rec recorderState) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws/live", ws.NewHandler(hub))
	mux.Handle("/stream.mjpeg", mjpeg)
	mux.Handle("/snapshot.jpg", stream.NewSnapshotHandler(mjpeg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:    "healthy",
			Recorder:  rec.State().String(),
			Clients:   hub.ClientCount(),
			Viewers:   mjpeg.ClientCount(),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	})
	return mux
}

// handleHTTPServer serves the live preview until ctx is done.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
		// Streaming responses end with ctx instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "addr", addr, "error", err)
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server", "addr", addr)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("failed to shutdown HTTP server", "error", err)
		}
	}()
}
