package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SnapshotInterval bounds how stale the snapshot may get while no MJPEG
// client is connected.
const SnapshotInterval = time.Second

// clientBuffer is the per-client frame backlog. Slow clients skip frames.
const clientBuffer = 5

// MJPEGStream serves preview frames as multipart/x-mixed-replace and keeps
// the latest frame for single-shot snapshots.
type MJPEGStream struct {
	logger *slog.Logger
	now    func() time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
	closed    bool

	frameMu   sync.RWMutex
	current   []byte
	updatedAt time.Time
}

// NewMJPEGStream creates an empty stream.
func NewMJPEGStream(logger *slog.Logger) *MJPEGStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &MJPEGStream{
		logger:  logger.With("component", "mjpeg"),
		now:     time.Now,
		clients: make(map[chan []byte]struct{}),
	}
}

// ClientCount returns the number of connected MJPEG clients.
func (s *MJPEGStream) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Wants reports whether a frame is needed, either for a connected client or
// to refresh a stale snapshot.
func (s *MJPEGStream) Wants() bool {
	if s.ClientCount() > 0 {
		return true
	}
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.now().Sub(s.updatedAt) >= SnapshotInterval
}

// PublishJPEG stores data as the current frame and fans it out. data must
// not be modified afterwards.
func (s *MJPEGStream) PublishJPEG(at time.Time, width, height int, data []byte) {
	if len(data) == 0 {
		return
	}

	s.frameMu.Lock()
	s.current = data
	s.updatedAt = s.now()
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
	s.clientsMu.RUnlock()
}

// CurrentFrame returns the latest frame, or nil before the first one.
func (s *MJPEGStream) CurrentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.current
}

func (s *MJPEGStream) subscribe() (chan []byte, bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, clientBuffer)
	s.clients[ch] = struct{}{}
	return ch, true
}

func (s *MJPEGStream) unsubscribe(ch chan []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[ch]; ok {
		delete(s.clients, ch)
		close(ch)
	}
}

// ServeHTTP serves the MJPEG stream to a client
func (s *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	ch, ok := s.subscribe()
	if !ok {
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("client disconnected", "remote", r.RemoteAddr)
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if err := writePart(w, frame); err != nil {
				s.logger.Debug("client write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// Close disconnects every client and refuses new ones.
func (s *MJPEGStream) Close() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.closed = true
	for ch := range s.clients {
		delete(s.clients, ch)
		close(ch)
	}
}

// SnapshotHandler serves the latest frame as a single JPEG.
type SnapshotHandler struct {
	stream *MJPEGStream
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(stream *MJPEGStream) *SnapshotHandler {
	return &SnapshotHandler{stream: stream}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.stream.CurrentFrame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(frame)
}
