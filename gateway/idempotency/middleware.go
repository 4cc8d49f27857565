package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	HeaderKey    = "Idempotency-Key"
	HeaderReplay = "Idempotent-Replay"

	maxKeyLength   = 128
	defaultMaxBody = 1 << 20
)

// Middleware replays the stored response when a request repeats an
// Idempotency-Key. Requests without the header pass through untouched.
type Middleware struct {
	store   *Store
	logger  *slog.Logger
	maxBody int64

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewMiddleware(store *Store, maxBody int64, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Middleware{store: store, logger: logger, maxBody: maxBody, locks: make(map[string]*keyLock)}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderKey))
		if key == "" || m == nil || m.store == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			writeJSONError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, m.maxBody+1))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if int64(len(body)) > m.maxBody {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		sum := sha256.Sum256(body)
		hash := hex.EncodeToString(sum[:])

		unlock := m.lock(key)
		defer unlock()

		record, err := m.store.Lookup(r.Context(), key)
		if err != nil {
			m.logger.Error("idempotency lookup failed", "error", err)
			writeJSONError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if record != nil {
			if record.RequestHash != hash {
				writeJSONError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplay, "true")
			w.WriteHeader(record.Status)
			_, _ = io.WriteString(w, record.Response)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return
		}
		saved := &Record{
			Key:         key,
			RequestID:   uuid.NewString(),
			RequestHash: hash,
			Status:      status,
			Response:    recorder.buf.String(),
		}
		if err := m.store.Save(r.Context(), saved); err != nil {
			m.logger.Warn("idempotency save failed", "error", err)
		}
	})
}

func (m *Middleware) lock(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
