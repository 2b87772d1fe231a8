package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Recoverer turns a panicking handler into a 500 response.
type Recoverer struct {
	includeStack bool
	log          *zap.Logger
}

func NewRecoverer(log *zap.Logger, includeStack bool) *Recoverer {
	return &Recoverer{
		includeStack: includeStack,
		log:          log,
	}
}

func (p *Recoverer) Name() string {
	return "recoverer"
}

func (p *Recoverer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			// Let net/http abort the connection as usual.
			if rec == http.ErrAbortHandler { //nolint:errorlint,err113 // sentinel panic value
				panic(rec)
			}

			msg := fmt.Sprintf("panic recovered: %v", rec)

			log := p.log.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Time("time", time.Now()),
			)

			if p.includeStack {
				log.Error(msg, zap.ByteString("stack", debug.Stack()))
			} else {
				log.Error(msg)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "internal server error"}`))
		}()

		next.ServeHTTP(w, r)
	})
}
