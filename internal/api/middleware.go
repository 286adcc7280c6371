package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskhub/internal/logging"
	"taskhub/internal/storage"
	"taskhub/internal/task"
)

const apiTracerName = "taskhub/api"

// withTracing starts one span per inbound request so API latency shows up
// in the same traces as the storage and executor spans.
func withTracing(next http.Handler) http.Handler {
	tracer := otel.Tracer(apiTracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRecovery converts a handler panic into a generic 500 carrying a
// correlation id; the panic detail goes to the log store, never to the
// client.
func withRecovery(facade *storage.Facade, next http.Handler) http.Handler {
	log := logging.NewComponentLogger("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			correlationID := uuid.NewString()
			log.Error("panic serving %s %s (correlation %s): %v", r.Method, r.URL.Path, correlationID, rec)
			facade.AppendLog(r.Context(), &task.LogEntry{
				LogID:   correlationID,
				AgentID: "hub",
				Level:   task.LogLevelError,
				Message: "unhandled panic in " + r.Method + " " + r.URL.Path,
				Metadata: map[string]string{
					"panic": toString(rec),
				},
				CreatedAt: time.Now(),
			})
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error: "internal error (correlation id " + correlationID + ")",
			})
		}()
		next.ServeHTTP(w, r)
	})
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-string panic value"
}
