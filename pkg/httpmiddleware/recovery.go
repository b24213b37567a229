package httpmiddleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Recovery turns handler panics into a JSON 500. It runs outside of
// InjectLogger, so panics are logged with lg tagged by the request id.
func Recovery(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				lg.Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", w.Header().Get(requestIDHeader)),
					zap.Stack("stack"),
				)
				w.Header().Set("Connection", "close")
				writeJSONError(w, http.StatusInternalServerError, "internal", "error interno")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
