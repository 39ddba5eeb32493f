package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/multicloud-portal/portal/internal/api/errors"
)

// Recovery turns a handler panic into a 500 response with the request ID
// and logs the panic with its stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil || rec == http.ErrAbortHandler {
					if rec != nil {
						panic(rec)
					}
					return
				}
				requestID := middleware.GetReqID(r.Context())
				entry := apierrors.NewErrorLogEntry(requestID, apierrors.CodeInternalError, "panic recovered")

				attrs := append(entry.ToSlogAttrs(),
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"user", GetUserEmail(r.Context()),
				)
				logger.Error("panic recovered", attrs...)

				apierrors.WriteErrorWithRequestID(w,
					apierrors.NewInternalError("An unexpected error occurred"), requestID)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
