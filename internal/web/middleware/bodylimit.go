package middleware

import "net/http"

// RequestBodySizeLimitMiddleware rejects a declared Content-Length above
// maxBytes up front and cuts off bodies that grow past it while streaming.
func RequestBodySizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.ContentLength > maxBytes:
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			case r.Body != nil && r.Body != http.NoBody:
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
