package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS returns middleware that answers preflights and sets CORS headers for
// the allowed origins. An empty list allows every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		MaxAge:         86400,
	})
	return c.Handler
}
