package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixelmint/backend/internal/account"
	"github.com/pixelmint/backend/internal/auth"
	"github.com/pixelmint/backend/internal/jobs"
	"github.com/pixelmint/backend/internal/webhook"
)

// New returns an http.Handler serving the API under /api/v1.
// Auth endpoints and the provider webhook are public; everything else
// sits behind the bearer-token middleware.
func New(
	authHandler *auth.Handler,
	accountHandler *account.Handler,
	jobsHandler *jobs.Handler,
	webhookHandler *webhook.Handler,
	requireAuth func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)

	// The provider authenticates with an HMAC signature, not a bearer token.
	mux.HandleFunc("POST "+base+"/webhooks/generation", webhookHandler.HandleGeneration)

	authed := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }

	mux.Handle("POST "+base+"/generations", authed(jobsHandler.Create))
	mux.Handle("GET "+base+"/generations", authed(jobsHandler.List))
	mux.Handle("GET "+base+"/generations/{id}", authed(jobsHandler.Get))

	mux.Handle("GET "+base+"/account/me", authed(accountHandler.GetMe))
	mux.Handle("GET "+base+"/tokens/balance", authed(accountHandler.GetBalance))
	mux.Handle("GET "+base+"/tokens/history", authed(accountHandler.ListHistory))
	mux.Handle("POST "+base+"/tokens/purchase", authed(accountHandler.Purchase))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
