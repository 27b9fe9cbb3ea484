package server

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"quorum/internal/gateway/handler"
	"quorum/internal/gateway/middleware"
)

func NewMux(h *handler.Handler, logger *log.Logger) http.Handler {
	return newRouter(logger, h.Mount)
}

func newRouter(logger *log.Logger, mount func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if logger != nil {
		r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{Logger: logger, NoColor: true}))
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	mount(r)
	return r
}
