// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/inkwell-ai/bluebook/internal/config"
	"github.com/inkwell-ai/bluebook/internal/infrastructure"
	"github.com/inkwell-ai/bluebook/pkg/middleware"
	"github.com/inkwell-ai/bluebook/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
// The returned Domain is exposed so composition code can run startup tasks
// like interrupted batch recovery.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, *Domain, error) {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(runtime)

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Infrastructure.Logger))

	return m, domain, nil
}
