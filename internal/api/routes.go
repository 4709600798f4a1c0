package api

import (
	"net/http"

	"github.com/inkwell-ai/bluebook/internal/config"
	"github.com/inkwell-ai/bluebook/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	routes.Register(
		mux,
		domain.Batches.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
	)

	storage := newStorageHandler(
		runtime.Storage,
		runtime.Logger,
		int32(cfg.API.Pagination.MaxPageSize),
	)
	routes.Register(mux, storage.routes())
}
