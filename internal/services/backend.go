package services

import (
	"context"
	"fmt"

	"github.com/rescale/rescale-drive/internal/api"
	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/http"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/store"
	"github.com/rescale/rescale-drive/internal/store/azurestore"
	"github.com/rescale/rescale-drive/internal/store/memstore"
	"github.com/rescale/rescale-drive/internal/store/objstore"
	"github.com/rescale/rescale-drive/internal/store/ossstore"
	"github.com/rescale/rescale-drive/internal/store/s3store"
)

// OpenStore builds the backend selected by cfg.Store.Backend. Object-store
// backends share the proxy-aware HTTP client built from cfg.Proxy.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, error) {
	logger = logging.OrNop(logger)

	switch cfg.Store.Backend {
	case config.BackendHTTP, "":
		c, err := api.NewClientFromConfig(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil

	case config.BackendMemory:
		logger.Warn().Msg("using the in-memory backend; nothing is persisted")
		return memstore.New(), nil

	case config.BackendS3, config.BackendAzure, config.BackendOSS:
		httpClient, err := http.ConfigureHTTPClient(cfg.Proxy, "", logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		var s *objstore.Store
		switch cfg.Store.Backend {
		case config.BackendS3:
			s, err = s3store.New(ctx, cfg.S3, httpClient, logger)
		case config.BackendAzure:
			s, err = azurestore.New(cfg.Azure, httpClient, logger)
		default:
			s, err = ossstore.New(cfg.OSS, httpClient, logger)
		}
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("store", s.Name()).Msg("object store backend ready")
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Store.Backend)
}
