package service

import (
	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/config"
	"github.com/pingone-bulk-console/internal/pingone"
	"github.com/pingone-bulk-console/internal/progress"
)

// NewTestOperationService exposes the unexported constructor to the external
// test package
func NewTestOperationService(userAPI pingone.UserAPI, tokens pingone.TokenSource, broker *progress.Broker, cfg *config.Config, log zerolog.Logger) OperationService {
	return newOperationService(userAPI, tokens, broker, cfg, log)
}
