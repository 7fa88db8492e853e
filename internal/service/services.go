package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/config"
	"github.com/pingone-bulk-console/internal/models"
	"github.com/pingone-bulk-console/internal/pingone"
	"github.com/pingone-bulk-console/internal/progress"
)

// OperationService defines the interface for bulk operation runs
type OperationService interface {
	Start(kind models.OperationKind, req *models.OperationRequest) (*models.Operation, error)
	Get(id string) (*models.Operation, bool)
	Cancel(id string) bool
	TestCredentials(ctx context.Context, environmentID, clientID, clientSecret string) error
}

// ProgressService defines the interface for progress subscriptions
type ProgressService interface {
	Subscribe(ctx context.Context, operationID string) <-chan models.ProgressEvent
}

// Services holds all service interfaces
type Services struct {
	Operations OperationService
	Progress   ProgressService
}

// NewServices creates all services
func NewServices(cfg *config.Config, log zerolog.Logger) *Services {
	broker := progress.NewBroker(cfg.Operations.ProgressBacklog, log)
	tokens := pingone.NewTokenCache(cfg.PingOne, log)
	userAPI := pingone.NewClient(cfg.PingOne, log)
	operationSvc := newOperationService(userAPI, tokens, broker, cfg, log)

	return &Services{
		Operations: operationSvc,
		Progress:   broker,
	}
}
