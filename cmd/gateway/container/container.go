package container

import (
	"time"

	"github.com/weftlabs/weft/cmd/engine/lifecycle"
	"github.com/weftlabs/weft/cmd/gateway/service"
	"github.com/weftlabs/weft/common/bootstrap"
	"github.com/weftlabs/weft/common/clients"
	"github.com/weftlabs/weft/common/ratelimit"
	"github.com/weftlabs/weft/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	WorkflowRepo  *repository.WorkflowRepository
	ExecutionRepo *repository.ExecutionRepository
	EventRepo     *repository.EventRepository

	// Services
	WorkflowService  *service.WorkflowService
	ExecutionService *service.ExecutionService

	// Shared with the rate-limit middleware
	RateLimiter *ratelimit.Limiter
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) *Container {
	// Repositories
	workflowRepo := repository.NewWorkflowRepository(components.DB)
	executionRepo := repository.NewExecutionRepository(components.DB)
	eventRepo := repository.NewEventRepository(components.DB)

	// Hot-path plumbing shared with the engine: the status manager
	// reads the same keys the engine writes, including offloaded
	// results behind CAS references.
	cas := clients.NewRedisCASClient(components.Redis, 24*time.Hour, components.Logger)
	status := lifecycle.NewStatusManager(components.Redis, components.Logger).
		WithResultOffload(cas, components.Config.Engine.ResultOffloadBytes)

	limiter := ratelimit.New(components.RedisRaw, components.Logger)

	// Services (bottom-up: dependencies first)
	workflowService := service.NewWorkflowService(service.WorkflowServiceOpts{
		Store:  workflowRepo,
		Cache:  components.Cache,
		Logger: components.Logger,
	})

	executionService := service.NewExecutionService(service.ExecutionServiceOpts{
		Executions: executionRepo,
		Events:     eventRepo,
		Workflows:  workflowService,
		Status:     status,
		Redis:      components.Redis,
		Limiter:    limiter,
		Logger:     components.Logger,
	})

	return &Container{
		Components:       components,
		WorkflowRepo:     workflowRepo,
		ExecutionRepo:    executionRepo,
		EventRepo:        eventRepo,
		WorkflowService:  workflowService,
		ExecutionService: executionService,
		RateLimiter:      limiter,
	}
}
