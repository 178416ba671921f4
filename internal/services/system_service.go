package services

import (
	"context"
	"errors"

	"github.com/raileats/api/internal/repositories"
)

type systemService struct {
	health repositories.HealthRepository
}

// NewSystemService wires the health repository into a SystemService.
func NewSystemService(health repositories.HealthRepository) (SystemService, error) {
	if health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	return &systemService{health: health}, nil
}

func (s *systemService) Health(ctx context.Context) (SystemHealthReport, error) {
	return s.health.Collect(ctx)
}
