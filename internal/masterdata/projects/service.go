package projects

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id int64) (Project, error) {
	if id <= 0 {
		return Project{}, shared.InvalidRequestf("invalid project id")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	return s.repo.Exists(ctx, id)
}

func (s *Service) Create(ctx context.Context, code, name string) (Project, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Project{}, shared.InvalidRequestf("project code and name are required")
	}
	return s.repo.Create(ctx, Project{Code: code, Name: name, IsActive: true})
}
