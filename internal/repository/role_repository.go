package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/observability"
)

var ErrRoleNotFound = errors.New("role not found")

type RoleRepository interface {
	FindByName(name string) (*domain.Role, error)
	// EnsureByName finds a role or creates it. Roles appear lazily when the
	// directory mapping resolves a name with no local row yet.
	EnsureByName(name string) (*domain.Role, error)
	List() ([]domain.Role, error)
}

type GormRoleRepository struct{ db *gorm.DB }

func NewRoleRepository(db *gorm.DB) RoleRepository { return &GormRoleRepository{db: db} }

func (r *GormRoleRepository) FindByName(name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.Where("name = ?", name).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "role", "find_by_name", "not_found")
			return nil, ErrRoleNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "role", "find_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "find_by_name", "success")
	return &role, nil
}

func (r *GormRoleRepository) EnsureByName(name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ?", name).First(&role).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		role = domain.Role{Name: name}
		return tx.Create(&role).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "role", "ensure_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "ensure_by_name", "success")
	return &role, nil
}

func (r *GormRoleRepository) List() ([]domain.Role, error) {
	var roles []domain.Role
	err := r.db.Find(&roles).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "role", "list", "error")
		return roles, err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "list", "success")
	return roles, nil
}
