package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stayforge/identity-service/internal/domain"
)

func newUserStoreForTest(t *testing.T) (UserRepository, RoleRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Role{}, &domain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewUserRepository(db), NewRoleRepository(db)
}

func TestUserLookupsPreloadRole(t *testing.T) {
	users, roles := newUserStoreForTest(t)

	role, err := roles.EnsureByName("Manager")
	if err != nil {
		t.Fatalf("EnsureByName: %v", err)
	}
	u := &domain.User{Username: "jdoe", Email: "JDoe@Example.com", RoleID: role.ID}
	if err := users.Create(u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byEmail, err := users.FindByEmail("jdoe@EXAMPLE.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if byEmail.Email != "jdoe@example.com" {
		t.Fatalf("expected stored email lower-cased, got %q", byEmail.Email)
	}
	if byEmail.Role == nil || byEmail.Role.Name != "Manager" {
		t.Fatalf("expected preloaded role, got %+v", byEmail.Role)
	}

	byUsername, err := users.FindByUsername("jdoe")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if byUsername.ID != u.ID {
		t.Fatalf("expected same identity, got %d and %d", byUsername.ID, u.ID)
	}
	byID, err := users.FindByID(u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.Role == nil || byID.Role.Name != "Manager" {
		t.Fatalf("expected preloaded role by id, got %+v", byID.Role)
	}
}

func TestUserNotFound(t *testing.T) {
	users, _ := newUserStoreForTest(t)

	if _, err := users.FindByEmail("missing@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := users.FindByUsername("missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := users.FindByID(99); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestEnsureByNameIsIdempotent(t *testing.T) {
	_, roles := newUserStoreForTest(t)

	a, err := roles.EnsureByName("Receptionist")
	if err != nil {
		t.Fatalf("EnsureByName: %v", err)
	}
	b, err := roles.EnsureByName("Receptionist")
	if err != nil {
		t.Fatalf("repeat EnsureByName: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected one role row, got ids %d and %d", a.ID, b.ID)
	}

	all, err := roles.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected single role, got %d", len(all))
	}
}
