package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/wiki"
	"gorm.io/gorm"
)

var (
	// ErrInvalidUser indicates a user without a usable name.
	ErrInvalidUser = errors.New("users: invalid user")
	// ErrUserNotFound indicates the id does not reference a user.
	ErrUserNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for author lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages revision authors.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

var _ wiki.AuthorFinder = (*Service)(nil)

// NewService constructs the author service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// Create registers a new author.
func (s *Service) Create(ctx context.Context, name, email string) (User, error) {
	user := User{Name: normalize(name), Email: strings.ToLower(normalize(email))}
	if user.Name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	now := s.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	s.cache.Store(user.ID, user)
	return user, nil
}

// AuthorExists reports whether authorID references a user. Positive answers
// are cached; users are never deleted.
func (s *Service) AuthorExists(ctx context.Context, authorID int64) (bool, error) {
	if authorID <= 0 {
		return false, nil
	}
	if _, ok := s.cache.Load(authorID); ok {
		return true, nil
	}
	_, err := s.Find(ctx, authorID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Find loads one user.
func (s *Service) Find(ctx context.Context, userID int64) (User, error) {
	if cached, ok := s.cache.Load(userID); ok {
		if user, ok := cached.(User); ok {
			return user, nil
		}
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return User{}, err
	}
	s.cache.Store(user.ID, user)
	return user, nil
}

// FindAuthor resolves revision authors for field proxies.
func (s *Service) FindAuthor(ctx context.Context, authorID int64) (wiki.AuthorRef, error) {
	user, err := s.Find(ctx, authorID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// List returns every author ordered by id.
func (s *Service) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
