package crud

import (
	"time"

	"gorm.io/gorm"
)

// A ServicesConfig is any function that takes in a pointer to a Services
// object and returns an error. It wraps the constructor of a crud service
// so that main.go can wire services with functional options.
type ServicesConfig func(*Services) error

// Services is a container holding pointers to all the crud services.
// They share the database connection provided by Services.
type Services struct {
	db      *gorm.DB
	User    *UserService
	OAuth   *OAuthAccountService
	Refresh *RefreshService
}

// NewServices returns a new Services object, containing any crud services
// it's told to create by one of the passed in ServicesConfig functions.
func NewServices(db *gorm.DB, cfgs ...ServicesConfig) (*Services, error) {
	s := Services{
		db: db,
	}
	for _, cfg := range cfgs {
		if err := cfg(&s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// WithUser wraps the constructor of UserService.
func WithUser() ServicesConfig {
	return func(s *Services) error {
		s.User = NewUserService(s.db)
		return nil
	}
}

// WithOAuth wraps the constructor of OAuthAccountService.
func WithOAuth() ServicesConfig {
	return func(s *Services) error {
		s.OAuth = NewOAuthAccountService(s.db)
		return nil
	}
}

// WithRefresh wraps the constructor of RefreshService.
func WithRefresh(ttl time.Duration) ServicesConfig {
	return func(s *Services) error {
		s.Refresh = NewRefreshService(s.db, ttl)
		return nil
	}
}
