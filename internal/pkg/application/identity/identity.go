package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Identity struct {
	Username      string `json:"username,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Role          Role   `json:"-"`
	AppUserID     uint   `json:"-"`
}

func Anonymous() Identity {
	return Identity{Role: Other}
}

type Service interface {
	Authenticate(ctx context.Context, username, password string) (Identity, error)
	Resolve(ctx context.Context, username string) (Identity, error)
	SaveUser(ctx context.Context, user *database.AppUser) error
	DeactivateUser(ctx context.Context, username string) error
	Seed(ctx context.Context, cfg *Config) error
}

type service struct {
	repo database.FacilityRepository
}

func New(repo database.FacilityRepository) Service {
	return &service{repo: repo}
}

func (s *service) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	if strings.TrimSpace(username) == "" {
		return Anonymous(), ErrInvalidCredentials
	}

	p, err := s.repo.GetPrincipal(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Anonymous(), ErrInvalidCredentials
		}
		return Anonymous(), err
	}

	if !p.Active {
		return Anonymous(), ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return Anonymous(), ErrInvalidCredentials
	}

	now := time.Now().UTC()
	p.LastLogin = &now
	if err := s.repo.SavePrincipal(ctx, &p); err != nil {
		logger := logging.GetFromContext(ctx)
		logger.Warn().Err(err).Str("username", username).Msg("failed to record last login")
	}

	return s.identityOf(ctx, p)
}

// Resolve looks up the principal and application user of username on every
// call. Unknown or inactive principals resolve to an anonymous identity.
func (s *service) Resolve(ctx context.Context, username string) (Identity, error) {
	if username == "" {
		return Anonymous(), nil
	}

	p, err := s.repo.GetPrincipal(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Anonymous(), nil
		}
		return Anonymous(), err
	}

	if !p.Active {
		return Anonymous(), nil
	}

	return s.identityOf(ctx, p)
}

func (s *service) identityOf(ctx context.Context, p database.Principal) (Identity, error) {
	id := Identity{
		Username:      p.Username,
		Authenticated: true,
	}

	u, err := s.repo.GetAppUser(ctx, p.Username)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return Anonymous(), err
		}
		id.Role = ResolveRole(&p, nil)
		return id, nil
	}

	id.Role = ResolveRole(&p, &u)
	id.AppUserID = u.ID

	return id, nil
}

// SaveUser stores the application user and mirrors it into its principal.
func (s *service) SaveUser(ctx context.Context, user *database.AppUser) error {
	if err := s.repo.SaveAppUser(ctx, user); err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.Username, err)
	}

	stored, err := s.repo.GetAppUser(ctx, user.Username)
	if err != nil {
		return err
	}

	var existing *database.Principal
	p, err := s.repo.GetPrincipal(ctx, user.Username)
	if err == nil {
		existing = &p
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	mirrored := MirrorPrincipal(stored, existing)
	if err := s.repo.SavePrincipal(ctx, &mirrored); err != nil {
		return fmt.Errorf("failed to mirror principal %s: %w", user.Username, err)
	}

	return nil
}

func (s *service) DeactivateUser(ctx context.Context, username string) error {
	p, err := s.repo.GetPrincipal(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}

	p.Active = false
	return s.repo.SavePrincipal(ctx, &p)
}

// Seed creates the configured roles and users. Existing users keep their
// passwords; superusers get the platform superuser flag on their principal.
func (s *service) Seed(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return nil
	}

	logger := logging.GetFromContext(ctx)

	for _, name := range cfg.Roles {
		if _, err := s.repo.GetOrCreateRole(ctx, name); err != nil {
			return fmt.Errorf("failed to create role %s: %w", name, err)
		}
	}

	for _, uc := range cfg.Users {
		if _, err := s.repo.GetAppUser(ctx, uc.Username); err == nil {
			continue
		}

		user := &database.AppUser{Username: uc.Username, Password: uc.Password}

		if uc.Role != "" {
			role, err := s.repo.GetOrCreateRole(ctx, uc.Role)
			if err != nil {
				return err
			}
			user.RoleID = &role.ID
		}

		if err := s.SaveUser(ctx, user); err != nil {
			return err
		}

		if uc.Superuser {
			p, err := s.repo.GetPrincipal(ctx, uc.Username)
			if err != nil {
				return err
			}
			p.IsSuperuser = true
			if err := s.repo.SavePrincipal(ctx, &p); err != nil {
				return err
			}
		}

		logger.Info().Str("username", uc.Username).Str("role", uc.Role).Msg("seeded user")
	}

	return nil
}
