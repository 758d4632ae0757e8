package admins

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opNew     = "admins.service.new"
	opResolve = "admins.resolve"
	opList    = "admins.list"

	// lastSeenResolution limits last_seen_at writes for busy admin sessions.
	lastSeenResolution = time.Minute
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("admins: invalid identity")

// ServiceConfig describes the dependencies required for admin resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service keeps a record of admins seen by the API.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(opNew, "missing_database", apperrors.KindInternal, "", errors.New("database connection required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Resolve returns the admin for the session claims, creating the record on
// first sight and refreshing profile fields afterwards.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (Admin, error) {
	subject := deriveSubject(claims)
	if subject == "" {
		return Admin{}, apperrors.New(opResolve, "invalid_identity", apperrors.KindForbidden, "Session carries no identity", ErrInvalidIdentity)
	}
	now := s.now().UTC()

	if cached, ok := s.cache.Load(subject); ok {
		if admin, ok := cached.(Admin); ok && now.Sub(admin.LastSeenAt) < lastSeenResolution && sameProfile(admin, claims) {
			return admin, nil
		}
	}

	var admin Admin
	err := s.db.WithContext(ctx).Where("subject = ?", subject).Take(&admin).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		admin = Admin{
			Subject:     subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  now,
		}
		if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
			s.logger.Error("admin insert failed", zap.String("subject", subject), zap.Error(err))
			return Admin{}, apperrors.New(opResolve, "insert_failed", apperrors.KindInternal, "", err)
		}
		s.logger.Info("admin registered", zap.String("subject", subject), zap.String("email", admin.Email))
	case err != nil:
		return Admin{}, apperrors.New(opResolve, "query_failed", apperrors.KindInternal, "", err)
	default:
		updates := map[string]any{"last_seen_at": now}
		if email := normalize(claims.UserEmail); email != "" && email != admin.Email {
			updates["admin_email"] = email
			admin.Email = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != admin.DisplayName {
			updates["admin_display_name"] = display
			admin.DisplayName = display
		}
		if err := s.db.WithContext(ctx).Model(&Admin{}).Where("subject = ?", subject).Updates(updates).Error; err != nil {
			s.logger.Warn("admin refresh failed", zap.String("subject", subject), zap.Error(err))
		}
		admin.LastSeenAt = now
	}

	s.cache.Store(subject, admin)
	return admin, nil
}

// List returns every known admin, most recently seen first.
func (s *Service) List(ctx context.Context) ([]Admin, error) {
	admins := []Admin{}
	if err := s.db.WithContext(ctx).Order("last_seen_at DESC").Find(&admins).Error; err != nil {
		return nil, apperrors.New(opList, "query_failed", apperrors.KindInternal, "", err)
	}
	return admins, nil
}

func sameProfile(admin Admin, claims auth.SessionClaims) bool {
	email := normalize(claims.UserEmail)
	display := normalize(claims.UserDisplayName)
	return (email == "" || email == admin.Email) && (display == "" || display == admin.DisplayName)
}

// deriveSubject prefers the registered subject, then user_id with any
// provider prefix removed, then the email address.
func deriveSubject(claims auth.SessionClaims) string {
	if subject := normalize(claims.Subject); subject != "" {
		return subject
	}
	if raw := normalize(claims.UserID); raw != "" {
		if provider, rest, found := strings.Cut(raw, ":"); found && normalize(provider) != "" && normalize(rest) != "" {
			return normalize(rest)
		}
		return raw
	}
	return strings.ToLower(normalize(claims.UserEmail))
}
