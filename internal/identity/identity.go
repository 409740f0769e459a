// Package identity is the account side of the product: registration, sign-in outcomes,
// administrator block and purge, and device provisioning.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/audit"
	"github.com/AnshRaj112/safemobile-backend/internal/devicetoken"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"github.com/google/uuid"
)

const DefaultLoginHistoryCapacity = 50

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrBlocked            = errors.New("account is blocked")
	ErrForbidden          = errors.New("administrator role required")
	ErrInvalidInput       = errors.New("invalid input")
)

type Service struct {
	store     store.Store
	audit     *audit.Logger
	sessions  Sessions
	tokens    *devicetoken.Issuer
	publisher notify.Publisher
	loginCap  int
	now       func() time.Time
	verify    func(password, encoded string) (bool, error)
}

type Options struct {
	Store                store.Store
	Audit                *audit.Logger
	Sessions             Sessions
	Tokens               *devicetoken.Issuer
	Publisher            notify.Publisher
	LoginHistoryCapacity int
}

func NewService(o Options) *Service {
	s := &Service{
		store:     o.Store,
		audit:     o.Audit,
		sessions:  o.Sessions,
		tokens:    o.Tokens,
		publisher: o.Publisher,
		loginCap:  o.LoginHistoryCapacity,
		now:       func() time.Time { return time.Now().UTC() },
		verify:    VerifyPassword,
	}
	if s.loginCap <= 0 {
		s.loginCap = DefaultLoginHistoryCapacity
	}
	if s.sessions == nil {
		s.sessions = NewMemorySessions()
	}
	if s.publisher == nil {
		s.publisher = notify.NopPublisher{}
	}
	return s
}

// decoyHash is verified against when the email is unknown.
var decoyHash = sync.OnceValue(func() string {
	h, err := HashPassword(uuid.New().String())
	if err != nil {
		log.Printf("identity: decoy hash unavailable: %v", err)
	}
	return h
})

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	return email, nil
}

// Register creates a user. Duplicate emails fail with store.ErrDuplicate.
func (s *Service) Register(ctx context.Context, email, password string, role models.Role) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if role == "" {
		role = models.RoleUser
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
		LoginHistory: []models.LoginEntry{},
		Metadata:     models.UserMetadata{AccountStatus: models.AccountActive},
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate checks credentials, records the outcome in the bounded login history and
// opens a session. Blocked users are refused even with the right password.
func (s *Service) Authenticate(ctx context.Context, email, password, ip string) (string, *models.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		// Same argon2 cost as a real account, so response time does not reveal the email.
		s.verify(password, decoyHash())
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	ok, err := s.verify(password, u.PasswordHash)
	if err != nil {
		log.Printf("identity: unreadable password hash for %s: %v", u.ID, err)
	}
	entry := models.LoginEntry{Timestamp: s.now(), Status: models.LoginSuccess, IP: ip}
	if !ok || u.Blocked {
		entry.Status = models.LoginFailed
	}
	if err := s.store.RecordLogin(ctx, u.ID, entry, s.loginCap); err != nil {
		log.Printf("identity: failed to record login for %s: %v", u.ID, err)
	}

	if !ok {
		s.audit.Log(ctx, audit.Entry{
			ActorID: u.ID, ActorEmail: u.Email, Action: models.ActionLoginAttempt,
			TargetID: u.ID, Details: "wrong password from " + ip, Severity: models.SeverityLow,
		})
		return "", nil, ErrInvalidCredentials
	}
	if u.Blocked {
		s.audit.Log(ctx, audit.Entry{
			ActorID: u.ID, ActorEmail: u.Email, Action: models.ActionLoginAttempt,
			TargetID: u.ID, Details: "blocked account sign-in from " + ip, Severity: models.SeverityMedium,
		})
		return "", nil, ErrBlocked
	}

	token, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	at := entry.Timestamp
	u.LastLogin = &at
	return token, u, nil
}

// Resolve maps a session token to its user. Blocked users lose their session.
func (s *Service) Resolve(ctx context.Context, token string) (*models.User, error) {
	userID, ok, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Blocked {
		return nil, ErrBlocked
	}
	return u, nil
}

// requireAdmin checks the stored role of the actor, never the claimed one.
func (s *Service) requireAdmin(ctx context.Context, actor models.Actor) (*models.User, error) {
	u, err := s.store.GetUser(ctx, actor.ID)
	if err != nil || u.Blocked || !u.Role.IsAdmin() {
		return nil, ErrForbidden
	}
	return u, nil
}

func (s *Service) SetBlocked(ctx context.Context, actor models.Actor, userID string, blocked bool) error {
	admin, err := s.requireAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if admin.ID == userID {
		return fmt.Errorf("%w: cannot block yourself", ErrInvalidInput)
	}
	if err := s.store.SetBlocked(ctx, userID, blocked); err != nil {
		return fmt.Errorf("set blocked %s: %w", userID, err)
	}

	action := models.ActionUserUnblock
	if blocked {
		action = models.ActionUserBlock
		if err := s.sessions.InvalidateUser(ctx, userID); err != nil {
			log.Printf("identity: failed to drop sessions for %s: %v", userID, err)
		}
	}
	s.audit.Log(ctx, audit.Entry{
		ActorID: admin.ID, ActorEmail: admin.Email, Action: action,
		TargetID: userID, Severity: models.SeverityHigh,
	})
	return nil
}

// Purge deletes the user and every device it owns. Heartbeat loops for those devices stop
// on their next tick.
func (s *Service) Purge(ctx context.Context, actor models.Actor, userID string) ([]string, error) {
	admin, err := s.requireAdmin(ctx, actor)
	if err != nil {
		return nil, err
	}
	if admin.ID == userID {
		return nil, fmt.Errorf("%w: cannot purge yourself", ErrInvalidInput)
	}

	removed, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("purge %s: %w", userID, err)
	}
	if err := s.sessions.InvalidateUser(ctx, userID); err != nil {
		log.Printf("identity: failed to drop sessions for %s: %v", userID, err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID: admin.ID, ActorEmail: admin.Email, Action: models.ActionUserDelete,
		TargetID: userID, Details: fmt.Sprintf("%d devices removed", len(removed)),
		Severity: models.SeverityCritical,
	})
	for _, id := range removed {
		if err := s.publisher.Publish(ctx, notify.Event{Type: notify.EventDeviceRemoved, DeviceID: id, Timestamp: s.now()}); err != nil {
			log.Printf("identity: publish removal of %s failed: %v", id, err)
		}
	}
	return removed, nil
}

// Profile is the administrator view of one account.
type Profile struct {
	User    *models.User     `json:"user"`
	Devices []*models.Device `json:"devices"`
}

func (s *Service) Inspect(ctx context.Context, actor models.Actor, userID string) (*Profile, error) {
	admin, err := s.requireAdmin(ctx, actor)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", userID, err)
	}
	devices, err := s.store.ListDevicesByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("inspect %s devices: %w", userID, err)
	}
	s.audit.Log(ctx, audit.Entry{
		ActorID: admin.ID, ActorEmail: admin.Email, Action: models.ActionIdentityInspect,
		TargetID: userID, Severity: models.SeverityMedium,
	})
	return &Profile{User: u, Devices: devices}, nil
}

// RegisterDevice provisions a device for owner and returns it with its heartbeat token.
func (s *Service) RegisterDevice(ctx context.Context, ownerID, name, model, osName string) (*models.Device, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: device name is required", ErrInvalidInput)
	}
	now := s.now()
	d := &models.Device{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Name:            name,
		Model:           strings.TrimSpace(model),
		OS:              strings.TrimSpace(osName),
		NetworkStatus:   models.NetworkNone,
		LocationHistory: []models.DeviceLocation{},
		PendingCommands: []models.RemoteCommand{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateDevice(ctx, d); err != nil {
		return nil, "", fmt.Errorf("register device: %w", err)
	}
	if s.tokens == nil {
		return d, "", nil
	}
	token, err := s.tokens.Issue(d.ID, ownerID)
	if err != nil {
		return nil, "", fmt.Errorf("issue device token: %w", err)
	}
	return d, token, nil
}

// EnsureAdmin creates a SUPER_ADMIN account for email unless one is registered already.
// Reports whether it created the account. An existing account is left as it is.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	_, err = s.store.GetUserByEmail(ctx, normalized)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if _, err := s.Register(ctx, normalized, password, models.RoleSuperAdmin); err != nil {
		return false, err
	}
	return true, nil
}
