package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/audit"
	"github.com/AnshRaj112/safemobile-backend/internal/devicetoken"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"github.com/AnshRaj112/safemobile-backend/internal/store/memstore"
)

type fixture struct {
	svc   *Service
	store *memstore.Store
	audit *audit.MemoryRepository
	hub   *notify.Hub
	admin *models.User
	user  *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	repo := audit.NewMemoryRepository()
	tokens, err := devicetoken.NewIssuer("identity-test-secret-0123", 0)
	if err != nil {
		t.Fatal(err)
	}
	hub := notify.NewHub()
	svc := NewService(Options{
		Store:                s,
		Audit:                audit.NewLogger(repo),
		Tokens:               tokens,
		Publisher:            notify.LocalPublisher{Hub: hub},
		LoginHistoryCapacity: 3,
	})
	admin, err := svc.Register(ctx, "Root@Safe.Mobile", "correct-horse", models.RoleAdmin)
	if err != nil {
		t.Fatalf("Register admin: %v", err)
	}
	user, err := svc.Register(ctx, "owner@safe.mobile", "battery-staple", "")
	if err != nil {
		t.Fatalf("Register user: %v", err)
	}
	return &fixture{svc: svc, store: s, audit: repo, hub: hub, admin: admin, user: user}
}

func asActor(u *models.User) models.Actor {
	return models.Actor{ID: u.ID, Email: u.Email, Role: u.Role}
}

func TestPassword_RoundTrip(t *testing.T) {
	h, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := VerifyPassword("s3cret-pass", h); !ok || err != nil {
		t.Errorf("verify own hash = %v, %v", ok, err)
	}
	if ok, _ := VerifyPassword("wrong", h); ok {
		t.Error("wrong password accepted")
	}
	if _, err := VerifyPassword("x", "plain-text"); err == nil {
		t.Error("malformed hash accepted")
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.admin.Email != "root@safe.mobile" || f.user.Role != models.RoleUser {
		t.Errorf("normalization: %s / %s", f.admin.Email, f.user.Role)
	}
	if f.user.PasswordHash == "battery-staple" || f.user.PasswordHash == "" {
		t.Error("password stored in clear")
	}
	if _, err := f.svc.Register(ctx, "OWNER@safe.mobile", "another-pass", ""); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate email: %v", err)
	}
	if _, err := f.svc.Register(ctx, "not an email", "long-enough", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad email: %v", err)
	}
	if _, err := f.svc.Register(ctx, "new@safe.mobile", "short", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("short password: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.Authenticate(ctx, "owner@safe.mobile", "nope", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: %v", err)
	}
	if _, _, err := f.svc.Authenticate(ctx, "ghost@safe.mobile", "whatever", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: %v", err)
	}

	token, u, err := f.svc.Authenticate(ctx, "Owner@safe.mobile", "battery-staple", "10.0.0.1")
	if err != nil || token == "" || u.ID != f.user.ID {
		t.Fatalf("Authenticate = %q, %v, %v", token, u, err)
	}
	resolved, err := f.svc.Resolve(ctx, token)
	if err != nil || resolved.ID != f.user.ID {
		t.Errorf("Resolve = %v, %v", resolved, err)
	}

	stored, _ := f.store.GetUser(ctx, f.user.ID)
	if len(stored.LoginHistory) != 2 || stored.LoginHistory[0].Status != models.LoginFailed || stored.LoginHistory[1].Status != models.LoginSuccess {
		t.Errorf("login history = %+v", stored.LoginHistory)
	}
	if stored.LastLogin == nil {
		t.Error("last login not set")
	}

	for i := 0; i < 5; i++ {
		f.svc.Authenticate(ctx, "owner@safe.mobile", "nope", "10.0.0.2")
	}
	stored, _ = f.store.GetUser(ctx, f.user.ID)
	if len(stored.LoginHistory) != 3 {
		t.Errorf("login history not bounded: %d", len(stored.LoginHistory))
	}
}

func TestAuthenticate_UnknownEmailStillVerifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var hashes []string
	f.svc.verify = func(password, encoded string) (bool, error) {
		hashes = append(hashes, encoded)
		return VerifyPassword(password, encoded)
	}

	if _, _, err := f.svc.Authenticate(ctx, "ghost@safe.mobile", "whatever", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}
	if len(hashes) != 1 || !strings.HasPrefix(hashes[0], "$argon2id$") {
		t.Fatalf("unknown email verified against %q, want one argon2id hash", hashes)
	}
	if ok, err := VerifyPassword("whatever", hashes[0]); ok || err != nil {
		t.Errorf("decoy hash accepted a password: %v, %v", ok, err)
	}

	f.svc.Authenticate(ctx, "owner@safe.mobile", "nope", "10.0.0.1")
	if len(hashes) != 2 {
		t.Errorf("known and unknown emails should both verify once, got %d calls", len(hashes))
	}
	if entries := f.audit.Entries(); len(entries) != 1 {
		t.Errorf("unknown email must not be audited against a user: %+v", entries)
	}
}

func TestSetBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, _, err := f.svc.Authenticate(ctx, "owner@safe.mobile", "battery-staple", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.SetBlocked(ctx, asActor(f.user), f.admin.ID, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin block: %v", err)
	}
	if err := f.svc.SetBlocked(ctx, asActor(f.admin), f.user.ID, true); err != nil {
		t.Fatalf("SetBlocked: %v", err)
	}

	if _, err := f.svc.Resolve(ctx, token); err == nil {
		t.Error("blocked user kept a live session")
	}
	if _, _, err := f.svc.Authenticate(ctx, "owner@safe.mobile", "battery-staple", ""); !errors.Is(err, ErrBlocked) {
		t.Errorf("blocked sign-in: %v", err)
	}

	var found bool
	for _, e := range f.audit.Entries() {
		if e.Action == models.ActionUserBlock && e.TargetID == f.user.ID && e.Severity == models.SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Error("no USER_BLOCK audit entry")
	}

	if err := f.svc.SetBlocked(ctx, asActor(f.admin), f.user.ID, false); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, _, err := f.svc.Authenticate(ctx, "owner@safe.mobile", "battery-staple", ""); err != nil {
		t.Errorf("unblocked sign-in: %v", err)
	}
}

func TestPurge_CascadesAndAnnounces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, token, err := f.svc.RegisterDevice(ctx, f.user.ID, "Pixel", "8", "Android 15")
	if err != nil || token == "" {
		t.Fatalf("RegisterDevice = %v, %q, %v", d, token, err)
	}
	events, cancel := f.hub.Subscribe(d.ID)
	defer cancel()

	if _, err := f.svc.Purge(ctx, asActor(f.user), f.admin.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin purge: %v", err)
	}
	removed, err := f.svc.Purge(ctx, asActor(f.admin), f.user.ID)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(removed) != 1 || removed[0] != d.ID {
		t.Errorf("removed = %v", removed)
	}
	if _, err := f.store.GetDevice(ctx, d.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("device survived purge: %v", err)
	}

	select {
	case e := <-events:
		if e.Type != notify.EventDeviceRemoved {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no device_removed event")
	}

	entries := f.audit.Entries()
	last := entries[len(entries)-1]
	if last.Action != models.ActionUserDelete || last.Severity != models.SeverityCritical {
		t.Errorf("audit = %+v", last)
	}
}

func TestInspect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.RegisterDevice(ctx, f.user.ID, "Pixel", "", "")

	p, err := f.svc.Inspect(ctx, asActor(f.admin), f.user.ID)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if p.User.ID != f.user.ID || len(p.Devices) != 1 {
		t.Errorf("profile = %+v", p)
	}
	if _, err := f.svc.Inspect(ctx, asActor(f.user), f.admin.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin inspect: %v", err)
	}
}

func TestRegisterDevice_TokenIdentifiesDevice(t *testing.T) {
	f := newFixture(t)
	iss, _ := devicetoken.NewIssuer("identity-test-secret-0123", 0)

	d, token, err := f.svc.RegisterDevice(context.Background(), f.user.ID, "Galaxy", "S24", "Android")
	if err != nil {
		t.Fatal(err)
	}
	c, err := iss.Validate(token)
	if err != nil || c.Subject != d.ID || c.OwnerID != f.user.ID {
		t.Errorf("claims = %+v, %v", c, err)
	}
	if _, _, err := f.svc.RegisterDevice(context.Background(), "ghost", "X", "", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown owner: %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.EnsureAdmin(ctx, "Boot@Safe.Mobile", "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin: created=%v err=%v", created, err)
	}
	u, err := f.store.GetUserByEmail(ctx, "boot@safe.mobile")
	if err != nil || u.Role != models.RoleSuperAdmin {
		t.Fatalf("bootstrap user = %+v, %v", u, err)
	}

	created, err = f.svc.EnsureAdmin(ctx, "boot@safe.mobile", "another-pass")
	if err != nil || created {
		t.Errorf("second EnsureAdmin: created=%v err=%v", created, err)
	}
	if created, _ := f.svc.EnsureAdmin(ctx, "owner@safe.mobile", "whatever-pass"); created {
		t.Error("existing user account was replaced")
	}
}
