package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/audit"
	"github.com/AnshRaj112/safemobile-backend/internal/commands"
	"github.com/AnshRaj112/safemobile-backend/internal/devicetoken"
	"github.com/AnshRaj112/safemobile-backend/internal/export"
	"github.com/AnshRaj112/safemobile-backend/internal/fleet"
	"github.com/AnshRaj112/safemobile-backend/internal/handlers"
	"github.com/AnshRaj112/safemobile-backend/internal/heartbeat"
	"github.com/AnshRaj112/safemobile-backend/internal/history"
	"github.com/AnshRaj112/safemobile-backend/internal/identity"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/routes"
	"github.com/AnshRaj112/safemobile-backend/internal/store/memstore"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	store  *memstore.Store
	audits *audit.MemoryRepository
	ident  *identity.Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memstore.New()
	repo := audit.NewMemoryRepository()
	logger := audit.NewLogger(repo)
	hub := notify.NewHub()
	pub := notify.LocalPublisher{Hub: hub}
	tokens, err := devicetoken.NewIssuer("handler-test-secret-0123", 0)
	if err != nil {
		t.Fatal(err)
	}
	ident := identity.NewService(identity.Options{Store: st, Audit: logger, Tokens: tokens, Publisher: pub})
	rec, err := history.NewRecorder(st, history.DefaultCapacity, nil)
	if err != nil {
		t.Fatal(err)
	}
	proc, err := heartbeat.NewProcessor(heartbeat.Options{Store: st, Recorder: rec, Notifier: pub})
	if err != nil {
		t.Fatal(err)
	}

	h := &handlers.Handler{
		Store:     st,
		Identity:  ident,
		Commands:  commands.NewDispatcher(st, logger, pub),
		Recorder:  rec,
		Processor: proc,
		Fleet:     fleet.NewAggregator(st, fleet.DefaultActivityWindow),
		Audit:     logger,
		Exporter:  export.NewExporter(st, logger, nil),
		Hub:       hub,
	}
	r := chi.NewRouter()
	routes.SetupRoutes(r, h, routes.Options{Sessions: ident, DeviceTokens: tokens})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, store: st, audits: repo, ident: ident}
}

// do sends a JSON request and decodes the JSON reply into a generic map.
func (e *testEnv) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *testEnv) signup(email string, role models.Role) string {
	e.t.Helper()
	if role == models.RoleUser {
		if code, body := e.do("POST", "/api/auth/signup", "", map[string]string{"email": email, "password": "correct-horse"}); code != http.StatusCreated {
			e.t.Fatalf("signup %s: %d %v", email, code, body)
		}
	} else if _, err := e.ident.Register(context.Background(), email, "correct-horse", role); err != nil {
		e.t.Fatal(err)
	}
	code, body := e.do("POST", "/api/auth/signin", "", map[string]string{"email": email, "password": "correct-horse"})
	if code != http.StatusOK {
		e.t.Fatalf("signin %s: %d %v", email, code, body)
	}
	return body["token"].(string)
}

func (e *testEnv) registerDevice(session string) (id, token string) {
	e.t.Helper()
	code, body := e.do("POST", "/api/devices", session, map[string]string{"name": "Pixel", "model": "8a", "os": "Android 15"})
	if code != http.StatusCreated {
		e.t.Fatalf("register device: %d %v", code, body)
	}
	return body["device"].(map[string]interface{})["id"].(string), body["device_token"].(string)
}

func heartbeatBody(accuracy float64) map[string]interface{} {
	return map[string]interface{}{
		"lat": 12.97, "lng": 77.59, "accuracy": accuracy,
		"timestamp": "2025-03-01T10:00:00Z", "battery": 80, "network": "wifi",
	}
}

func TestAuthFlow(t *testing.T) {
	e := newEnv(t)
	e.signup("owner@example.com", models.RoleUser)

	if code, _ := e.do("POST", "/api/auth/signup", "", map[string]string{"email": "OWNER@example.com", "password": "another-pass"}); code != http.StatusConflict {
		t.Errorf("duplicate signup: %d, want 409", code)
	}
	if code, _ := e.do("POST", "/api/auth/signup", "", map[string]string{"email": "x@example.com", "password": "short"}); code != http.StatusBadRequest {
		t.Errorf("short password: %d, want 400", code)
	}
	if code, _ := e.do("POST", "/api/auth/signin", "", map[string]string{"email": "owner@example.com", "password": "wrong-password"}); code != http.StatusUnauthorized {
		t.Errorf("wrong password: %d, want 401", code)
	}
	if code, _ := e.do("GET", "/api/devices", "", nil); code != http.StatusUnauthorized {
		t.Errorf("no session: %d, want 401", code)
	}
}

func TestCommandThenHeartbeat(t *testing.T) {
	e := newEnv(t)
	owner := e.signup("owner@example.com", models.RoleUser)
	devID, devToken := e.registerDevice(owner)

	code, body := e.do("POST", "/api/devices/"+devID+"/commands", owner, map[string]string{"type": "lock"})
	if code != http.StatusAccepted || body["command_id"] == "" {
		t.Fatalf("command: %d %v", code, body)
	}

	code, body = e.do("POST", "/api/device/heartbeat", devToken, heartbeatBody(15))
	if code != http.StatusOK {
		t.Fatalf("heartbeat: %d %v", code, body)
	}
	res := body["result"].(map[string]interface{})
	if res["outcome"] != string(heartbeat.OutcomeCommitted) {
		t.Errorf("outcome = %v", res["outcome"])
	}
	if exec, ok := res["executed"].(map[string]interface{}); !ok || exec["type"] != "LOCK" {
		t.Errorf("executed = %v", res["executed"])
	}

	_, body = e.do("GET", "/api/devices/"+devID, owner, nil)
	dev := body["device"].(map[string]interface{})
	if dev["locked"] != true || dev["battery_level"].(float64) != 80 {
		t.Errorf("device = %v", dev)
	}

	_, body = e.do("GET", "/api/devices/"+devID+"/history", owner, nil)
	if body["count"].(float64) != 1 {
		t.Errorf("history = %v", body)
	}
}

func TestHeartbeat_ImpreciseFixRejected(t *testing.T) {
	e := newEnv(t)
	owner := e.signup("owner@example.com", models.RoleUser)
	devID, devToken := e.registerDevice(owner)

	_, body := e.do("POST", "/api/device/heartbeat", devToken, heartbeatBody(45))
	res := body["result"].(map[string]interface{})
	if res["outcome"] != string(heartbeat.OutcomeRejected) || res["reason"] != "precision" {
		t.Errorf("result = %v", res)
	}
	d, _ := e.store.GetDevice(context.Background(), devID)
	if d.LastLocation != nil || len(d.LocationHistory) != 0 {
		t.Errorf("rejected fix was stored: %+v", d)
	}
}

func TestHeartbeat_MissingPositionFields(t *testing.T) {
	e := newEnv(t)
	owner := e.signup("owner@example.com", models.RoleUser)
	devID, devToken := e.registerDevice(owner)
	if code, body := e.do("POST", "/api/devices/"+devID+"/commands", owner, map[string]string{"type": "WIPE"}); code != http.StatusAccepted {
		t.Fatalf("command: %d %v", code, body)
	}

	noAccuracy := heartbeatBody(10)
	delete(noAccuracy, "accuracy")
	bodies := map[string]map[string]interface{}{
		"empty":       {},
		"no accuracy": noAccuracy,
	}
	for name, hb := range bodies {
		t.Run(name, func(t *testing.T) {
			if code, body := e.do("POST", "/api/device/heartbeat", devToken, hb); code != http.StatusBadRequest {
				t.Errorf("code = %d %v, want 400", code, body)
			}
		})
	}

	d, _ := e.store.GetDevice(context.Background(), devID)
	if d.LastLocation != nil || len(d.LocationHistory) != 0 {
		t.Errorf("fix without position fields was stored: %+v", d.LastLocation)
	}
	if len(d.PendingCommands) != 1 || d.PendingCommands[0].IsExecuted {
		t.Errorf("WIPE drained by an invalid heartbeat: %+v", d.PendingCommands)
	}
}

func TestSetPower(t *testing.T) {
	e := newEnv(t)
	owner := e.signup("owner@example.com", models.RoleUser)
	other := e.signup("other@example.com", models.RoleUser)
	admin := e.signup("ops@example.com", models.RoleAdmin)
	devID, _ := e.registerDevice(owner)
	path := "/api/devices/" + devID + "/power"

	if code, _ := e.do("PUT", path, owner, map[string]string{}); code != http.StatusBadRequest {
		t.Errorf("missing powered_off: %d, want 400", code)
	}
	if code, _ := e.do("PUT", path, other, map[string]bool{"powered_off": true}); code != http.StatusForbidden {
		t.Errorf("stranger: %d, want 403", code)
	}
	if code, body := e.do("PUT", path, owner, map[string]bool{"powered_off": true}); code != http.StatusOK {
		t.Fatalf("power off: %d %v", code, body)
	}

	_, body := e.do("GET", "/api/admin/fleet", admin, nil)
	devices := body["snapshot"].(map[string]interface{})["devices"].([]interface{})
	if len(devices) != 1 || devices[0].(map[string]interface{})["powered_off"] != true {
		t.Errorf("fleet devices = %v", devices)
	}
}

func TestHeartbeat_BadToken(t *testing.T) {
	e := newEnv(t)
	if code, _ := e.do("POST", "/api/device/heartbeat", "forged", heartbeatBody(10)); code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", code)
	}
}

func TestDeviceAccess(t *testing.T) {
	e := newEnv(t)
	owner := e.signup("owner@example.com", models.RoleUser)
	other := e.signup("other@example.com", models.RoleUser)
	admin := e.signup("ops@example.com", models.RoleAdmin)
	devID, _ := e.registerDevice(owner)

	if code, _ := e.do("GET", "/api/devices/"+devID, other, nil); code != http.StatusNotFound {
		t.Errorf("stranger read: %d, want 404", code)
	}
	if code, _ := e.do("POST", "/api/devices/"+devID+"/commands", other, map[string]string{"type": "WIPE"}); code != http.StatusForbidden {
		t.Errorf("stranger command: %d, want 403", code)
	}
	if code, _ := e.do("POST", "/api/devices/"+devID+"/commands", owner, map[string]string{"type": "REBOOT"}); code != http.StatusBadRequest {
		t.Errorf("unknown type: %d, want 400", code)
	}
	if code, _ := e.do("POST", "/api/devices/nope/commands", owner, map[string]string{"type": "LOCK"}); code != http.StatusNotFound {
		t.Errorf("unknown device: %d, want 404", code)
	}
	if code, _ := e.do("GET", "/api/devices/"+devID, admin, nil); code != http.StatusOK {
		t.Errorf("admin read: %d, want 200", code)
	}

	_, body := e.do("GET", "/api/devices", other, nil)
	if body["count"].(float64) != 0 {
		t.Errorf("other user lists %v devices", body["count"])
	}
}

func TestAdminRoutes(t *testing.T) {
	e := newEnv(t)
	owner := e.signup("owner@example.com", models.RoleUser)
	admin := e.signup("ops@example.com", models.RoleAdmin)
	_, devToken := e.registerDevice(owner)
	e.do("POST", "/api/device/heartbeat", devToken, heartbeatBody(10))

	if code, _ := e.do("GET", "/api/admin/fleet", owner, nil); code != http.StatusForbidden {
		t.Errorf("owner on admin route: %d, want 403", code)
	}

	code, body := e.do("GET", "/api/admin/fleet", admin, nil)
	if code != http.StatusOK {
		t.Fatalf("fleet: %d %v", code, body)
	}
	snap := body["snapshot"].(map[string]interface{})
	if snap["total_users"].(float64) != 2 || snap["active_device_count"].(float64) != 1 {
		t.Errorf("snapshot = %v", snap)
	}
	if pts := body["map"].([]interface{}); len(pts) != 1 {
		t.Errorf("map = %v", pts)
	}

	ownerUser, _ := e.store.GetUserByEmail(context.Background(), "owner@example.com")
	if code, _ := e.do("PUT", "/api/admin/users/"+ownerUser.ID+"/block", admin, nil); code != http.StatusOK {
		t.Fatalf("block: %d", code)
	}
	if code, _ := e.do("GET", "/api/devices", owner, nil); code != http.StatusUnauthorized {
		t.Errorf("blocked session still valid: %d", code)
	}
	if code, _ := e.do("POST", "/api/auth/signin", "", map[string]string{"email": "owner@example.com", "password": "correct-horse"}); code != http.StatusForbidden {
		t.Errorf("blocked signin: %d, want 403", code)
	}

	code, body = e.do("GET", "/api/admin/users/"+ownerUser.ID, admin, nil)
	if code != http.StatusOK || len(body["devices"].([]interface{})) != 1 {
		t.Errorf("inspect: %d %v", code, body)
	}

	code, body = e.do("DELETE", "/api/admin/users/"+ownerUser.ID, admin, nil)
	if code != http.StatusOK || len(body["removed_devices"].([]interface{})) != 1 {
		t.Fatalf("purge: %d %v", code, body)
	}
	if code, _ := e.do("POST", "/api/device/heartbeat", devToken, heartbeatBody(10)); code != http.StatusGone {
		t.Errorf("heartbeat after purge: %d, want 410", code)
	}
	if code, _ := e.do("GET", "/api/admin/users/"+ownerUser.ID, admin, nil); code != http.StatusNotFound {
		t.Errorf("inspect purged user: %d, want 404", code)
	}
	code, body = e.do("GET", "/api/admin/audit-logs?limit=50", admin, nil)
	if code != http.StatusOK || body["count"].(float64) < 3 {
		t.Errorf("audit logs: %d %v", code, body)
	}
}

func TestExportDownload(t *testing.T) {
	e := newEnv(t)
	admin := e.signup("ops@example.com", models.RoleSuperAdmin)

	req, _ := http.NewRequest("POST", e.srv.URL+"/api/admin/export", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment") {
		t.Fatalf("export: %d %v", resp.StatusCode, resp.Header)
	}
	var doc export.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Users) != 1 {
		t.Errorf("users = %d", len(doc.Users))
	}

	last := e.audits.Entries()[len(e.audits.Entries())-1]
	if last.Action != models.ActionDBExport {
		t.Errorf("last audit action = %s", last.Action)
	}
}

func TestDeviceFeed(t *testing.T) {
	e := newEnv(t)
	owner := e.signup("owner@example.com", models.RoleUser)
	devID, _ := e.registerDevice(owner)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/devices/" + devID + "?token=" + owner
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != "snapshot" || ev.Device == nil {
		t.Fatalf("first message = %+v, %v", ev, err)
	}

	e.do("POST", "/api/devices/"+devID+"/commands", owner, map[string]string{"type": "SIREN"})
	ev = notify.Event{}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != notify.EventCommandEnqueued || ev.CommandID == "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	code, body := e.do("GET", "/health", "", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", code, body)
	}
}
