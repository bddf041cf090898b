package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/handlers"
	"github.com/preetsinghmakkar/TeleConsult/internal/middlewares"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
	"github.com/preetsinghmakkar/TeleConsult/internal/utils"
	ws "github.com/preetsinghmakkar/TeleConsult/internal/websocket"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func init() {
	utils.AccessCodeCost = bcrypt.MinCost
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store     *memStore
	router    *gin.Engine
	clinician models.User
	patient   models.User
	admin     models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	hub := ws.NewHub()
	lifecycle := services.NewVideoSessionService(store, nil, nil, hub, "https://clinic.example")
	access := services.NewAccessService(store)
	signaling := services.NewSignalingService(store, 200)

	router := SetupRouter(Handlers{
		Health:    handlers.NewHealthHandler(nil),
		Sessions:  handlers.NewSessionHandler(lifecycle),
		Rooms:     handlers.NewRoomHandler(access, signaling, time.Second, []string{"stun:stun.l.google.com:19302"}),
		WebSocket: handlers.NewWebSocketHandler(signaling, hub, 1<<16, nil),
		Access:    access,
	}, testSecret, nil, false)

	return &fixture{
		store:     store,
		router:    router,
		clinician: models.User{ID: uuid.New(), Role: models.UserRoleClinician},
		patient:   models.User{ID: uuid.New(), Role: models.UserRolePatient},
		admin:     models.User{ID: uuid.New(), Role: models.UserRoleAdmin},
	}
}

func (f *fixture) token(t *testing.T, user models.User) string {
	t.Helper()
	tok, err := utils.GenerateAccessToken(user, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) bearer(t *testing.T, user models.User) map[string]string {
	return map[string]string{"Authorization": "Bearer " + f.token(t, user)}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func (f *fixture) createSession(t *testing.T) dtos.CreateSessionResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"patient_id":       f.patient.ID,
		"start_at":         time.Now().Add(time.Hour).UTC(),
		"duration_minutes": 30,
		"reason":           "follow-up",
	}, f.bearer(t, f.clinician))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[dtos.CreateSessionResponse](t, rec)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/health", "/ready"} {
		if rec := f.do(t, http.MethodGet, path, nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)

	if created.State != string(models.VideoSessionStateScheduled) {
		t.Fatalf("state = %q, want scheduled", created.State)
	}
	if created.ClinicianID != f.clinician.ID {
		t.Fatalf("clinician = %v, want caller %v", created.ClinicianID, f.clinician.ID)
	}
	if created.LinkToken == "" || created.RoomID == "" || len(created.PIN) != 4 || created.AccessCode == "" {
		t.Fatalf("missing credentials: %+v", created)
	}
	if !strings.HasPrefix(created.AccessLink, "https://clinic.example/consult/") {
		t.Fatalf("access link = %q", created.AccessLink)
	}
	if got := created.LinkExpiresAt.Sub(created.EndAt); got != models.LinkTTL {
		t.Fatalf("link expiry offset = %v, want %v", got, models.LinkTTL)
	}
}

func TestProtectedRoutesRequireStaff(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"patient_id": f.patient.ID, "start_at": time.Now().Add(time.Hour), "duration_minutes": 30}

	rec := f.do(t, http.MethodPost, "/api/sessions", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/sessions", body, map[string]string{"Authorization": "Bearer garbage"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/sessions", body, f.bearer(t, f.patient))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("patient: status = %d, want 403", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/maintenance/sweep", nil, f.bearer(t, f.clinician))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("clinician sweep: status = %d, want 403", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/maintenance/sweep", nil, f.bearer(t, f.admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin sweep: status = %d, want 200", rec.Code)
	}
}

func TestGetSessionHidesCredentialsFromPatient(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)
	path := "/api/sessions/" + created.ID.String()

	rec := f.do(t, http.MethodGet, path, nil, f.bearer(t, f.patient))
	if rec.Code != http.StatusOK {
		t.Fatalf("patient get status = %d", rec.Code)
	}
	if got := decode[dtos.VideoSessionResponse](t, rec); got.PIN != "" || got.LinkToken != "" {
		t.Fatalf("patient sees credentials: %+v", got)
	}

	stranger := models.User{ID: uuid.New(), Role: models.UserRolePatient}
	if rec := f.do(t, http.MethodGet, path, nil, f.bearer(t, stranger)); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger get status = %d, want 403", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), nil, f.bearer(t, f.admin)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestGuestJoinAndSignalRelay(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)
	guest := map[string]string{middlewares.PinHeader: created.PIN}
	clinician := f.bearer(t, f.clinician)

	rec := f.do(t, http.MethodPost, "/api/rooms/"+created.LinkToken+"/join", nil, guest)
	if rec.Code != http.StatusOK {
		t.Fatalf("guest join status = %d, body %s", rec.Code, rec.Body.String())
	}
	join := decode[dtos.JoinRoomResponse](t, rec)
	if join.Role != string(models.PeerRoleResponder) || join.State != string(models.VideoSessionStateActive) {
		t.Fatalf("join = %+v, want responder in active room", join)
	}
	if join.RoomID != created.RoomID || join.PollIntervalMS != 1000 || len(join.ICEServers) != 1 {
		t.Fatalf("join = %+v", join)
	}

	rec = f.do(t, http.MethodPost, "/api/rooms/"+created.RoomID+"/join", nil, clinician)
	if got := decode[dtos.JoinRoomResponse](t, rec); got.Role != string(models.PeerRoleInitiator) {
		t.Fatalf("clinician role = %q, want initiator", got.Role)
	}

	rec = f.do(t, http.MethodPost, "/api/rooms/"+created.RoomID+"/signals", `{"type":"offer","sdp":"v=0","negotiation":"n1"}`, clinician)
	if rec.Code != http.StatusCreated {
		t.Fatalf("post status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/rooms/"+created.LinkToken+"/signals?since=0", nil, guest)
	poll := decode[dtos.PollResponse](t, rec)
	if len(poll.Signals) != 1 {
		t.Fatalf("poll returned %d signals, want 1", len(poll.Signals))
	}
	sig := poll.Signals[0]
	if sig.From != string(models.PeerRoleInitiator) || sig.ID != 1 {
		t.Fatalf("signal = %+v", sig)
	}
	var payload models.SignalPayload
	if err := json.Unmarshal(sig.Data, &payload); err != nil || payload.Type != models.SignalTypeOffer || payload.Negotiation != "n1" {
		t.Fatalf("payload = %+v, err %v", payload, err)
	}

	rec = f.do(t, http.MethodGet, "/api/rooms/"+created.LinkToken+"/signals?since=1", nil, guest)
	if got := decode[dtos.PollResponse](t, rec); len(got.Signals) != 0 {
		t.Fatalf("poll since=1 returned %d signals, want 0", len(got.Signals))
	}
}

func TestRoomAccessFailures(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)
	wrong := "0000"
	if created.PIN == wrong {
		wrong = "1111"
	}

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
		code    string
	}{
		{"wrong pin", "/api/rooms/" + created.LinkToken + "/join", map[string]string{middlewares.PinHeader: wrong}, http.StatusUnauthorized, "invalid_pin"},
		{"unknown room", "/api/rooms/nope/join", map[string]string{middlewares.PinHeader: created.PIN}, http.StatusUnauthorized, "invalid_pin"},
		{"no credential", "/api/rooms/" + created.RoomID + "/join", nil, http.StatusUnauthorized, "invalid_pin"},
		{"stranger", "/api/rooms/" + created.RoomID + "/join", f.bearer(t, models.User{ID: uuid.New(), Role: models.UserRolePatient}), http.StatusForbidden, "access_denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, nil, tt.headers)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decode[dtos.ErrorResponse](t, rec); got.Code != tt.code || got.Success {
				t.Fatalf("error = %+v, want code %q", got, tt.code)
			}
		})
	}

	if s, _ := f.store.GetByRoomID(t.Context(), created.RoomID); s.State != models.VideoSessionStateScheduled {
		t.Fatalf("failed joins changed state to %q", s.State)
	}
}

func TestSignalsRejectedAfterFinish(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)
	clinician := f.bearer(t, f.clinician)

	if rec := f.do(t, http.MethodPost, "/api/rooms/"+created.RoomID+"/signals", `{"type":"offer"}`, clinician); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed offer status = %d, want 400", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/sessions/"+created.ID.String()+"/finish", `{"actual_duration_seconds":90}`, clinician)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[dtos.VideoSessionResponse](t, rec); got.State != "finished" || got.ActualDurationSeconds == nil || *got.ActualDurationSeconds != 90 {
		t.Fatalf("finished session = %+v", got)
	}

	rec = f.do(t, http.MethodPost, "/api/rooms/"+created.RoomID+"/signals", `{"type":"user-left"}`, clinician)
	if rec.Code != http.StatusGone || decode[dtos.ErrorResponse](t, rec).Code != "session_finished" {
		t.Fatalf("post after finish: status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/api/rooms/"+created.LinkToken+"/join", nil, map[string]string{middlewares.PinHeader: created.PIN})
	if rec.Code != http.StatusGone {
		t.Fatalf("join after finish: status = %d, want 410", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/sessions/"+created.ID.String()+"/cancel", nil, clinician)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel after finish: status = %d, want 409", rec.Code)
	}
}

func TestWebSocketRelay(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	base := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/rooms/"
	dial := func(url string) *websocket.Conn {
		t.Helper()
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", url, err)
		}
		return conn
	}
	roundTrip := func(conn *websocket.Conn, req ws.Request) ws.Response {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write: %v", err)
		}
		var resp ws.Response
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.ID != req.ID {
			t.Fatalf("response id = %d, want %d", resp.ID, req.ID)
		}
		return resp
	}

	initiator := dial(base + created.RoomID + "/ws?access_token=" + f.token(t, f.clinician))
	defer initiator.Close()
	responder := dial(base + created.LinkToken + "/ws?pin=" + created.PIN)
	defer responder.Close()

	resp := roundTrip(initiator, ws.Request{ID: 1, Op: ws.OpPost, Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)})
	if !resp.Success || resp.SignalID != 1 {
		t.Fatalf("post = %+v", resp)
	}

	resp = roundTrip(responder, ws.Request{ID: 7, Op: ws.OpPoll, Since: 0})
	if !resp.Success || len(resp.Signals) != 1 || resp.Signals[0].From != string(models.PeerRoleInitiator) {
		t.Fatalf("poll = %+v", resp)
	}

	resp = roundTrip(responder, ws.Request{ID: 8, Op: ws.OpPost, Data: json.RawMessage(`{"type":"answer"}`)})
	if resp.Success || resp.Code != "signal_parse_error" {
		t.Fatalf("malformed post = %+v", resp)
	}

	resp = roundTrip(responder, ws.Request{ID: 9, Op: "subscribe"})
	if resp.Success || resp.Code != "invalid_request" {
		t.Fatalf("unknown op = %+v", resp)
	}

	rec := f.do(t, http.MethodPost, "/api/sessions/"+created.ID.String()+"/finish", nil, f.bearer(t, f.clinician))
	if rec.Code != http.StatusOK {
		t.Fatalf("finish status = %d", rec.Code)
	}

	responder.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := responder.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("socket was not closed after finish")
		}
		break
	}
}
