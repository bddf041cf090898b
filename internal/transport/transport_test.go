package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	ws "github.com/preetsinghmakkar/TeleConsult/internal/websocket"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestHTTPTransportPollAndPost(t *testing.T) {
	var (
		mu     sync.Mutex
		nonces []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Room-Pin"); got != "0420" {
			t.Errorf("pin header = %q", got)
		}
		if r.URL.Path != "/api/rooms/tok-1/signals" {
			t.Errorf("path = %q", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			if got := r.URL.Query().Get("since"); got != "3" {
				t.Errorf("since = %q, want 3", got)
			}
			mu.Lock()
			nonces = append(nonces, r.URL.Query().Get("_"))
			mu.Unlock()
			writeJSON(w, http.StatusOK, dtos.PollResponse{Success: true, Signals: []dtos.SignalEnvelope{
				{ID: 4, From: "initiator", Data: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)},
			}})
		case http.MethodPost:
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["type"] != "user-left" {
				t.Errorf("post body = %v, err %v", body, err)
			}
			writeJSON(w, http.StatusCreated, dtos.PostResponse{Success: true, ID: 5})
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Room{BaseURL: srv.URL + "/", ID: "tok-1", Credentials: Credentials{PIN: "0420"}}, nil)
	for range 2 {
		got, err := tr.Poll(context.Background(), 3)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(got) != 1 || got[0].ID != 4 {
			t.Fatalf("Poll = %+v", got)
		}
	}
	mu.Lock()
	if len(nonces) != 2 || nonces[0] == "" || nonces[0] == nonces[1] {
		t.Fatalf("nonces = %q, want two distinct values", nonces)
	}
	mu.Unlock()

	id, err := tr.Post(context.Background(), json.RawMessage(`{"type":"user-left"}`))
	if err != nil || id != 5 {
		t.Fatalf("Post = %d, %v", id, err)
	}
}

func TestHTTPTransportMapsRelayErrors(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		want      error
		transient bool
	}{
		{http.StatusUnauthorized, "invalid_pin", errs.ErrInvalidPin, false},
		{http.StatusGone, "link_expired", errs.ErrLinkExpired, false},
		{http.StatusGone, "session_finished", errs.ErrSessionFinished, false},
		{http.StatusServiceUnavailable, "", errs.ErrTransientTransport, true},
		{http.StatusInternalServerError, "internal", errs.ErrTransientTransport, true},
		{http.StatusTeapot, "", nil, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer jwt" {
				t.Errorf("authorization = %q", got)
			}
			writeJSON(w, tt.status, dtos.ErrorResponse{Error: "x", Code: tt.code})
		}))
		tr := NewHTTPTransport(Room{BaseURL: srv.URL, ID: "r", Credentials: Credentials{BearerToken: "jwt", PIN: "1111"}}, nil)
		_, err := tr.Poll(context.Background(), 0)
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Fatalf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		if IsTransient(err) != tt.transient {
			t.Fatalf("status %d: IsTransient = %v, want %v", tt.status, IsTransient(err), tt.transient)
		}
	}
}

func TestHTTPTransportUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport(Room{BaseURL: url, ID: "r"}, nil).Poll(context.Background(), 0)
	if !IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/room-9/ws" || r.URL.Query().Get("access_token") != "jwt" {
			writeJSON(w, http.StatusUnauthorized, dtos.ErrorResponse{Code: "unauthenticated"})
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req ws.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			var resp ws.Response
			switch req.Op {
			case ws.OpPoll:
				resp = ws.Response{ID: req.ID, Success: true, Signals: []dtos.SignalEnvelope{{ID: req.Since + 1, From: "responder"}}}
			case ws.OpPost:
				resp = ws.Response{ID: req.ID, Success: false, Code: "session_finished", Message: "session finished"}
			}
			conn.WriteJSON(resp)
		}
	}))
	defer srv.Close()

	tr := NewWebSocketTransport(Room{BaseURL: srv.URL, ID: "room-9", Credentials: Credentials{BearerToken: "jwt"}}, nil)
	defer tr.Close()

	got, err := tr.Poll(context.Background(), 6)
	if err != nil || len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("Poll = %+v, %v", got, err)
	}
	if _, err := tr.Post(context.Background(), json.RawMessage(`{"type":"user-left"}`)); !errors.Is(err, errs.ErrSessionFinished) {
		t.Fatalf("Post err = %v, want ErrSessionFinished", err)
	}

	denied := NewWebSocketTransport(Room{BaseURL: srv.URL, ID: "room-9"}, nil)
	if _, err := denied.Poll(context.Background(), 0); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("rejected handshake err = %v, want ErrUnauthenticated", err)
	}
}

// scriptedTransport fails with the given errors in order, then succeeds.
type scriptedTransport struct {
	name string

	mu     sync.Mutex
	errs   []error
	calls  int
	closed bool
	block  bool
}

func (s *scriptedTransport) Name() string { return s.name }

func (s *scriptedTransport) next(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	block := s.block
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *scriptedTransport) Poll(ctx context.Context, since int64) ([]dtos.SignalEnvelope, error) {
	if err := s.next(ctx); err != nil {
		return nil, err
	}
	return []dtos.SignalEnvelope{{ID: since + 1, From: s.name}}, nil
}

func (s *scriptedTransport) Post(ctx context.Context, payload json.RawMessage) (int64, error) {
	return 1, s.next(ctx)
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestResilientSwitchesAfterConsecutiveFailures(t *testing.T) {
	transient := errs.ErrTransientTransport
	primary := &scriptedTransport{name: "websocket", errs: []error{
		transient, transient, // two failures, below threshold
		nil,                  // success resets the counter
		transient, errors.New("relay returned 418"), // non-transient resets too
		transient, transient, transient,
	}}
	fallback := &scriptedTransport{name: "http"}
	r := NewResilient(primary, fallback, ResilientOptions{RequestTimeout: time.Second, FailureThreshold: 3})

	for i := range 7 {
		r.Poll(context.Background(), 0)
		if r.Switched() {
			t.Fatalf("switched early after call %d", i+1)
		}
	}
	r.Poll(context.Background(), 0)
	if !r.Switched() || r.Name() != "http" {
		t.Fatalf("Switched = %v, Name = %q after third consecutive failure", r.Switched(), r.Name())
	}
	if !primary.closed {
		t.Fatal("primary not closed after switch")
	}

	got, err := r.Poll(context.Background(), 10)
	if err != nil || got[0].From != "http" {
		t.Fatalf("Poll after switch = %+v, %v", got, err)
	}

	// Sticky: fallback failures never switch back.
	fallback.errs = []error{transient, transient, transient, transient}
	for range 4 {
		r.Poll(context.Background(), 0)
	}
	if r.Name() != "http" || primary.calls != 8 {
		t.Fatalf("Name = %q, primary calls = %d; fallback must stay selected", r.Name(), primary.calls)
	}
}

func TestResilientTerminalErrorsDoNotSwitch(t *testing.T) {
	primary := &scriptedTransport{name: "websocket", errs: []error{errs.ErrSessionFinished, errs.ErrSessionFinished, errs.ErrSessionFinished}}
	r := NewResilient(primary, &scriptedTransport{name: "http"}, ResilientOptions{FailureThreshold: 2})
	for range 3 {
		if _, err := r.Poll(context.Background(), 0); !errors.Is(err, errs.ErrSessionFinished) {
			t.Fatalf("err = %v", err)
		}
	}
	if r.Switched() {
		t.Fatal("terminal errors must not trigger a transport switch")
	}
}

func TestResilientAppliesRequestTimeout(t *testing.T) {
	primary := &scriptedTransport{name: "websocket", block: true}
	r := NewResilient(primary, &scriptedTransport{name: "http"}, ResilientOptions{RequestTimeout: 10 * time.Millisecond, FailureThreshold: 2})

	for range 2 {
		start := time.Now()
		_, err := r.Poll(context.Background(), 0)
		if !IsTransient(err) {
			t.Fatalf("err = %v, want timeout", err)
		}
		if time.Since(start) > time.Second {
			t.Fatal("request timeout not applied")
		}
	}
	if !r.Switched() {
		t.Fatal("timeouts should count as consecutive failures")
	}
}

func TestResilientCallerCancelIsNotAFailure(t *testing.T) {
	primary := &scriptedTransport{name: "websocket", block: true}
	r := NewResilient(primary, &scriptedTransport{name: "http"}, ResilientOptions{RequestTimeout: time.Second, FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Poll(ctx, 0); err == nil || strings.Contains(err.Error(), "deadline") {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if r.Switched() {
		t.Fatal("caller cancellation must not count as a transport failure")
	}
}
