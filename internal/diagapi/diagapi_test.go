package diagapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/comobject"
	"github.com/nerrad567/knx-tpuart-gateway/internal/device"
	"github.com/nerrad567/knx-tpuart-gateway/internal/dpt"
	"github.com/nerrad567/knx-tpuart-gateway/internal/eventlog"
	"github.com/nerrad567/knx-tpuart-gateway/internal/tpuart"
)

const testSecret = "test-secret"

// fakePort is a minimal tpuart.SerialPort double, local to this
// package's tests.
type fakePort struct {
	mu      sync.Mutex
	inbound []byte
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inbound) == 0 {
		return 0, nil
	}
	n := copy(buf, p.inbound)
	p.inbound = p.inbound[n:]
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) { return len(buf), nil }
func (p *fakePort) Close() error                  { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	port := &fakePort{inbound: []byte{0x03}}
	link := tpuart.New(0x1101, func() (tpuart.SerialPort, error) { return port, nil })

	ga := address.Group{Main: 1, Middle: 2, Sub: 3}
	obj, err := comobject.New(ga, dpt.Switch, comobject.IndicatorCommunication|comobject.IndicatorRead|comobject.IndicatorWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := obj.UpdateFromInt(1); err != nil {
		t.Fatal(err)
	}

	dev := device.New(link, []*comobject.Object{obj}, nil)
	if err := dev.Begin(); err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	return New(dev, ":0", testSecret, nil)
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListObjectsReturnsCurrentValue(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/objects", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var views []objectView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].GA != "1/2/3" || views[0].Value != 1 {
		t.Fatalf("unexpected views: %+v", views)
	}
	if decoded, ok := views[0].Decoded.(bool); !ok || !decoded {
		t.Errorf("views[0].Decoded = %#v, want true", views[0].Decoded)
	}
}

func TestWriteObjectAcceptsDecodedValue(t *testing.T) {
	s := newTestServer(t)
	token, err := GenerateAdminToken(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	body := bytes.NewBufferString(`{"decoded_value": false}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/objects/1.2.3/write", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRecentEventsEmptyWithoutEventLog(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var events []eventlog.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %v, want empty", events)
	}
}

func TestRecentEventsReturnsRecordedEvents(t *testing.T) {
	s := newTestServer(t)
	db, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Record(eventlog.KindReset, ""); err != nil {
		t.Fatal(err)
	}
	s.SetEventLog(db)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	var events []eventlog.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != eventlog.KindReset {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestBusResetRequiresAdminToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bus/reset", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBusResetSucceedsWithValidToken(t *testing.T) {
	s := newTestServer(t)
	token, err := GenerateAdminToken(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bus/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}

func TestWriteObjectQueuesAction(t *testing.T) {
	s := newTestServer(t)
	token, err := GenerateAdminToken(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	body := bytes.NewBufferString(`{"value": 0}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/objects/1.2.3/write", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", rec.Code, rec.Body.String())
	}
}

func TestWriteObjectRejectsUnknownAddress(t *testing.T) {
	s := newTestServer(t)
	token, err := GenerateAdminToken(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	body := bytes.NewBufferString(`{"value": 0}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/objects/9.9.9/write", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRequireAdminRejectsForgedToken(t *testing.T) {
	s := newTestServer(t)
	token, err := GenerateAdminToken("wrong-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bus/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
