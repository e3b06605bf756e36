package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/config"
	"github.com/shelfware/shelfsyncgo/internal/database"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/remote"
	"github.com/shelfware/shelfsyncgo/internal/store"
	"github.com/shelfware/shelfsyncgo/internal/sync"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"github.com/shelfware/shelfsyncgo/internal/websocket"
)

// nullAPI satisfies the remote interface for handler tests; nothing syncs.
type nullAPI struct{}

func (nullAPI) Create(context.Context, models.EntityType, remote.Record) (remote.Record, error) {
	return nil, syncerr.ErrNotFound
}
func (nullAPI) Get(context.Context, models.EntityType, string) (remote.Record, error) {
	return nil, syncerr.ErrNotFound
}
func (nullAPI) GetByQRCode(context.Context, models.EntityType, string) (remote.Record, error) {
	return nil, syncerr.ErrNotFound
}
func (nullAPI) Update(context.Context, models.EntityType, string, remote.Record) (remote.Record, error) {
	return nil, syncerr.ErrNotFound
}
func (nullAPI) Delete(context.Context, models.EntityType, string) error { return nil }
func (nullAPI) List(context.Context, models.EntityType, *time.Time) ([]remote.Record, error) {
	return nil, nil
}
func (nullAPI) Ping(context.Context) error { return nil }

func newTestRouter(t *testing.T) (*Router, *store.Store) {
	t.Helper()

	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db, notify.NewBus(), "device_test", store.ImagingOptions{}, nil)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	engine := sync.NewEngine(st, nullAPI{}, nil, &config.SyncConfig{MaxRetries: 3, BatchSize: 10, ParallelWorkers: 1})
	return NewRouter(st, engine, websocket.NewHub()), st
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := doJSON(t, router, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestEntityCreateAndList(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, "POST", "/api/items", map[string]interface{}{
		"name":    "Drill",
		"qr_code": "QR-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Record  models.Item `json:"record"`
		EventID string      `json:"eventId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.EventID == "" || !models.IsOfflineID(created.Record.ID) {
		t.Errorf("unexpected response %+v", created)
	}

	rr = doJSON(t, router, "GET", "/api/items", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status %d", rr.Code)
	}
	var items []models.Item
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Drill" {
		t.Errorf("list %+v", items)
	}

	rr = doJSON(t, router, "GET", "/api/items/qr/QR-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("qr status %d", rr.Code)
	}
}

func TestEntityValidationErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, "POST", "/api/gadgets", map[string]interface{}{"name": "x"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown entity: status %d", rr.Code)
	}

	rr = doJSON(t, router, "POST", "/api/items", map[string]interface{}{"notes": "no name"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid payload: status %d", rr.Code)
	}

	rr = doJSON(t, router, "GET", "/api/items/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing record: status %d", rr.Code)
	}
}

func TestMoveEndpointQueuesEvent(t *testing.T) {
	router, st := newTestRouter(t)

	rr := doJSON(t, router, "POST", "/api/items", map[string]interface{}{"name": "Drill"})
	var created struct {
		Record models.Item `json:"record"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rr = doJSON(t, router, "POST", "/api/items/"+created.Record.ID+"/move", map[string]interface{}{
		"container_id": "77",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("move status %d: %s", rr.Code, rr.Body.String())
	}

	events, err := st.ListEvents(models.EntityTypeItem, "", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Type != models.EventMove {
		t.Errorf("events %+v", events)
	}
}

func TestSyncStatusAndConflictRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, "GET", "/api/sync/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}

	rr = doJSON(t, router, "POST", "/api/sync/trigger", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("trigger status %d", rr.Code)
	}

	rr = doJSON(t, router, "GET", "/api/conflicts", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("conflicts status %d", rr.Code)
	}

	rr = doJSON(t, router, "GET", "/api/conflicts/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing conflict status %d", rr.Code)
	}
}

func TestQRCodeEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/qrcode/QR-42?size=128", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	if rr.Body.Len() == 0 {
		t.Error("empty png body")
	}
}
