package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/internal/analytics/identity"
	"github.com/loom-platform/loom/internal/analytics/ingest"
	"github.com/loom-platform/loom/internal/analytics/store"
	"github.com/loom-platform/loom/internal/analytics/store/memory"
	"github.com/loom-platform/loom/internal/monitor"
)

func newTestServer(t *testing.T) (*Server, *memory.Store, []byte, ids.OrgID) {
	t.Helper()
	st := memory.New()
	logger := logging.New("test", "error", "json")

	identitySvc, err := identity.New(identity.Config{Store: st, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	batcher, err := ingest.New(ingest.Config{
		Store:         st,
		Identity:      identitySvc,
		Logger:        logger,
		FlushInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	monitorSvc, err := monitor.New(monitor.Config{Store: monitor.NewMemoryStore(), Logger: logger})
	if err != nil {
		t.Fatal(err)
	}

	pepper := []byte("test-pepper")
	org := ids.NewOrgID()
	seedKey(t, st, pepper, "sk-test", org)

	srv := NewServer(Config{
		Store:    st,
		Batcher:  batcher,
		Identity: identitySvc,
		Monitor:  monitorSvc,
		Logger:   logger,
		Pepper:   pepper,
	})
	return srv, st, pepper, org
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer sk-test")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestCapture_EnqueuesEvent(t *testing.T) {
	srv, st, _, org := newTestServer(t)
	srv.batcher.Start(context.Background())

	rr := doJSON(t, srv, http.MethodPost, "/capture", map[string]interface{}{
		"event":       "page_viewed",
		"distinct_id": "user-1",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	srv.batcher.Stop(context.Background())
	events, err := st.ListEvents(context.Background(), org, store.EventFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventName != "page_viewed" {
		t.Fatalf("expected one page_viewed event, got %#v", events)
	}
}

func TestCaptureBatch_RejectsEmptyBatch(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/capture/batch", map[string]interface{}{"batch": []interface{}{}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "empty_batch") {
		t.Fatalf("expected body to carry the empty_batch discriminator, got %s", rr.Body.String())
	}
}

func TestIdentify_LinksAnonAndUserDistinctIDs(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/identify", map[string]interface{}{
		"distinct_id":       "user-1",
		"$anon_distinct_id": "anon-1",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUnauthenticatedCapture_Returns401(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/capture", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
