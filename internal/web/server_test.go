package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	vigil "github.com/ardelia/vigil"
	"github.com/ardelia/vigil/internal/auth"
	"github.com/ardelia/vigil/internal/config"
	"github.com/ardelia/vigil/memory"
	"github.com/ardelia/vigil/persona"
)

func serverFixture(t *testing.T) (*Server, *memory.Manager) {
	t.Helper()
	projectDir := t.TempDir()
	dataDir := projectDir + "/data"

	mem, err := memory.NewManager(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	authMgr, err := auth.NewManager(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	bus := vigil.NewBus(nil)
	scheduler := vigil.NewScheduler(mem, mem, bus, nil)
	build := func() (vigil.RunConfig, error) {
		return vigil.RunConfig{}, fmt.Errorf("DEEPSEEK_API_KEY is not set")
	}
	s := New(scheduler, bus, mem, authMgr, config.NewManager(projectDir),
		persona.New(projectDir+"/prompts"), build, nil)
	return s, mem
}

func request(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func setupToken(t *testing.T, h http.Handler) string {
	t.Helper()
	w := request(t, h, "POST", "/api/auth/setup", "", `{"password":"operator pass"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("setup status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Token
}

func TestAuthGate(t *testing.T) {
	s, _ := serverFixture(t)
	h := s.Handler()

	if w := request(t, h, "GET", "/api/agent/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}
	if w := request(t, h, "GET", "/api/agent/status", "bogus-token", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("bogus token status = %d", w.Code)
	}

	token := setupToken(t, h)
	w := request(t, h, "GET", "/api/agent/status", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var status map[string]any
	json.Unmarshal(w.Body.Bytes(), &status)
	if status["state"] != "idle" {
		t.Errorf("state = %v", status["state"])
	}
}

func TestLoginFlow(t *testing.T) {
	s, _ := serverFixture(t)
	h := s.Handler()
	setupToken(t, h)

	if w := request(t, h, "POST", "/api/auth/login", "", `{"password":"wrong"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", w.Code)
	}
	w := request(t, h, "POST", "/api/auth/login", "", `{"password":"operator pass"}`)
	if w.Code != http.StatusOK {
		t.Errorf("login = %d: %s", w.Code, w.Body)
	}
}

func TestInspireEndpointWrites(t *testing.T) {
	s, mem := serverFixture(t)
	h := s.Handler()
	token := setupToken(t, h)

	w := request(t, h, "POST", "/api/agent/inspire", token, `{"message":"check the logs"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("inspire = %d: %s", w.Code, w.Body)
	}
	text, ok := mem.TakeInspiration()
	if !ok || text != "check the logs" {
		t.Errorf("stored inspiration = %q, %v", text, ok)
	}
}

func TestStartWithoutKeyIsBadRequest(t *testing.T) {
	s, _ := serverFixture(t)
	h := s.Handler()
	token := setupToken(t, h)

	w := request(t, h, "POST", "/api/agent/start", token, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("start = %d: %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), "DEEPSEEK_API_KEY") {
		t.Errorf("error body = %s", w.Body)
	}
}

func TestTimelineAndFeedEmpty(t *testing.T) {
	s, _ := serverFixture(t)
	h := s.Handler()
	token := setupToken(t, h)

	for _, path := range []string{"/api/timeline", "/api/feed"} {
		w := request(t, h, "GET", path, token, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d", path, w.Code)
		}
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("%s body = %s, want []", path, w.Body)
		}
	}
}

func TestTimelineDelete(t *testing.T) {
	s, mem := serverFixture(t)
	h := s.Handler()
	token := setupToken(t, h)

	mem.AppendTimeline(vigil.TimelineEntry{Round: 4, Summary: "x"})

	if w := request(t, h, "DELETE", "/api/timeline/4", token, ""); w.Code != http.StatusOK {
		t.Errorf("delete = %d: %s", w.Code, w.Body)
	}
	if w := request(t, h, "DELETE", "/api/timeline/4", token, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", w.Code)
	}
}

func TestSnapshotHTML(t *testing.T) {
	s, mem := serverFixture(t)
	h := s.Handler()
	token := setupToken(t, h)

	snap := &memory.Snapshot{Services: []memory.Entry{{"name": "api", "port": 80}}}
	if err := mem.SaveSnapshot(snap); err != nil {
		t.Fatal(err)
	}

	w := request(t, h, "GET", "/api/snapshot/html", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot/html = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<table>") && !strings.Contains(w.Body.String(), "api") {
		t.Errorf("html = %s", w.Body)
	}
}
