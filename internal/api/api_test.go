package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deltaemu/savestated/internal/api"
	"github.com/deltaemu/savestated/internal/auth"
	"github.com/deltaemu/savestated/internal/host"
	"github.com/deltaemu/savestated/internal/index"
	"github.com/deltaemu/savestated/internal/maintenance"
	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store"
)

var t0 = time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)

type testEnv struct {
	srv     *httptest.Server
	idx     *index.Index
	session *host.Session
	core    *host.MockCore
	dataDir string
}

// newTestEnv spins up a full router over a memory store and a mock core.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	st := store.NewMemStore()
	w := store.NewWriter(st)
	core := host.NewMockCore()
	session := host.NewSession(filepath.Join(dataDir, "payloads"), core)
	idx := index.New(w, session, index.WithClock(func() time.Time { return t0 }))

	ctx, cancel := context.WithCancel(context.Background())
	go idx.Run(ctx)

	authSvc, err := auth.NewService(dataDir)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	backups := maintenance.New(dataDir, filepath.Join(dataDir, "backups"), time.Hour, nil)
	router := api.NewRouter(idx, session, idx, backups, authSvc.Middleware, "test")
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		idx.Close()
		w.Close()
		authSvc.Close()
	})
	return &testEnv{srv: srv, idx: idx, session: session, core: core, dataDir: dataDir}
}

// play registers and activates a game through the API.
func (e *testEnv) play(t *testing.T, id string) {
	t.Helper()
	resp := do(t, e.srv, "PUT", "/api/game", `{"id":"`+id+`","name":"Game `+id+`"}`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// create makes a save state synchronously and returns it.
func (e *testEnv) create(t *testing.T) models.SaveStateView {
	t.Helper()
	resp := do(t, e.srv, "POST", "/api/savestates?wait=true", "")
	requireStatus(t, resp, http.StatusCreated)
	var v models.SaveStateView
	decodeJSON(t, resp, &v)
	return v
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

func requireErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	requireStatus(t, resp, status)
	var appErr models.AppError
	decodeJSON(t, resp, &appErr)
	if appErr.Code != code {
		t.Errorf("error code = %q, want %q", appErr.Code, code)
	}
}

// --- Tests ---

func TestGetInfo(t *testing.T) {
	env := newTestEnv(t)

	resp := do(t, env.srv, "GET", "/api/info", "")
	requireStatus(t, resp, http.StatusOK)
	var info models.Info
	decodeJSON(t, resp, &info)
	if info.Version != "test" || info.Store != "memory" {
		t.Errorf("info = %+v", info)
	}
	if info.ActiveGame != nil {
		t.Errorf("ActiveGame = %+v, want nil", info.ActiveGame)
	}

	env.play(t, "mario")
	resp = do(t, env.srv, "GET", "/api/info", "")
	decodeJSON(t, resp, &info)
	if info.ActiveGame == nil || info.ActiveGame.ID != "mario" {
		t.Errorf("ActiveGame = %+v, want mario", info.ActiveGame)
	}
}

func TestActiveGame(t *testing.T) {
	env := newTestEnv(t)

	requireErrorCode(t, do(t, env.srv, "GET", "/api/game", ""), http.StatusNotFound, "NOT_FOUND")
	requireErrorCode(t, do(t, env.srv, "PUT", "/api/game", `{"id":"  "}`), http.StatusBadRequest, "BAD_REQUEST")
	requireErrorCode(t, do(t, env.srv, "PUT", "/api/game", `{bad`), http.StatusBadRequest, "BAD_REQUEST")

	env.play(t, "zelda")
	resp := do(t, env.srv, "GET", "/api/game", "")
	requireStatus(t, resp, http.StatusOK)
	var g models.Game
	decodeJSON(t, resp, &g)
	if g.ID != "zelda" || g.Name != "Game zelda" {
		t.Errorf("active game = %+v", g)
	}

	// Activating registered the game.
	resp = do(t, env.srv, "GET", "/api/games", "")
	requireStatus(t, resp, http.StatusOK)
	var games struct {
		Games []models.Game `json:"games"`
	}
	decodeJSON(t, resp, &games)
	if len(games.Games) != 1 || games.Games[0].ID != "zelda" {
		t.Errorf("games = %+v", games.Games)
	}

	resp = do(t, env.srv, "DELETE", "/api/game", "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	requireErrorCode(t, do(t, env.srv, "GET", "/api/game", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestPutGame(t *testing.T) {
	env := newTestEnv(t)

	resp := do(t, env.srv, "PUT", "/api/games/metroid", `{"name":"Metroid"}`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = do(t, env.srv, "PUT", "/api/games/metroid", `{"name":"Super Metroid"}`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	g, err := env.idx.Game(context.Background(), "metroid")
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if g.Name != "Super Metroid" {
		t.Errorf("Name = %q, want Super Metroid", g.Name)
	}
}

func TestSaveStatesRequireActiveGame(t *testing.T) {
	env := newTestEnv(t)
	requireErrorCode(t, do(t, env.srv, "GET", "/api/savestates", ""), http.StatusConflict, "CONFLICT")
	requireErrorCode(t, do(t, env.srv, "POST", "/api/savestates", ""), http.StatusConflict, "CONFLICT")
}

func TestListEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")

	resp := do(t, env.srv, "GET", "/api/savestates", "")
	requireStatus(t, resp, http.StatusOK)
	var list models.SaveStateList
	decodeJSON(t, resp, &list)
	if list.GameID != "mario" || !list.Empty || list.SaveStates == nil || len(list.SaveStates) != 0 {
		t.Errorf("list = %+v, want empty non-nil list for mario", list)
	}

	// Unknown games list as empty, never as an error.
	resp = do(t, env.srv, "GET", "/api/games/unknown/savestates", "")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &list)
	if !list.Empty {
		t.Errorf("unknown game list = %+v", list)
	}
}

func TestCreateAndList(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")

	env.core.Step(10)
	first := env.create(t)
	env.core.Step(10)
	second := env.create(t)

	if first.Identifier == second.Identifier {
		t.Fatal("two creates produced the same identifier")
	}
	if first.Filename != first.Identifier {
		t.Errorf("Filename = %q, want identifier", first.Filename)
	}
	if !first.CreationDate.Equal(t0) || !first.ModifiedDate.Equal(t0) {
		t.Errorf("dates = %v / %v, want %v", first.CreationDate, first.ModifiedDate, t0)
	}
	if first.GameID != "mario" {
		t.Errorf("GameID = %q", first.GameID)
	}
	if _, err := os.Stat(filepath.Join(env.dataDir, "payloads", first.Filename+".svs")); err != nil {
		t.Errorf("payload missing: %v", err)
	}

	resp := do(t, env.srv, "GET", "/api/savestates", "")
	requireStatus(t, resp, http.StatusOK)
	var list models.SaveStateList
	decodeJSON(t, resp, &list)
	if list.Empty || len(list.SaveStates) != 2 {
		t.Fatalf("list = %+v, want 2 records", list)
	}
	if list.SaveStates[0].Identifier != first.Identifier || list.SaveStates[1].Identifier != second.Identifier {
		t.Errorf("order = %s, %s; want commit order", list.SaveStates[0].Identifier, list.SaveStates[1].Identifier)
	}
}

func TestCreateAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")

	resp := do(t, env.srv, "POST", "/api/savestates", "")
	requireStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !env.idx.IsEmpty(context.Background(), "mario") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("accepted save state never appeared")
}

func TestCreateCaptureFailure(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")
	env.core.SetFailSnapshot(true)

	requireErrorCode(t, do(t, env.srv, "POST", "/api/savestates?wait=1", ""), http.StatusInternalServerError, "INTERNAL")
	if !env.idx.IsEmpty(context.Background(), "mario") {
		t.Error("failed capture left a record behind")
	}
}

func TestLabels(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")
	rec := env.create(t)

	tests := []struct {
		lang string
		want string
	}{
		{"en-US", "5/17/24, 2:30 PM"},
		{"de-DE,de;q=0.9", "17.05.24, 14:30"},
		{"", "5/17/24, 2:30 PM"},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest("GET", env.srv.URL+"/api/savestates/"+rec.Identifier+"?tz=UTC", nil)
		if tt.lang != "" {
			req.Header.Set("Accept-Language", tt.lang)
		}
		resp, err := env.srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		requireStatus(t, resp, http.StatusOK)
		var v models.SaveStateView
		decodeJSON(t, resp, &v)
		if v.Label != tt.want {
			t.Errorf("Accept-Language %q: label = %q, want %q", tt.lang, v.Label, tt.want)
		}
	}
}

func TestRenameSaveState(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")
	rec := env.create(t)

	resp := do(t, env.srv, "PATCH", "/api/savestates/"+rec.Identifier, `{"name":"  Boss fight "}`)
	requireStatus(t, resp, http.StatusOK)
	var v models.SaveStateView
	decodeJSON(t, resp, &v)
	if v.Name == nil || *v.Name != "Boss fight" || v.Label != "Boss fight" {
		t.Errorf("renamed = %+v", v)
	}

	resp = do(t, env.srv, "PATCH", "/api/savestates/"+rec.Identifier, `{"name":null}`)
	requireStatus(t, resp, http.StatusOK)
	var cleared models.SaveStateView
	decodeJSON(t, resp, &cleared)
	if cleared.Name != nil {
		t.Errorf("name = %q, want cleared", *cleared.Name)
	}
	if cleared.Label != "5/17/24, 2:30 PM" {
		t.Errorf("label = %q, want the modified date", cleared.Label)
	}

	requireErrorCode(t, do(t, env.srv, "PATCH", "/api/savestates/missing", `{"name":"x"}`), http.StatusNotFound, "NOT_FOUND")
	requireErrorCode(t, do(t, env.srv, "PATCH", "/api/savestates/"+rec.Identifier, `nope`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestDeleteSaveState(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")
	rec := env.create(t)

	resp := do(t, env.srv, "DELETE", "/api/savestates/"+rec.Identifier, "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	requireErrorCode(t, do(t, env.srv, "GET", "/api/savestates/"+rec.Identifier, ""), http.StatusNotFound, "NOT_FOUND")
	requireErrorCode(t, do(t, env.srv, "DELETE", "/api/savestates/"+rec.Identifier, ""), http.StatusNotFound, "NOT_FOUND")
	if _, err := os.Stat(filepath.Join(env.dataDir, "payloads", rec.Filename+".svs")); !os.IsNotExist(err) {
		t.Errorf("payload still present: %v", err)
	}
}

func TestOverwriteSaveState(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")
	rec := env.create(t)

	resp := do(t, env.srv, "POST", "/api/savestates/"+rec.Identifier+"/overwrite?wait=true", "")
	requireStatus(t, resp, http.StatusOK)
	var v models.SaveStateView
	decodeJSON(t, resp, &v)
	if v.Identifier != rec.Identifier || !v.CreationDate.Equal(rec.CreationDate) {
		t.Errorf("overwrite changed immutable fields: %+v", v)
	}
	if v.ModifiedDate.Before(v.CreationDate) {
		t.Errorf("modified %v before creation %v", v.ModifiedDate, v.CreationDate)
	}

	requireErrorCode(t, do(t, env.srv, "POST", "/api/savestates/missing/overwrite", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestLoadSaveState(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")

	env.core.Step(42)
	rec := env.create(t)
	env.core.Step(1000)

	resp := do(t, env.srv, "POST", "/api/savestates/"+rec.Identifier+"/load", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if got := env.core.Frame(); got != 42 {
		t.Errorf("frame after load = %d, want 42", got)
	}

	// Loading a state of another game is refused.
	env.play(t, "zelda")
	requireErrorCode(t, do(t, env.srv, "POST", "/api/savestates/"+rec.Identifier+"/load", ""), http.StatusConflict, "CONFLICT")

	// A record whose payload vanished reports it.
	env.play(t, "mario")
	if err := os.Remove(filepath.Join(env.dataDir, "payloads", rec.Filename+".svs")); err != nil {
		t.Fatal(err)
	}
	requireErrorCode(t, do(t, env.srv, "POST", "/api/savestates/"+rec.Identifier+"/load", ""), http.StatusGone, "PAYLOAD_MISSING")
}

func TestBackups(t *testing.T) {
	env := newTestEnv(t)

	resp := do(t, env.srv, "POST", "/api/backups", "")
	requireStatus(t, resp, http.StatusCreated)
	var created struct {
		File string `json:"file"`
	}
	decodeJSON(t, resp, &created)
	if !strings.HasSuffix(created.File, ".tar.gz") {
		t.Errorf("file = %q", created.File)
	}

	resp = do(t, env.srv, "GET", "/api/backups", "")
	requireStatus(t, resp, http.StatusOK)
	var list struct {
		Backups []maintenance.Backup `json:"backups"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Backups) != 1 || list.Backups[0].Path != created.File {
		t.Errorf("backups = %+v", list.Backups)
	}
}

func TestAuthRequiredWhenKeysConfigured(t *testing.T) {
	env := newTestEnv(t)
	keys := `{"frontend":{"key":"secret"}}`
	if err := os.WriteFile(filepath.Join(env.dataDir, auth.KeysFileName), []byte(keys), 0644); err != nil {
		t.Fatal(err)
	}

	// The watcher reloads asynchronously.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp := do(t, env.srv, "GET", "/api/info", "")
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			break
		}
		if time.Now().After(deadline) {
			t.Skip("fsnotify did not deliver an event; watcher may be unavailable here")
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp := do(t, env.srv, "GET", "/api/info?api-key=secret", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	resp := do(t, env.srv, "OPTIONS", "/api/savestates", "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestSSESubscribe(t *testing.T) {
	env := newTestEnv(t)
	env.play(t, "mario")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	requireStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := make(chan models.SaveStateList, 8)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var list models.SaveStateList
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &list); err != nil {
				t.Errorf("SSE data is not valid JSON: %v", err)
				return
			}
			events <- list
		}
	}()

	next := func() models.SaveStateList {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("SSE stream closed")
			}
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for SSE event")
		}
		return models.SaveStateList{}
	}

	initial := next()
	if initial.GameID != "mario" || !initial.Empty {
		t.Errorf("initial event = %+v, want empty mario list", initial)
	}

	rec := env.create(t)
	for {
		ev := next()
		if ev.GameID == "mario" && len(ev.SaveStates) == 1 {
			if ev.SaveStates[0].Identifier != rec.Identifier || ev.Empty {
				t.Errorf("event = %+v", ev)
			}
			return
		}
	}
}
