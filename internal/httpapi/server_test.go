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

	"github.com/gorilla/websocket"

	"github.com/ent0n29/hrdesk/internal/actions"
	"github.com/ent0n29/hrdesk/internal/config"
	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/nlu"
	"github.com/ent0n29/hrdesk/internal/observability"
	"github.com/ent0n29/hrdesk/internal/protocol"
	"github.com/ent0n29/hrdesk/internal/schema"
	"github.com/ent0n29/hrdesk/internal/store"
	"github.com/ent0n29/hrdesk/internal/taskruntime"
)

func newTestServer(t *testing.T, metrics *observability.Metrics) *httptest.Server {
	t.Helper()
	reg, err := schema.Default(schema.DefaultMaxRetries)
	if err != nil {
		t.Fatalf("schema.Default() error = %v", err)
	}
	st := store.NewMemoryStore()
	composer, err := actions.NewTemplateComposer()
	if err != nil {
		t.Fatalf("NewTemplateComposer() error = %v", err)
	}
	router, err := actions.NewRouter(actions.RouterOptions{Composer: composer, Notifier: actions.NewLogNotifier(nil), Recorder: st})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	engine, err := dialogue.NewEngine(dialogue.Options{
		Registry:   reg,
		Classifier: nlu.NewClassifier(reg, 0),
		Selector:   nlu.NewSelector(),
		Extractor:  nlu.NewExtractor(),
		Normalizer: nlu.NewNormalizer(time.UTC, nil),
		Executor:   router,
		Responder:  nlu.NewResponder(reg),
		Store:      st,
		Metrics:    metrics,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	runtime, err := taskruntime.New(engine, st, taskruntime.Options{Metrics: metrics})
	if err != nil {
		t.Fatalf("taskruntime.New() error = %v", err)
	}
	cfg := config.Config{NLUMode: "rules", ActionMode: "log"}
	ts := httptest.NewServer(New(cfg, runtime, metrics, nil).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res := postJSON(t, ts.URL+"/v1/sessions", map[string]string{"user_id": "user-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	created := decode[createSessionResponse](t, res)
	if created.SessionID == "" || created.UserID != "user-1" {
		t.Fatalf("unexpected create response: %+v", created)
	}
	return created.SessionID
}

func TestSessionTurnLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createSession(t, ts)

	res := postJSON(t, ts.URL+"/v1/sessions/"+id+"/turns", turnRequest{TurnID: "t1", Utterance: "I need time off"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	turn := decode[dialogue.TurnResult](t, res)
	if !turn.Persisted || turn.Status.ActiveIntent != "request_time_off" {
		t.Fatalf("unexpected turn result: %+v", turn)
	}

	getRes, err := http.Get(ts.URL + "/v1/sessions/" + id)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	got := decode[sessionResponse](t, getRes)
	if got.Status.TurnCount != 1 || got.Pending {
		t.Fatalf("unexpected session: %+v", got)
	}

	msgRes, err := http.Get(ts.URL + "/v1/sessions/" + id + "/messages?limit=10")
	if err != nil {
		t.Fatalf("GET messages error = %v", err)
	}
	msgs := decode[struct {
		Messages []store.Message `json:"messages"`
	}](t, msgRes)
	if len(msgs.Messages) != 2 || msgs.Messages[0].Content != "I need time off" {
		t.Fatalf("unexpected transcript: %+v", msgs.Messages)
	}

	flushRes := postJSON(t, ts.URL+"/v1/sessions/"+id+"/flush", nil)
	flushed := decode[map[string]any](t, flushRes)
	if flushed["flushed"] != false {
		t.Fatalf("flush response = %+v", flushed)
	}
}

func TestErrorsMapToCodes(t *testing.T) {
	ts := newTestServer(t, nil)

	res, err := http.Get(ts.URL + "/v1/sessions/missing")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	if body := decode[errorResponse](t, res); body.Code != "session_not_found" {
		t.Fatalf("code = %q, want session_not_found", body.Code)
	}

	res = postJSON(t, ts.URL+"/v1/sessions/s1/turns", turnRequest{Utterance: "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if body := decode[errorResponse](t, res); body.Code != "empty_utterance" {
		t.Fatalf("code = %q, want empty_utterance", body.Code)
	}

	res, err = http.Get(ts.URL + "/v1/sessions/s1/messages?limit=zero")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestListTasksAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	res, err := http.Get(ts.URL + "/v1/tasks")
	if err != nil {
		t.Fatalf("GET /v1/tasks error = %v", err)
	}
	payload := decode[struct {
		Capabilities string     `json:"capabilities"`
		Tasks        []taskView `json:"tasks"`
	}](t, res)
	if len(payload.Tasks) != 4 || payload.Capabilities == "" {
		t.Fatalf("unexpected tasks payload: %+v", payload)
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestPerfLatency(t *testing.T) {
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	ts := newTestServer(t, metrics)
	id := createSession(t, ts)
	postJSON(t, ts.URL+"/v1/sessions/"+id+"/turns", turnRequest{Utterance: "hello"}).Body.Close()

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET perf error = %v", err)
	}
	snap := decode[observability.StageSnapshot](t, res)
	if len(snap.Stages) == 0 {
		t.Fatalf("expected stage samples, got %+v", snap)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/perf/latency", nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE perf error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", delRes.StatusCode, http.StatusNoContent)
	}
}

func TestSessionWebsocketTurn(t *testing.T) {
	ts := newTestServer(t, nil)
	id := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + id
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var connected protocol.SystemEvent
	if err := conn.ReadJSON(&connected); err != nil || connected.Code != "connected" {
		t.Fatalf("connected event = %+v, err = %v", connected, err)
	}

	if err := conn.WriteJSON(protocol.ClientUtterance{Type: protocol.TypeClientUtterance, SessionID: id, TurnID: "t1", Text: "hello"}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	var directive protocol.DirectiveMessage
	if err := conn.ReadJSON(&directive); err != nil {
		t.Fatalf("read directive error = %v", err)
	}
	if directive.Type != protocol.TypeDirective || directive.Directive.Code != dialogue.CodeChat {
		t.Fatalf("directive = %+v", directive)
	}
	var end protocol.TurnEnd
	if err := conn.ReadJSON(&end); err != nil {
		t.Fatalf("read turn_end error = %v", err)
	}
	if end.Type != protocol.TypeTurnEnd || end.TurnID != "t1" || !end.Persisted {
		t.Fatalf("turn_end = %+v", end)
	}

	if err := conn.WriteJSON(map[string]string{"type": "nonsense"}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	var errEvt protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvt); err != nil || errEvt.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v, err = %v", errEvt, err)
	}
}
