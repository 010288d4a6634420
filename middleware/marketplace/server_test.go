package marketplace

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"builderbuddy-backend/config"
	"builderbuddy-backend/core/marketplace"
	"builderbuddy-backend/metrics"
	"builderbuddy-backend/middleware"
	"builderbuddy-backend/oracle"
	"builderbuddy-backend/services"
	auth "builderbuddy-backend/storage/auth"
	mpstore "builderbuddy-backend/storage/marketplace"
)

const (
	ownerKey  = "owner-key"
	oracleKey = "oracle-key"
	aliceKey  = "alice-key"
	bobKey    = "bob-key"
)

type testAPI struct {
	t       *testing.T
	svc     *services.MarketplaceService
	srv     *Server
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.SnapshotEvery = 0
	m := metrics.New()
	svc, err := services.NewMarketplaceService(context.Background(), services.Options{
		Config:   cfg,
		Store:    mpstore.NewMemoryStore(0),
		Metrics:  m,
		Provider: oracle.NewMockScoreProvider(0, nil),
	})
	if err != nil {
		t.Fatalf("NewMarketplaceService: %v", err)
	}
	keys := auth.NewAPIKeyStore()
	keys.Seed(ownerKey, cfg.OwnerAddress, "config")
	keys.Seed(oracleKey, cfg.OracleAddress, "config")
	keys.Seed(aliceKey, "0xalice", "config")
	keys.Seed(bobKey, "0xbob", "config")
	srv := NewServer(svc, keys, keys, m)
	return &testAPI{t: t, svc: svc, srv: srv, handler: srv.Handler()}
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (a *testAPI) do(method, path, key string, body interface{}, out interface{}) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, apiPrefix+path, &buf)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if out != nil && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func (a *testAPI) must(status int, method, path, key string, body interface{}, out interface{}) {
	a.t.Helper()
	var raw map[string]interface{}
	target := out
	if target == nil {
		target = &raw
	}
	if got := a.do(method, path, key, body, target); got != status {
		a.t.Fatalf("Expected %s %s to return %d but got %d (%v)", method, path, status, got, raw)
	}
}

func (a *testAPI) register(key, userID string, role interface{}, score uint64) {
	a.t.Helper()
	var resp struct {
		RequestID string `json:"request_id"`
	}
	a.must(http.StatusAccepted, http.MethodPost, "/register", key,
		map[string]interface{}{"user_id": userID, "role": role, "name": strings.ToUpper(userID)}, &resp)
	if resp.RequestID == "" {
		a.t.Fatalf("Expected request id for %s", userID)
	}
	a.must(http.StatusOK, http.MethodPost, "/oracle/fulfill", oracleKey,
		map[string]interface{}{"request_id": resp.RequestID, "score": score}, nil)
}

// confirm registers alice and bob, stakes bob at level 1 and confirms an
// order between them. It returns the escrow address.
func (a *testAPI) confirm() string {
	a.t.Helper()
	a.register(aliceKey, "alice", 0, 0)
	a.register(bobKey, "bob", "contractor", 120)

	engine := string(a.svc.Engine.Address())
	a.must(http.StatusOK, http.MethodPost, "/token/mint", ownerKey, map[string]interface{}{"to": "0xbob", "amount": 10_000_000}, nil)
	a.must(http.StatusOK, http.MethodPost, "/token/approve", bobKey, map[string]interface{}{"spender": engine, "amount": 10_000_000}, nil)
	a.must(http.StatusOK, http.MethodPost, "/contractors/bob/stake", bobKey, map[string]interface{}{"level": 1}, nil)

	var order marketplace.Order
	a.must(http.StatusCreated, http.MethodPost, "/orders", aliceKey, map[string]interface{}{
		"customer_id":         "alice",
		"title":               "Kitchen",
		"category":            1,
		"level":               1,
		"budget":              1_000_000,
		"expected_start_date": time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
	}, &order)
	if order.ID != 0 || order.Status != marketplace.OrderCreated {
		a.t.Fatalf("Expected created order 0 but got %+v", order)
	}
	a.must(http.StatusOK, http.MethodPost, "/orders/0/assign", aliceKey, map[string]string{"customer_id": "alice", "contractor_id": "bob"}, nil)

	var view services.EscrowView
	a.must(http.StatusOK, http.MethodPost, "/orders/0/confirm", bobKey, map[string]string{"contractor_id": "bob"}, &view)
	if view.Context.EscrowAddress == "" || view.Context.CollateralDeposited != 2_000_000 {
		a.t.Fatalf("Expected escrow with 2000000 collateral but got %+v", view.Context)
	}
	return string(view.Context.EscrowAddress)
}

func TestAPIHappyPath(t *testing.T) {
	a := newTestAPI(t)
	escrow := a.confirm()

	a.must(http.StatusOK, http.MethodPost, "/token/mint", ownerKey, map[string]interface{}{"to": "0xalice", "amount": 5_000_000}, nil)
	a.must(http.StatusOK, http.MethodPost, "/token/transfer", aliceKey, map[string]interface{}{"to": escrow, "amount": 2_000_000}, nil)

	var task marketplace.Task
	a.must(http.StatusCreated, http.MethodPost, "/escrows/0/tasks", bobKey, map[string]interface{}{"title": "Tiles", "cost": 1_500_000}, &task)
	if task.Status != marketplace.TaskInitiated {
		t.Errorf("Expected initiated task but got %s", task.Status)
	}
	a.must(http.StatusOK, http.MethodPost, "/escrows/0/approve", aliceKey, nil, nil)
	a.must(http.StatusOK, http.MethodPost, "/escrows/0/avail", bobKey, nil, nil)

	var resp struct {
		Code string `json:"code"`
	}
	if status := a.do(http.MethodPost, "/escrows/0/finish-task", aliceKey, map[string]int{"rating": 11}, &resp); status != http.StatusBadRequest || resp.Code != "RatingNotInRange" {
		t.Errorf("Expected 400 RatingNotInRange but got %d %s", status, resp.Code)
	}
	a.must(http.StatusOK, http.MethodPost, "/escrows/0/finish-task", aliceKey, map[string]int{"rating": 10}, &task)
	if task.Status != marketplace.TaskFinished {
		t.Errorf("Expected finished task but got %s", task.Status)
	}

	var done struct {
		Rating uint64 `json:"rating"`
	}
	a.must(http.StatusOK, http.MethodPost, "/escrows/0/finish-work", aliceKey, nil, &done)
	if done.Rating != 1000 {
		t.Errorf("Expected aggregate rating 1000 but got %d", done.Rating)
	}

	var order marketplace.Order
	a.must(http.StatusOK, http.MethodGet, "/orders/0", aliceKey, nil, &order)
	if order.Status != marketplace.OrderFinished {
		t.Errorf("Expected finished order but got %s", order.Status)
	}

	var got marketplace.Task
	a.must(http.StatusOK, http.MethodGet, "/escrows/0/tasks/1", aliceKey, nil, &got)
	if got.Title != "Tiles" {
		t.Errorf("Expected task Tiles but got %q", got.Title)
	}

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	a.must(http.StatusOK, http.MethodGet, "/token/balances/0xbob", bobKey, nil, &bal)
	// 10 minted, 2 staked, 1.5 paid out
	if bal.Balance != 9_500_000 {
		t.Errorf("Expected bob balance 9500000 but got %d", bal.Balance)
	}

	var list struct {
		Orders []marketplace.Order `json:"orders"`
		Total  int                 `json:"total"`
	}
	a.must(http.StatusOK, http.MethodGet, "/orders?status=Finished", aliceKey, nil, &list)
	if list.Total != 1 {
		t.Errorf("Expected 1 finished order but got %d", list.Total)
	}
	a.must(http.StatusOK, http.MethodGet, "/customers/alice/orders", aliceKey, nil, &list)
	if list.Total != 1 || list.Orders[0].ContractorID != "bob" {
		t.Errorf("Expected alice's order assigned to bob but got %+v", list.Orders)
	}

	var events struct {
		Events []marketplace.Event `json:"events"`
	}
	a.must(http.StatusOK, http.MethodGet, "/events?order_id=0&limit=1", aliceKey, nil, &events)
	if len(events.Events) != 1 || events.Events[0].Type != marketplace.EventOrderFinished {
		t.Errorf("Expected latest order event OrderFinished but got %+v", events.Events)
	}
}

func TestAPIErrors(t *testing.T) {
	a := newTestAPI(t)
	a.confirm()

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   interface{}
		status int
		code   string
	}{
		{"missing key", http.MethodGet, "/levels", "", nil, http.StatusUnauthorized, ""},
		{"unknown key", http.MethodGet, "/levels", "nope", nil, http.StatusForbidden, ""},
		{"mint by non owner", http.MethodPost, "/token/mint", aliceKey, map[string]interface{}{"to": "0xalice", "amount": 1}, http.StatusForbidden, "NotOwner"},
		{"fulfill by non oracle", http.MethodPost, "/oracle/fulfill", aliceKey, map[string]interface{}{"request_id": "x", "score": 1}, http.StatusForbidden, "NotOracle"},
		{"duplicate registration", http.MethodPost, "/register", aliceKey, map[string]interface{}{"user_id": "alice", "role": "customer", "name": "A"}, http.StatusConflict, "UserAlreadyRegistered"},
		{"bad role", http.MethodPost, "/register", aliceKey, map[string]interface{}{"user_id": "x", "role": 7, "name": "X"}, http.StatusBadRequest, "InvalidInput"},
		{"schema violation", http.MethodPost, "/orders", aliceKey, map[string]interface{}{"customer_id": "alice"}, http.StatusBadRequest, "InvalidInput"},
		{"past start date", http.MethodPost, "/orders", aliceKey, map[string]interface{}{
			"customer_id": "alice", "title": "T", "category": 0, "level": 1, "budget": 1, "expected_start_date": "2001-01-01T00:00:00Z",
		}, http.StatusBadRequest, "OrderCantHavePastDate"},
		{"invalid level", http.MethodPost, "/contractors/bob/stake", bobKey, map[string]int{"level": 9}, http.StatusBadRequest, "InvalidLevel"},
		{"unknown order", http.MethodGet, "/orders/42", aliceKey, nil, http.StatusNotFound, "OrderNotFound"},
		{"unknown contractor", http.MethodGet, "/contractors/zed", aliceKey, nil, http.StatusNotFound, "ContractorNotFound"},
		{"approve without task", http.MethodPost, "/escrows/0/approve", aliceKey, nil, http.StatusNotFound, "NoTasksYet"},
		{"task by client", http.MethodPost, "/escrows/0/tasks", aliceKey, map[string]interface{}{"title": "T", "cost": 1}, http.StatusForbidden, "NotContractor"},
		{"cost above collateral", http.MethodPost, "/escrows/0/tasks", bobKey, map[string]interface{}{"title": "T", "cost": 1_700_000}, http.StatusBadRequest, "CostGreaterThanCollateral"},
		{"cancel confirmed order", http.MethodPost, "/orders/0/cancel", aliceKey, map[string]string{"customer_id": "alice"}, http.StatusConflict, "OrderCantBeCancelled"},
		{"transfer too much", http.MethodPost, "/token/transfer", aliceKey, map[string]interface{}{"to": "0xbob", "amount": 1}, http.StatusUnprocessableEntity, "InsufficientBalance"},
		{"wrong method", http.MethodDelete, "/orders/0", aliceKey, nil, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			status := a.do(tt.method, tt.path, tt.key, tt.body, &resp)
			if status != tt.status {
				t.Errorf("Expected status %d but got %d (%s)", tt.status, status, resp.Error)
			}
			if tt.code != "" && resp.Code != tt.code {
				t.Errorf("Expected code %s but got %q (%s)", tt.code, resp.Code, resp.Error)
			}
		})
	}
}

func TestAPILevels(t *testing.T) {
	a := newTestAPI(t)
	var table struct {
		Levels   []levelView `json:"levels"`
		Decimals uint8       `json:"decimals"`
	}
	a.must(http.StatusOK, http.MethodGet, "/levels", aliceKey, nil, &table)
	if len(table.Levels) != marketplace.MaxLevel || table.Levels[0].RequiredCollateral != 2_000_000 {
		t.Errorf("Expected default level table but got %+v", table.Levels)
	}

	tests := []struct {
		score uint64
		level uint8
	}{
		{0, 1},
		{99, 2},
		{150, 3},
		{10_000, 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("score %d", tt.score), func(t *testing.T) {
			var resp struct {
				Level uint8 `json:"level"`
			}
			a.must(http.StatusOK, http.MethodGet, fmt.Sprintf("/levels/eligible?score=%d", tt.score), aliceKey, nil, &resp)
			if resp.Level != tt.level {
				t.Errorf("Expected level %d but got %d", tt.level, resp.Level)
			}
		})
	}
	if status := a.do(http.MethodGet, "/levels/eligible", aliceKey, nil, nil); status != http.StatusBadRequest {
		t.Errorf("Expected 400 without score but got %d", status)
	}
}

func TestAPIAdminAndKeys(t *testing.T) {
	a := newTestAPI(t)

	var cfg marketplace.RegistryConfig
	a.must(http.StatusOK, http.MethodPost, "/admin/oracle", ownerKey, map[string]interface{}{"gas_limit": 250_000, "secrets": "c2VjcmV0"}, &cfg)
	if cfg.GasLimit != 250_000 || !cfg.HasSecrets {
		t.Errorf("Expected gas limit 250000 with secrets but got %+v", cfg)
	}
	if status := a.do(http.MethodPost, "/admin/oracle", aliceKey, map[string]interface{}{"subscription_id": 7}, nil); status != http.StatusForbidden {
		t.Errorf("Expected 403 for non owner but got %d", status)
	}
	if status := a.do(http.MethodPost, "/admin/oracle", ownerKey, map[string]interface{}{"bogus": 1}, nil); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown setting but got %d", status)
	}

	var issued auth.APIKey
	a.must(http.StatusCreated, http.MethodPost, "/keys", ownerKey, map[string]string{"address": "0xcarol", "label": "carol"}, &issued)
	if issued.Key == "" {
		t.Fatal("Expected an issued key")
	}
	var conf struct {
		Caller string `json:"caller"`
	}
	a.must(http.StatusOK, http.MethodGet, "/config", issued.Key, nil, &conf)
	if conf.Caller != "0xcarol" {
		t.Errorf("Expected caller 0xcarol but got %q", conf.Caller)
	}
	if status := a.do(http.MethodPost, "/keys", aliceKey, map[string]string{"address": "0xmallory"}, nil); status != http.StatusForbidden {
		t.Errorf("Expected 403 issuing a key for another address as alice but got %d", status)
	}

	var own auth.APIKey
	a.must(http.StatusCreated, http.MethodPost, "/keys", aliceKey, map[string]string{"label": "laptop"}, &own)
	if own.Address != "0xalice" || own.Key == "" {
		t.Errorf("Expected a key bound to 0xalice but got %+v", own)
	}
	a.must(http.StatusOK, http.MethodGet, "/config", own.Key, nil, &conf)
	if conf.Caller != "0xalice" {
		t.Errorf("Expected caller 0xalice but got %q", conf.Caller)
	}
	a.must(http.StatusCreated, http.MethodPost, "/keys", aliceKey, map[string]string{"address": "0xalice"}, nil)
}

func TestAPIFundingQR(t *testing.T) {
	a := newTestAPI(t)
	a.confirm()

	req := httptest.NewRequest(http.MethodGet, apiPrefix+"/escrows/0/funding-qr?amount=2000000", nil)
	req.Header.Set("X-API-Key", aliceKey)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 but got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png but got %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("Expected PNG payload")
	}
	if status := a.do(http.MethodGet, "/escrows/0/funding-qr?amount=0", aliceKey, nil, nil); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero amount but got %d", status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	a.register(aliceKey, "alice", 0, 0)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected healthz 200 but got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `builderbuddy_transitions_total{operation="register",result="ok"} 1`) {
		t.Errorf("Expected register transition in metrics output")
	}
}

func TestEventsSSE(t *testing.T) {
	a := newTestAPI(t)
	a.register(aliceKey, "alice", 0, 0)

	ts := httptest.NewServer(a.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+apiPrefix+"/events?type=Registered", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-API-Key", bobKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected text/event-stream but got %s", ct)
	}

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	next := func() marketplace.Event {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("stream closed")
				}
				if strings.HasPrefix(line, "data: ") {
					var evt marketplace.Event
					if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
						t.Fatalf("decode event: %v", err)
					}
					return evt
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for event")
			}
		}
	}

	if evt := next(); evt.UserID != "alice" {
		t.Errorf("Expected replayed alice registration but got %+v", evt)
	}
	// wait for the live subscription before producing the next event
	deadline := time.Now().Add(2 * time.Second)
	for a.svc.Hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.register(bobKey, "bob", 1, 120)
	if evt := next(); evt.UserID != "bob" || evt.Type != marketplace.EventRegistered {
		t.Errorf("Expected live bob registration but got %+v", evt)
	}
}

func TestEventsWebSocket(t *testing.T) {
	a := newTestAPI(t)
	a.register(aliceKey, "alice", 0, 0)

	ts := httptest.NewServer(a.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + apiPrefix + "/events/ws?user_id=bob"
	header := http.Header{}
	header.Set("X-API-Key", bobKey)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for a.svc.Hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.register(bobKey, "bob", 1, 120)

	want := []string{marketplace.EventRegistrationRequested, marketplace.EventRegistered}
	for _, typ := range want {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var evt marketplace.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read: %v", err)
		}
		if evt.Type != typ || evt.UserID != "bob" {
			t.Errorf("Expected %s for bob but got %s for %s", typ, evt.Type, evt.UserID)
		}
	}

	if status := a.do(http.MethodGet, "/events/ws", "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key but got %d", status)
	}
}

func TestRateLimitAndMount(t *testing.T) {
	a := newTestAPI(t)
	a.srv.SetRateLimiter(middleware.NewRateLimiter(2, 0))
	var seen string
	a.srv.Mount("/echo", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.CallerFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	a.handler = a.srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected mounted handler to require a key but got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set("X-API-Key", aliceKey)
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen != "0xalice" {
		t.Errorf("Expected 204 as 0xalice but got %d as %q", rec.Code, seen)
	}

	a.must(http.StatusOK, http.MethodGet, "/levels", aliceKey, nil, nil)
	if got := a.do(http.MethodGet, "/levels", aliceKey, nil, nil); got != http.StatusTooManyRequests {
		t.Errorf("Expected 429 once the burst is spent but got %d", got)
	}
	a.must(http.StatusOK, http.MethodGet, "/levels", bobKey, nil, nil)
}
