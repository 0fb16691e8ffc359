package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api"
	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/auth"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/infra/notion"
	"github.com/dvloznov/notion-ledger/internal/infra/notion/notiontest"
	"github.com/dvloznov/notion-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/dvloznov/notion-ledger/internal/summary"
	"github.com/shopspring/decimal"
)

const testPIN = "2468"

var fixedNow = time.Date(2024, 3, 20, 9, 30, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	store   *notiontest.Store
	cache   *cache.Memory
	token   string
}

func newTestServer(t *testing.T, opts ...func(*api.Deps)) *testServer {
	t.Helper()

	store := notiontest.NewStore()
	c := cache.NewMemory()
	repo := notion.NewRepository(store, c, notion.Config{
		EntriesDatabaseID:  "entries-db",
		AccountsDatabaseID: "accounts-db",
	})
	gate, err := auth.NewGate(testPIN)
	if err != nil {
		t.Fatal(err)
	}

	d := api.Deps{
		Repo:    repo,
		Summary: summary.NewService(repo, c, 0),
		Cache:   c,
		Gate:    gate,
		Log:     logger.NewWithWriter(io.Discard),
		Now:     func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&d)
	}

	return &testServer{handler: api.NewRouter(d), store: store, cache: c, token: gate.Token()}
}

// call sends an authenticated request unless authed is false and decodes a
// JSON body when there is one.
func (s *testServer) call(t *testing.T, method, path string, body interface{}, authed bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.10:40000"
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func (s *testServer) mustCall(t *testing.T, method, path string, body interface{}, want int) map[string]interface{} {
	t.Helper()
	rec, decoded := s.call(t, method, path, body, true)
	if rec.Code != want {
		t.Fatalf("%s %s: status = %d, want %d, body %s", method, path, rec.Code, want, rec.Body.String())
	}
	return decoded
}

func (s *testServer) account(t *testing.T, name string, initial float64) string {
	t.Helper()
	body := s.mustCall(t, http.MethodPost, "/accounts", map[string]interface{}{
		"name": name, "type": "cash", "initialBalance": initial,
	}, http.StatusOK)
	return data(t, body)["id"].(string)
}

func (s *testServer) entry(t *testing.T, account, category, date string, amount float64) string {
	t.Helper()
	body := s.mustCall(t, http.MethodPost, "/entries", map[string]interface{}{
		"name": category, "category": category, "date": date, "amount": amount, "account": account,
	}, http.StatusOK)
	return data(t, body)["id"].(string)
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
	d, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data is not an object: %v", body["data"])
	}
	return d
}

func list(t *testing.T, body map[string]interface{}) []interface{} {
	t.Helper()
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
	items, ok := body["data"].([]interface{})
	if !ok {
		t.Fatalf("data is not an array: %v", body["data"])
	}
	return items
}

func monthly(t *testing.T, s *testServer, year, month int) map[string]interface{} {
	t.Helper()
	body := s.mustCall(t, http.MethodGet, fmt.Sprintf("/summary?year=%d&month=%d", year, month), nil, http.StatusOK)
	return data(t, body)["monthly"].(map[string]interface{})
}

func TestScenario_ExpenseShowsInMonthlySummary(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 1000)
	s.entry(t, "Cash", "food", "2024-03-05", -200)

	m := monthly(t, s, 2024, 3)
	if m["totalExpense"] != float64(200) || m["totalIncome"] != float64(0) {
		t.Errorf("unexpected monthly summary %v", m)
	}
	if cat := m["byCategoryExpense"].(map[string]interface{}); cat["food"] != float64(200) {
		t.Errorf("byCategoryExpense = %v", cat)
	}

	accounts := list(t, s.mustCall(t, http.MethodGet, "/accounts", nil, http.StatusOK))
	if len(accounts) != 1 || accounts[0].(map[string]interface{})["balance"] != float64(800) {
		t.Errorf("unexpected accounts %v", accounts)
	}
}

func TestScenario_TransfersStayOutOfTotals(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 0)
	s.entry(t, "Cash", "transfer", "2024-03-02", -100)
	s.entry(t, "Cash", "salary", "2024-03-03", 500)

	m := monthly(t, s, 2024, 3)
	if m["totalIncome"] != float64(500) || m["totalExpense"] != float64(0) || m["balance"] != float64(500) {
		t.Errorf("unexpected monthly summary %v", m)
	}
}

func TestScenario_TransferWritesBothLegs(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 1000)
	s.account(t, "Bank", 0)

	body := s.mustCall(t, http.MethodPost, "/transfer", map[string]interface{}{
		"fromAccount": "Cash", "toAccount": "Bank", "amount": 300, "date": "2024-03-10",
	}, http.StatusCreated)
	ids := data(t, body)
	if ids["fromId"] == "" || ids["toId"] == "" || ids["fromId"] == ids["toId"] {
		t.Fatalf("unexpected ids %v", ids)
	}

	entries := list(t, s.mustCall(t, http.MethodGet, "/entries?startDate=2024-03-01&endDate=2024-03-31", nil, http.StatusOK))
	if len(entries) != 2 {
		t.Fatalf("expected 2 legs, got %v", entries)
	}
	byAccount := map[string]float64{}
	for _, e := range entries {
		m := e.(map[string]interface{})
		if m["category"] != ledger.CategoryTransfer {
			t.Errorf("leg category = %v", m["category"])
		}
		byAccount[m["account"].(string)] = m["amount"].(float64)
	}
	if byAccount["Cash"] != -300 || byAccount["Bank"] != 300 {
		t.Errorf("legs = %v", byAccount)
	}

	m := monthly(t, s, 2024, 3)
	if m["totalIncome"] != float64(0) || m["totalExpense"] != float64(0) {
		t.Errorf("transfer leaked into summary %v", m)
	}
}

func TestScenario_ProtectedEndpointNeedsToken(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.call(t, http.MethodGet, "/accounts", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body["success"] != false || body["error"] != "Unauthorized" {
		t.Errorf("unexpected body %v", body)
	}
	if s.store.Queries["accounts-db"] != 0 {
		t.Error("unauthenticated request reached the store")
	}
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.call(t, http.MethodPost, "/auth", map[string]string{"pin": testPIN}, false)
	if rec.Code != http.StatusOK || body["token"] != auth.HashPIN(testPIN) {
		t.Fatalf("login: %d %v", rec.Code, body)
	}

	rec, body = s.call(t, http.MethodPost, "/auth", map[string]string{"pin": "0000"}, false)
	if rec.Code != http.StatusUnauthorized || body["error"] != "Unauthorized" {
		t.Errorf("wrong pin: %d %v", rec.Code, body)
	}

	rec, _ = s.call(t, http.MethodPost, "/auth", map[string]string{}, false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing pin: status = %d", rec.Code)
	}

	rec, body = s.call(t, http.MethodGet, "/auth", nil, true)
	if rec.Code != http.StatusOK || body["authenticated"] != true {
		t.Errorf("check valid: %d %v", rec.Code, body)
	}

	rec, body = s.call(t, http.MethodGet, "/auth", nil, false)
	if rec.Code != http.StatusUnauthorized || body["authenticated"] != false {
		t.Errorf("check missing: %d %v", rec.Code, body)
	}
}

func TestAuthLoginIsRateLimited(t *testing.T) {
	s := newTestServer(t, func(d *api.Deps) {
		d.AuthLimiter = middleware.NewIPLimiter(2, nil)
	})

	for i := 0; i < 2; i++ {
		if rec, _ := s.call(t, http.MethodPost, "/auth", map[string]string{"pin": "0000"}, false); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i+1, rec.Code)
		}
	}
	rec, _ := s.call(t, http.MethodPost, "/auth", map[string]string{"pin": testPIN}, false)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third attempt status = %d, want 429", rec.Code)
	}

	// Token checks are not throttled.
	if rec, _ := s.call(t, http.MethodGet, "/auth", nil, true); rec.Code != http.StatusOK {
		t.Errorf("GET /auth status = %d", rec.Code)
	}
}

func TestAuthLoginLimitSurvivesRotatingForwardedFor(t *testing.T) {
	s := newTestServer(t, func(d *api.Deps) {
		d.AuthLimiter = middleware.NewIPLimiter(2, nil)
	})

	throttled := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader(`{"pin":"0000"}`))
		req.RemoteAddr = "192.0.2.10:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			throttled++
		}
	}
	if throttled != 18 {
		t.Errorf("throttled = %d, want 18", throttled)
	}
}

func TestEntries_CRUDAndCaching(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 0)
	s.account(t, "Bank", 0)
	id := s.entry(t, "Cash", "food", "2024-03-05", -50)

	if got := list(t, s.mustCall(t, http.MethodGet, "/entries", nil, http.StatusOK)); len(got) != 1 {
		t.Fatalf("expected 1 entry, got %v", got)
	}
	if _, ok := s.cache.Get(cache.EntriesKey(nil, nil), 0); !ok {
		t.Fatal("listing was not cached")
	}
	queries := s.store.Queries["entries-db"]
	s.mustCall(t, http.MethodGet, "/entries", nil, http.StatusOK)
	if s.store.Queries["entries-db"] != queries {
		t.Error("cached listing hit the store")
	}

	s.mustCall(t, http.MethodPut, "/entries", map[string]interface{}{
		"id": id, "amount": -75, "account": "Bank",
	}, http.StatusOK)
	if _, ok := s.cache.Get(cache.EntriesKey(nil, nil), 0); ok {
		t.Error("update did not invalidate listings")
	}

	got := list(t, s.mustCall(t, http.MethodGet, "/entries", nil, http.StatusOK))
	e := got[0].(map[string]interface{})
	if e["amount"] != float64(-75) || e["account"] != "Bank" || e["name"] != "food" {
		t.Errorf("unexpected entry after update %v", e)
	}

	s.mustCall(t, http.MethodDelete, "/entries?id="+id, nil, http.StatusOK)
	if got := list(t, s.mustCall(t, http.MethodGet, "/entries", nil, http.StatusOK)); len(got) != 0 {
		t.Errorf("archived entry still listed: %v", got)
	}
}

func TestEntries_Errors(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 0)

	tests := []struct {
		name    string
		method  string
		path    string
		body    interface{}
		want    int
		message string
	}{
		{
			name: "missing fields", method: http.MethodPost, path: "/entries",
			body: map[string]interface{}{"name": "x"},
			want: http.StatusBadRequest, message: "missing required field(s): category, date, amount, account",
		},
		{
			name: "unknown account", method: http.MethodPost, path: "/entries",
			body: map[string]interface{}{"name": "x", "category": "food", "date": "2024-03-01", "amount": -1, "account": "Csh"},
			want: http.StatusNotFound, message: `account "Csh" (did you mean "Cash"?): not found`,
		},
		{
			name: "bad date", method: http.MethodGet, path: "/entries?startDate=03/01/2024",
			want: http.StatusBadRequest,
		},
		{
			name: "reversed range", method: http.MethodGet, path: "/entries?startDate=2024-03-31&endDate=2024-03-01",
			want: http.StatusBadRequest, message: "endDate must not be before startDate",
		},
		{
			name: "update without id", method: http.MethodPut, path: "/entries",
			body: map[string]interface{}{"amount": 3},
			want: http.StatusBadRequest, message: "missing required field(s): id",
		},
		{
			name: "delete without id", method: http.MethodDelete, path: "/entries",
			want: http.StatusBadRequest, message: "missing required field(s): id",
		},
		{
			name: "method", method: http.MethodPatch, path: "/entries",
			want: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := s.call(t, tt.method, tt.path, tt.body, true)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body.String())
			}
			if body["success"] != false {
				t.Errorf("expected failure envelope, got %v", body)
			}
			if tt.message != "" && body["error"] != tt.message {
				t.Errorf("error = %q, want %q", body["error"], tt.message)
			}
		})
	}
}

func TestUpstreamTimeoutIsRetryable(t *testing.T) {
	s := newTestServer(t)
	s.store.QueryHook = func(string) error {
		return fmt.Errorf("QueryDatabase: %w", ledger.ErrUpstreamTimeout)
	}

	rec, body := s.call(t, http.MethodGet, "/summary?year=2024&month=3", nil, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["error"] != "Upstream request timed out, please retry" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestUnexpectedErrorsAreNotLeaked(t *testing.T) {
	s := newTestServer(t)
	s.store.QueryHook = func(string) error {
		return errors.New("secret upstream detail")
	}

	rec, body := s.call(t, http.MethodGet, "/accounts", nil, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") || body["error"] != "Failed to list accounts" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestAccounts_UpdateAndCarrier(t *testing.T) {
	s := newTestServer(t)
	cash := s.account(t, "Cash", 100)
	card := s.account(t, "Card", 0)
	s.entry(t, "Cash", "food", "2024-03-05", -10)
	s.mustCall(t, http.MethodGet, "/entries", nil, http.StatusOK)

	body := s.mustCall(t, http.MethodGet, "/accounts/carrier", nil, http.StatusOK)
	if body["data"] != nil {
		t.Errorf("expected no carrier, got %v", body["data"])
	}

	body = s.mustCall(t, http.MethodPut, "/accounts/carrier", map[string]string{"accountId": card}, http.StatusOK)
	if d := data(t, body); d["name"] != "Card" || d["isCarrierAccount"] != true {
		t.Errorf("unexpected carrier %v", d)
	}
	body = s.mustCall(t, http.MethodPut, "/accounts/carrier", map[string]string{"accountId": cash}, http.StatusOK)
	if d := data(t, body); d["name"] != "Cash" || d["balance"] != float64(90) {
		t.Errorf("unexpected carrier %v", d)
	}
	flagged := 0
	for _, a := range list(t, s.mustCall(t, http.MethodGet, "/accounts", nil, http.StatusOK)) {
		if a.(map[string]interface{})["isCarrierAccount"] == true {
			flagged++
		}
	}
	if flagged != 1 {
		t.Errorf("%d carrier accounts, want 1", flagged)
	}

	rec, _ := s.call(t, http.MethodPut, "/accounts/carrier", map[string]string{"accountId": "missing"}, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown carrier status = %d", rec.Code)
	}

	s.mustCall(t, http.MethodPut, "/accounts", map[string]interface{}{"id": cash, "name": "Wallet"}, http.StatusOK)
	entries := list(t, s.mustCall(t, http.MethodGet, "/entries", nil, http.StatusOK))
	if entries[0].(map[string]interface{})["account"] != "Wallet" {
		t.Errorf("rename not visible in entries: %v", entries)
	}
}

func TestSummary_DefaultsAndValidation(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 0)
	s.entry(t, "Cash", "salary", "2024-03-01", 1000)
	s.entry(t, "Cash", "food", "2024-01-15", -40)

	d := data(t, s.mustCall(t, http.MethodGet, "/summary", nil, http.StatusOK))
	m := d["monthly"].(map[string]interface{})
	y := d["yearly"].(map[string]interface{})
	if m["period"].(map[string]interface{})["startDate"] != "2024-03-01" {
		t.Errorf("monthly period = %v", m["period"])
	}
	if m["totalIncome"] != float64(1000) || m["totalExpense"] != float64(0) {
		t.Errorf("monthly = %v", m)
	}
	if y["totalIncome"] != float64(1000) || y["totalExpense"] != float64(40) || y["balance"] != float64(960) {
		t.Errorf("yearly = %v", y)
	}

	for _, q := range []string{"?month=13", "?year=abc", "?month=0"} {
		if rec, _ := s.call(t, http.MethodGet, "/summary"+q, nil, true); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestSummary_InvalidatedByMutations(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 0)
	s.account(t, "Bank", 0)
	s.entry(t, "Cash", "food", "2024-03-05", -20)

	if m := monthly(t, s, 2024, 3); m["totalExpense"] != float64(20) {
		t.Fatalf("monthly = %v", m)
	}
	s.entry(t, "Cash", "food", "2024-03-06", -30)
	if m := monthly(t, s, 2024, 3); m["totalExpense"] != float64(50) {
		t.Errorf("stale summary after create: %v", m)
	}

	s.mustCall(t, http.MethodPost, "/transfer", map[string]interface{}{
		"fromAccount": "Cash", "toAccount": "Bank", "amount": 5, "date": "2024-03-07",
	}, http.StatusCreated)
	if _, ok := s.cache.Get(summary.MonthKey(2024, 3), 0); ok {
		t.Error("transfer did not invalidate summaries")
	}
}

func TestTransfer_Validation(t *testing.T) {
	s := newTestServer(t)
	s.account(t, "Cash", 0)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"same account", map[string]interface{}{"fromAccount": "Cash", "toAccount": "Cash", "amount": 1, "date": "2024-03-01"}, http.StatusBadRequest},
		{"zero amount", map[string]interface{}{"fromAccount": "Cash", "toAccount": "Bank", "amount": 0, "date": "2024-03-01"}, http.StatusBadRequest},
		{"missing date", map[string]interface{}{"fromAccount": "Cash", "toAccount": "Bank", "amount": 1}, http.StatusBadRequest},
		{"unknown target", map[string]interface{}{"fromAccount": "Cash", "toAccount": "Bank", "amount": 1, "date": "2024-03-01"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, _ := s.call(t, http.MethodPost, "/transfer", tt.body, true); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// The failed credit leg was rolled back.
	if got := list(t, s.mustCall(t, http.MethodGet, "/entries", nil, http.StatusOK)); len(got) != 0 {
		t.Errorf("orphaned legs left behind: %v", got)
	}
}

func TestCacheInvalidate(t *testing.T) {
	s := newTestServer(t)

	seed := func() {
		s.cache.Set("accounts", 1)
		s.cache.Set("entries:all", 1)
		s.cache.Set("summary:2024-03", 1)
	}

	tests := []struct {
		target string
		keys   []interface{}
	}{
		{"all", []interface{}{}},
		{"", []interface{}{}},
		{"entries", []interface{}{"accounts"}},
		{"accounts", []interface{}{"entries:all", "summary:2024-03"}},
	}
	for _, tt := range tests {
		t.Run("target "+tt.target, func(t *testing.T) {
			seed()
			body := s.mustCall(t, http.MethodPost, "/cache/invalidate", map[string]string{"target": tt.target}, http.StatusOK)
			if body["success"] != true || body["message"] == "" {
				t.Errorf("unexpected body %v", body)
			}
			stats := body["stats"].(map[string]interface{})
			if fmt.Sprint(stats["keys"]) != fmt.Sprint(tt.keys) || stats["size"] != float64(len(tt.keys)) {
				t.Errorf("stats = %v, want keys %v", stats, tt.keys)
			}
		})
	}

	rec, body := s.call(t, http.MethodPost, "/cache/invalidate", map[string]string{"target": "users"}, true)
	if rec.Code != http.StatusBadRequest || body["success"] != false {
		t.Errorf("unknown target: %d %v", rec.Code, body)
	}
}

func TestInvoices_ListAndImport(t *testing.T) {
	jobStore := inmemory.NewStore(0)
	queue := inmemory.NewQueue(inmemory.Options{}, jobStore)
	t.Cleanup(func() { _ = queue.Close() })

	s := newTestServer(t, func(d *api.Deps) {
		d.Jobs = jobStore
		d.Publisher = queue
	})
	s.account(t, "Card", 0)
	s.entry(t, "Card", "food", "2024-03-05", -10)

	// Invoice-bearing entries are written by the importer.
	repo := notion.NewRepository(s.store, s.cache, notion.Config{EntriesDatabaseID: "entries-db", AccountsDatabaseID: "accounts-db"})
	amount := decimal.NewFromInt(-65)
	if _, err := repo.CreateEntry(context.Background(), ledger.EntryInput{
		Name:          "lunch",
		Category:      ledger.CategoryFood,
		Date:          time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		Amount:        &amount,
		Account:       "Card",
		InvoiceNumber: "AB12345678",
		Seller:        "7-11",
	}); err != nil {
		t.Fatal(err)
	}

	invoices := list(t, s.mustCall(t, http.MethodGet, "/invoices", nil, http.StatusOK))
	if len(invoices) != 1 || invoices[0].(map[string]interface{})["invoiceNumber"] != "AB12345678" {
		t.Errorf("unexpected invoices %v", invoices)
	}
	if got := list(t, s.mustCall(t, http.MethodGet, "/invoices?year=2024&month=2", nil, http.StatusOK)); len(got) != 0 {
		t.Errorf("expected no invoices in February, got %v", got)
	}

	d := data(t, s.mustCall(t, http.MethodPost, "/invoices/import", nil, http.StatusAccepted))
	jobID, _ := d["jobId"].(string)
	if jobID == "" || d["status"] != "pending" {
		t.Fatalf("unexpected job %v", d)
	}

	job := data(t, s.mustCall(t, http.MethodGet, "/jobs/"+jobID, nil, http.StatusOK))
	if job["requestedBy"] != "api" {
		t.Errorf("unexpected job %v", job)
	}
	listed := data(t, s.mustCall(t, http.MethodGet, "/jobs", nil, http.StatusOK))
	if listed["count"] != float64(1) {
		t.Errorf("jobs = %v", listed)
	}
	if rec, _ := s.call(t, http.MethodGet, "/jobs/nope", nil, true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d", rec.Code)
	}
}

func TestInvoices_ImportDisabled(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.call(t, http.MethodPost, "/invoices/import", nil, true)
	if rec.Code != http.StatusServiceUnavailable || body["success"] != false {
		t.Errorf("unexpected response %d %v", rec.Code, body)
	}
}

type fakeUploader struct {
	object      string
	contentType string
	body        []byte
}

func (f *fakeUploader) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	f.object, f.contentType = objectName, contentType
	f.body, _ = io.ReadAll(r)
	return "gs://exports-bucket/" + objectName, nil
}

func TestExport(t *testing.T) {
	up := &fakeUploader{}
	s := newTestServer(t, func(d *api.Deps) { d.Uploader = up })
	s.account(t, "Cash", 0)
	s.entry(t, "Cash", "food", "2024-03-05", -12.5)
	s.entry(t, "Cash", "food", "2023-12-31", -1)

	rec, _ := s.call(t, http.MethodGet, "/export?year=2024&month=3", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="ledger-2024-03.csv"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if body := rec.Body.String(); !strings.Contains(body, "2024-03-05,food,food,-12.5,Cash") || strings.Contains(body, "2023-12-31") {
		t.Errorf("unexpected csv %q", body)
	}

	if rec, _ := s.call(t, http.MethodGet, "/export?format=pdf", nil, true); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d", rec.Code)
	}

	d := data(t, s.mustCall(t, http.MethodPost, "/export?year=2024&format=xlsx", nil, http.StatusCreated))
	if !strings.HasPrefix(d["uri"].(string), "gs://exports-bucket/exports/2024/03/") || d["filename"] != "ledger-2024.xlsx" {
		t.Errorf("unexpected upload result %v", d)
	}
	if !strings.HasSuffix(up.object, "-ledger.xlsx") || !bytes.HasPrefix(up.body, []byte("PK")) {
		t.Errorf("unexpected upload %s (%d bytes)", up.object, len(up.body))
	}
}

func TestExport_UploadDisabled(t *testing.T) {
	s := newTestServer(t)
	if rec, _ := s.call(t, http.MethodPost, "/export", nil, true); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.call(t, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("unexpected health %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}
