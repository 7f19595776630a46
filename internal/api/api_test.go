package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const testTenant = "tenant-001"

const catalogJSON = `{
  "custos_padrao": [
    {"id": "deb-1", "categoria": "DEB", "tipo_oferta": "CVM 160", "papel": "Agente Fiduciário",
     "preco_anual": "12.000,00", "tipo_preco": "Fixo", "gross_up": 16.33, "periodicidade": "anual"},
    {"id": "deb-2", "categoria": "DEB", "papel": "Taxa ANBIMA", "tipo_preco": "Percentual",
     "formula_descricao": "0,003% sobre volume, mínimo de R$ 1.500", "periodicidade": "upfront"}
  ],
  "custodia_debenture": [
    {"valor_minimo": 0, "valor_maximo": 1000000, "taxa": 0.0000175},
    {"valor_minimo": 1000000.01, "taxa": 0.00001}
  ]
}`

type testEnv struct {
	server *Server
	repo   *repository.SQLRepository
	bus    *bus.ChannelBus
	engine *rules.Engine
}

// newTestEnv wires a server over a temp SQLite file, an LRU cache and a
// channel bus.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	catalogSvc := catalog.NewService(repo, cache.NewLRUCache(100), time.Minute)
	catalogSvc.SetEventBus(eventBus)

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return &testEnv{
		server: NewServer(cfg, repo, nil, eventBus, catalogSvc, engine, "test-v1"),
		repo:   repo,
		bus:    eventBus,
		engine: engine,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) seedCatalog(t *testing.T) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/catalog/costs", catalogJSON)
	if rr.Code != http.StatusCreated {
		t.Fatalf("catalog import failed: %d %s", rr.Code, rr.Body.String())
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, rr.Body.String())
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

const quoteBody = `{
  "combination": {"category": "DEB"},
  "volume": 10000000,
  "series": [{"number": 1, "notionalValue": 10000000}]
}`

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyWithoutRepository", func(t *testing.T) {
		srv := NewServer(domain.ServerConfig{}, nil, nil, nil, nil, nil, "test")
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestTenantHeader(t *testing.T) {
	env := newTestEnv(t)

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/quotes", bytes.NewBufferString(quoteBody))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/catalog/custody", nil)
		req.Header.Set(TenantIDHeader, "*")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for wildcard tenant, got %d", rr.Code)
		}
	})

	t.Run("SubjectWildcardTenantID", func(t *testing.T) {
		for _, tenant := range []string{"acme.>", "a>b", strings.Repeat("x", maxTenantIDLength+1)} {
			req := httptest.NewRequest(http.MethodGet, "/catalog/custody", nil)
			req.Header.Set(TenantIDHeader, tenant)
			rr := httptest.NewRecorder()
			env.server.Router().ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("tenant %q: expected status 400, got %d", tenant, rr.Code)
			}
		}
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-echo")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-echo" {
			t.Errorf("expected request ID to be echoed, got %q", got)
		}
	})

	t.Run("TraceHeaders", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/catalog/custody", "")
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header")
		}
	})
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalog(t)

	t.Run("ListCosts", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/catalog/costs?category=DEB", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Upfront []domain.CostDefinition `json:"upfront"`
			Annual  []domain.CostDefinition `json:"annual"`
			Count   int                     `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 costs, got %d", resp.Count)
		}
		if len(resp.Annual) != 1 || resp.Annual[0].ID != "deb-1" {
			t.Errorf("unexpected annual bucket %+v", resp.Annual)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/catalog/costs?category=XYZ", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidImport", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/catalog/costs", `{"custos_padrao":[{"categoria":"DEB","papel":"X","periodicidade":"semanal"}]}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Custody", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/catalog/custody", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Brackets []domain.CustodyBracket `json:"brackets"`
		}
		decode(t, rr, &resp)
		if len(resp.Brackets) != 2 {
			t.Fatalf("expected 2 brackets, got %d", len(resp.Brackets))
		}
		if !math.IsInf(resp.Brackets[1].MaxValue, 1) {
			t.Errorf("expected open-ended top bracket, got %v", resp.Brackets[1].MaxValue)
		}
		if !strings.Contains(rr.Body.String(), `"maxValue":null`) {
			t.Error("expected null maxValue in JSON")
		}
	})

	t.Run("ReplaceCustody", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/catalog/custody", `{"brackets":[{"minValue":0,"maxValue":null,"rate":0.00002}]}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		brackets, err := env.repo.ListCustodyBrackets(context.Background(), testTenant)
		if err != nil {
			t.Fatalf("ListCustodyBrackets failed: %v", err)
		}
		if len(brackets) != 1 || brackets[0].Rate != 0.00002 {
			t.Errorf("unexpected custody table %+v", brackets)
		}

		rr = env.do(t, http.MethodPost, "/catalog/custody", `{"brackets":[{"minValue":10,"maxValue":5,"rate":0.1}]}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for inverted bracket, got %d", rr.Code)
		}
	})
}

func TestQuoteEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedCatalog(t)

	var created domain.Quote

	t.Run("CreateQuote", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/quotes", quoteBody)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		decode(t, rr, &created)

		if created.ID == "" {
			t.Fatal("expected quote id")
		}
		if created.TenantID != testTenant {
			t.Errorf("expected tenant %s, got %s", testTenant, created.TenantID)
		}
		if !near(created.Totals.TotalUpfront, 1500) {
			t.Errorf("expected upfront 1500 (minimum), got %f", created.Totals.TotalUpfront)
		}
		if !near(created.Totals.TotalAnnual, 12000*1.1633) {
			t.Errorf("expected grossed-up annual, got %f", created.Totals.TotalAnnual)
		}
		if created.Status != domain.QuoteClear {
			t.Errorf("expected clear status, got %s", created.Status)
		}
		if created.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("GetQuote", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/quotes/"+created.ID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var got domain.Quote
		decode(t, rr, &got)
		if got.Totals != created.Totals {
			t.Errorf("stored totals differ: %+v vs %+v", got.Totals, created.Totals)
		}
	})

	t.Run("GetQuoteNotFound", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/quotes/missing", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/quotes", `{"combination":{"category":"DEB"},"volume":-5}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodPost, "/quotes", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid JSON, got %d", rr.Code)
		}
	})

	t.Run("UnknownIssuance", func(t *testing.T) {
		body := `{"issuanceId":"nope","combination":{"category":"DEB"},"volume":100}`
		rr := env.do(t, http.MethodPost, "/quotes", body)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("OverrideCost", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/quotes/"+created.ID+"/costs/deb-1", `{"value": 20000}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var updated domain.Quote
		decode(t, rr, &updated)
		if !updated.Costs.Annual[0].Edited {
			t.Error("expected line to be marked edited")
		}
		if !near(updated.Totals.TotalAnnual, 20000*1.1633) {
			t.Errorf("expected re-totaled annual, got %f", updated.Totals.TotalAnnual)
		}
		if updated.Status != domain.QuoteNeedsReview {
			t.Errorf("expected review status after override, got %s", updated.Status)
		}

		stored, err := env.repo.GetQuote(context.Background(), testTenant, created.ID)
		if err != nil {
			t.Fatalf("GetQuote failed: %v", err)
		}
		if !stored.Costs.Annual[0].Edited {
			t.Error("expected override to be persisted")
		}
	})

	t.Run("OverrideErrors", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/quotes/"+created.ID+"/costs/unknown", `{"value": 1}`)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for unknown cost, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodPut, "/quotes/"+created.ID+"/costs/deb-1", `{}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without value, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodPut, "/quotes/"+created.ID+"/costs/deb-1", `{"value": -1}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for negative value, got %d", rr.Code)
		}
	})

	t.Run("ExportCSV", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/quotes/"+created.ID+"/export.csv", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Errorf("unexpected content type %s", ct)
		}
		if !strings.Contains(rr.Body.String(), "Agente Fiduciário") {
			t.Error("expected cost line in CSV")
		}
	})

	t.Run("ExportXLSX", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/quotes/"+created.ID+"/export.xlsx", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Content-Disposition"), ".xlsx") {
			t.Error("expected xlsx attachment")
		}
		// XLSX is a zip archive.
		if !bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")) {
			t.Error("expected zip payload")
		}
	})
}

func TestAsyncQuote(t *testing.T) {
	env := newTestEnv(t)

	var received atomic.Int32
	sub, err := env.bus.Subscribe(context.Background(), testTenant, domain.TopicQuoteRequested, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	rr := env.do(t, http.MethodPost, "/quotes?async=true", quoteBody)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp AcceptedResponse
	decode(t, rr, &resp)
	if resp.RequestID == "" {
		t.Error("expected requestId")
	}

	deadline := time.Now().Add(2 * time.Second)
	for received.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if received.Load() != 1 {
		t.Errorf("expected 1 quote request on the bus, got %d", received.Load())
	}
}

func TestTotalsAndFormula(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Totals", func(t *testing.T) {
		body := `{
		  "upfront": [{"id":"a","grossValue":1000}],
		  "annual": [{"id":"b","grossValue":500}],
		  "monthly": [{"id":"c","grossValue":100}]
		}`
		req := httptest.NewRequest(http.MethodPost, "/totals", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var totals domain.Totals
		decode(t, rr, &totals)
		if totals.TotalFirstYear != 2700 {
			t.Errorf("expected first year 2700, got %f", totals.TotalFirstYear)
		}
		if totals.TotalSubsequentYears != 1700 {
			t.Errorf("expected subsequent years 1700, got %f", totals.TotalSubsequentYears)
		}
	})

	t.Run("ParseFormula", func(t *testing.T) {
		body := `{"formula":"0,03% sobre o volume, mínimo de R$ 800","volume":1000000}`
		req := httptest.NewRequest(http.MethodPost, "/formula/parse", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ParseFormulaResponse
		decode(t, rr, &resp)
		if !near(resp.Rate, 0.0003) {
			t.Errorf("expected rate 0.0003, got %f", resp.Rate)
		}
		if resp.Minimum != 800 {
			t.Errorf("expected minimum 800, got %f", resp.Minimum)
		}
		if resp.Maximum != nil {
			t.Errorf("expected no maximum, got %v", *resp.Maximum)
		}
		if resp.Value == nil || !near(*resp.Value, 800) {
			t.Errorf("expected value 800, got %v", resp.Value)
		}
		if resp.Formatted != "R$ 800,00" {
			t.Errorf("expected formatted R$ 800,00, got %s", resp.Formatted)
		}
	})
}

func TestIssuanceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var iss domain.Issuance

	t.Run("Create", func(t *testing.T) {
		body := `{
		  "requester": "ana@example.com",
		  "recipientCompany": "Acme S.A.",
		  "combination": {"category": "CRI"},
		  "series": [{"number": 1, "notionalValue": 30000000}, {"number": 2, "notionalValue": 20000000}]
		}`
		rr := env.do(t, http.MethodPost, "/issuances", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		decode(t, rr, &iss)

		if !strings.HasPrefix(iss.Number, "EM-") || !strings.HasSuffix(iss.Number, "-0001") {
			t.Errorf("unexpected issuance number %s", iss.Number)
		}
		if iss.Volume != 50_000_000 {
			t.Errorf("expected volume from series, got %f", iss.Volume)
		}
		if iss.Status != domain.IssuanceDraft {
			t.Errorf("expected draft status, got %s", iss.Status)
		}
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/issuances", `{"combination":{"category":"CRI"},"volume":10}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without requester, got %d", rr.Code)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/issuances/"+iss.ID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rr = env.do(t, http.MethodGet, "/issuances/unknown", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/issuances/"+iss.ID+"/status", `{"status":"enviada","reason":"sent to client"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var updated domain.Issuance
		decode(t, rr, &updated)
		if updated.Status != domain.IssuanceSent || updated.SentAt == nil {
			t.Errorf("expected sent status with sentAt, got %s %v", updated.Status, updated.SentAt)
		}

		rr = env.do(t, http.MethodPut, "/issuances/"+iss.ID+"/status", `{"status":"archived"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown status, got %d", rr.Code)
		}
	})

	t.Run("History", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/issuances/"+iss.ID+"/history", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Events []domain.IssuanceEvent `json:"events"`
			Count  int                    `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 2 {
			t.Fatalf("expected 2 events, got %d", resp.Count)
		}
		if resp.Events[1].To != domain.IssuanceSent {
			t.Errorf("expected last transition to enviada, got %s", resp.Events[1].To)
		}
	})

	t.Run("QuoteForIssuance", func(t *testing.T) {
		env.seedCatalog(t)
		body := `{"issuanceId":"` + iss.ID + `","combination":{"category":"DEB"},"volume":10000000}`
		rr := env.do(t, http.MethodPost, "/quotes", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var q domain.Quote
		decode(t, rr, &q)
		if q.IssuanceID != iss.ID {
			t.Errorf("expected issuance id %s, got %s", iss.ID, q.IssuanceID)
		}
	})
}

func TestReviewRuleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("List", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/review-rules", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != len(rules.DefaultRules()) {
			t.Errorf("expected %d rules, got %d", len(rules.DefaultRules()), resp.Count)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/review-rules/gross-up-ceiling", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		rr = env.do(t, http.MethodGet, "/review-rules/nope", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		body := `{"id":"bad","name":"Bad","expression":"calculated >","enabled":true}`
		rr := env.do(t, http.MethodPost, "/review-rules", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateInvalidOutcome", func(t *testing.T) {
		body := `{"id":"bad","name":"Bad","expression":"calculated","bands":[{"outcome":"maybe"}],"enabled":true}`
		rr := env.do(t, http.MethodPost, "/review-rules", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		body := `{
		  "id": "large-annual",
		  "name": "Large annual cost",
		  "expression": "periodicity == \"anual\" && gross > 100000.0",
		  "bands": [
		    {"upperLimit": 1, "outcome": ".pass", "reason": "ok"},
		    {"lowerLimit": 1, "outcome": ".review", "reason": "large annual cost"}
		  ],
		  "enabled": true
		}`
		rr := env.do(t, http.MethodPost, "/review-rules", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = env.do(t, http.MethodPost, "/review-rules/reload", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		// Reload replaces the in-memory set with what is stored.
		if env.engine.RulesCount() != 1 {
			t.Errorf("expected 1 rule after reload, got %d", env.engine.RulesCount())
		}
	})
}

func TestServiceUnavailable(t *testing.T) {
	srv := NewServer(domain.ServerConfig{}, nil, nil, nil, nil, nil, "test")

	paths := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/quotes/abc", ""},
		{http.MethodPost, "/quotes", quoteBody},
		{http.MethodPost, "/quotes?async=true", quoteBody},
		{http.MethodGet, "/catalog/custody", ""},
		{http.MethodGet, "/review-rules", ""},
		{http.MethodPost, "/issuances", `{}`},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			req := httptest.NewRequest(p.method, p.path, bytes.NewBufferString(p.body))
			req.Header.Set(TenantIDHeader, testTenant)
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, req)

			if rr.Code != http.StatusServiceUnavailable {
				t.Errorf("expected status 503, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("RecoverReturnsJSON", func(t *testing.T) {
		h := TracingMiddleware(RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/quotes/q-1", nil))

		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "internal server error") {
			t.Errorf("unexpected body %s", rr.Body.String())
		}
	})

	t.Run("StatusWriterCounts", func(t *testing.T) {
		rr := httptest.NewRecorder()
		sw := wrapWriter(rr)
		sw.WriteHeader(http.StatusAccepted)
		_, _ = sw.Write([]byte("hello"))

		if sw.statusCode != http.StatusAccepted || sw.bytes != 5 {
			t.Errorf("expected 202 and 5 bytes, got %d and %d", sw.statusCode, sw.bytes)
		}
	})

	t.Run("RouteResource", func(t *testing.T) {
		var key, id, route string
		r := chi.NewRouter()
		r.Get("/quotes/{id}/export.csv", func(w http.ResponseWriter, req *http.Request) {
			route = routePattern(req)
			key, id = routeResource(req, route)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quotes/q-42/export.csv", nil))

		if route != "/quotes/{id}/export.csv" {
			t.Errorf("unexpected route %q", route)
		}
		if key != "quote.id" || id != "q-42" {
			t.Errorf("expected quote.id=q-42, got %s=%s", key, id)
		}
	})

	t.Run("CheckTenantID", func(t *testing.T) {
		if err := checkTenantID("acme-br_01"); err != nil {
			t.Errorf("expected valid tenant, got %v", err)
		}
		for _, bad := range []string{"", GlobalTenantID, "a.b", "a b"} {
			if checkTenantID(bad) == nil {
				t.Errorf("expected %q to be rejected", bad)
			}
		}
	})
}
