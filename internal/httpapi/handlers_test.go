package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lucciole/backend/internal/domain"
	"lucciole/backend/internal/report"
	"lucciole/backend/internal/service"
	"lucciole/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	catalog := domain.DefaultCatalog()
	repo := memory.New(catalog)
	svc := service.New(repo, catalog)
	reports := report.NewAggregator(repo, nil, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, reports, "*")
}

func loginAs(t *testing.T, handler http.Handler, username string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": username + "123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "manager",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "manager",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleItems_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDeliveryThenListRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "manager")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", token, domain.DeliveryRequest{
		Name:         "Acqua Tonica",
		Category:     domain.CategoryBar,
		Quantity:     24,
		MinThreshold: 6,
		Unit:         domain.UnitPezzi,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// A second delivery of the same item merges instead of duplicating.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items", token, domain.DeliveryRequest{
		Name:     " acqua tonica ",
		Category: domain.CategoryBar,
		Quantity: 6,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	listRec := doJSON(t, handler, http.MethodGet, "/api/v1/items", token, nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var body struct {
		Items []domain.Item `json:"items"`
	}
	if err := json.NewDecoder(listRec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("expected merged single item, got %d", len(body.Items))
	}
	if body.Items[0].Quantity != 30 {
		t.Fatalf("expected quantity 30, got %v", body.Items[0].Quantity)
	}
}

func TestDeltaActionClampsAtZero(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "bar")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", token, domain.DeliveryRequest{
		Name:     "Lattina Cola",
		Category: domain.CategoryBar,
		Quantity: 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("delivery failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Item domain.Item `json:"item"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created item: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items/"+created.Item.ID+"/delta", token, domain.DeltaRequest{Delta: -10, Note: "breakage"})
	if rec.Code != http.StatusOK {
		t.Fatalf("delta failed: %d %s", rec.Code, rec.Body.String())
	}

	getRec := doJSON(t, handler, http.MethodGet, "/api/v1/items/"+created.Item.ID, token, nil)
	var fetched struct {
		Item domain.Item `json:"item"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if fetched.Item.Quantity != 0 {
		t.Fatalf("expected clamp at zero, got %v", fetched.Item.Quantity)
	}
}

func TestStaffCannotReadLogsOrReports(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "bar")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/logs", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on logs, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/sales?from=2026-08-01&to=2026-08-03", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on reports, got %d", rec.Code)
	}
}

func TestSalesReportEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	manager := loginAs(t, handler, "manager")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/menu-items", manager, domain.MenuItemCreateRequest{
		Name:      "Spritz",
		MenuType:  domain.MenuTypeDish,
		CostPrice: "1.20",
		SellPrice: "7.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("menu item create failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Item domain.Item `json:"item"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created item: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items/"+created.Item.ID+"/sell", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sell failed: %d %s", rec.Code, rec.Body.String())
	}

	today := time.Now().UTC().Format("2006-01-02")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/sales?from="+today+"&to="+today, manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report failed: %d %s", rec.Code, rec.Body.String())
	}
	var result domain.Report
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0].Sold != 1 {
		t.Fatalf("expected one sold unit in report, got %+v", result.Rows)
	}
	if len(result.Chart) != 1 {
		t.Fatalf("expected one chart bucket, got %+v", result.Chart)
	}
}

func TestShoppingListPutAndGet(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cucina")

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/shopping-list", token, map[string]any{
		"notes": map[string]string{"Ristorante": "farina, passata"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shopping-list", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get failed: %d %s", rec.Code, rec.Body.String())
	}
	var list domain.ShoppingList
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Notes["Ristorante"] != "farina, passata" {
		t.Fatalf("unexpected notes: %+v", list.Notes)
	}
	if list.UpdatedBy != "cucina" {
		t.Fatalf("expected author stamp, got %q", list.UpdatedBy)
	}
}

func TestDeleteRequiresSeniorManager(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	manager := loginAs(t, handler, "manager")
	senior := loginAs(t, handler, "direzione")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", manager, domain.DeliveryRequest{
		Name:     "Cloro Granulare",
		Category: domain.CategoryPiscina,
		Quantity: 10,
	})
	var created struct {
		Item domain.Item `json:"item"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created item: %v", err)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/items/"+created.Item.ID, manager, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain manager, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/items/"+created.Item.ID, senior, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for senior manager, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
