package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lucciole/backend/internal/domain"
)

func dialWatch(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/items/watch?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []domain.Item {
	t.Helper()

	var frame struct {
		Items []domain.Item `json:"items"`
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame.Items
}

func TestWatchRedactsPricesForStaff(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	server := httptest.NewServer(handler)
	defer server.Close()

	manager := loginAs(t, handler, "manager")
	staff := loginAs(t, handler, "bar")

	conn := dialWatch(t, server, staff)
	defer conn.Close()

	if items := readFrame(t, conn); len(items) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d items", len(items))
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/menu-items", manager, domain.MenuItemCreateRequest{
		Name:      "Spritz",
		MenuType:  domain.MenuTypeDish,
		CostPrice: "1.20",
		SellPrice: "7.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("menu item create failed: %d %s", rec.Code, rec.Body.String())
	}

	items := readFrame(t, conn)
	if len(items) != 1 {
		t.Fatalf("expected the new item in the next frame, got %d", len(items))
	}
	if !items[0].SellPrice.IsZero() || !items[0].CostPrice.IsZero() {
		t.Fatalf("staff frame must not carry prices, got sell=%s cost=%s", items[0].SellPrice, items[0].CostPrice)
	}
}

func TestWatchKeepsPricesForManagers(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	server := httptest.NewServer(handler)
	defer server.Close()

	manager := loginAs(t, handler, "manager")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/menu-items", manager, domain.MenuItemCreateRequest{
		Name:      "Spritz",
		MenuType:  domain.MenuTypeDish,
		SellPrice: "7.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("menu item create failed: %d %s", rec.Code, rec.Body.String())
	}

	conn := dialWatch(t, server, manager)
	defer conn.Close()

	items := readFrame(t, conn)
	if len(items) != 1 {
		t.Fatalf("expected one item in the initial snapshot, got %d", len(items))
	}
	if items[0].SellPrice.IsZero() {
		t.Fatalf("manager frame must carry prices")
	}
}

func TestWatchScopesKitchenToItsDepartment(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	server := httptest.NewServer(handler)
	defer server.Close()

	manager := loginAs(t, handler, "manager")
	kitchen := loginAs(t, handler, "cucina")

	for _, req := range []domain.DeliveryRequest{
		{Name: "Gin London Dry", Category: domain.CategoryBar, Quantity: 3},
		{Name: "Farina 00", Category: domain.CategoryRistorante, Quantity: 25},
	} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", manager, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("delivery failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	conn := dialWatch(t, server, kitchen)
	defer conn.Close()

	items := readFrame(t, conn)
	if len(items) != 1 || items[0].Category != domain.CategoryRistorante {
		t.Fatalf("kitchen feed must only show Ristorante, got %+v", items)
	}
}

func TestWatchRejectsMissingToken(t *testing.T) {
	api := newTestAPI(t)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/items/watch"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
