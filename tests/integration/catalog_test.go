//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestListProducts(t *testing.T) {
	products := call[listResponse[productResponse]](t, http.MethodGet, "/api/products", nil, http.StatusOK)

	if len(products.Items) < seededProducts {
		t.Fatalf("expected at least %d products, got %d", seededProducts, len(products.Items))
	}
	for _, p := range products.Items {
		if p.ID == 0 || p.Name == "" || p.Price == "" {
			t.Errorf("incomplete product: %+v", p)
		}
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/products/999999", nil, adminKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("expected code 404, got %d", body.Code)
	}
}

func TestGetProduct_InvalidID(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/products/abc", nil, adminKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateCustomer_DuplicateEmail(t *testing.T) {
	email := fmt.Sprintf("dup-%d@example.com", time.Now().UnixNano())
	body := map[string]string{"name": "Dup", "email": email}

	c := call[customerResponse](t, http.MethodPost, "/api/customers", body, http.StatusCreated)
	if c.Tier != "BASIC" {
		t.Errorf("expected BASIC tier, got %q", c.Tier)
	}

	resp := do(t, http.MethodPost, "/api/customers", body, adminKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCouponUse(t *testing.T) {
	code := fmt.Sprintf("ONCE%d", time.Now().UnixNano())
	call[couponResponse](t, http.MethodPost, "/api/coupons",
		map[string]any{"code": code, "discount_percentage": "5"}, http.StatusCreated)

	used := call[couponResponse](t, http.MethodPost, "/api/coupons/"+code+"/use", nil, http.StatusOK)
	if !used.Used {
		t.Fatal("expected coupon to be used")
	}

	resp := do(t, http.MethodPost, "/api/coupons/"+code+"/use", nil, adminKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second use, got %d", resp.StatusCode)
	}
}
