// Package handler exposes the settlement services over HTTP.
package handler

import (
	"net/http"

	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
	"github.com/xenking/smartshop/internal/domain/product"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// Services groups the domain services served by the Handler.
type Services struct {
	Products  *product.Service
	Customers *customer.Service
	Coupons   *coupon.Ledger
	Orders    *order.Service
	Payments  *payment.Service
}

// Handler serves the /api routes.
type Handler struct {
	products  *product.Service
	customers *customer.Service
	coupons   *coupon.Ledger
	orders    *order.Service
	payments  *payment.Service
	authn     *auth.Authenticator
}

// New constructs a Handler.
func New(svc Services, authn *auth.Authenticator) *Handler {
	return &Handler{
		products:  svc.Products,
		customers: svc.Customers,
		coupons:   svc.Coupons,
		orders:    svc.Orders,
		payments:  svc.Payments,
		authn:     authn,
	}
}

// handlerFunc is an HTTP handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// Routes returns the API mux. Every route requires a valid API key.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, scope string, fn handlerFunc) {
		mux.Handle(pattern, h.authenticate(scope, fn))
	}

	route("GET /api/products", auth.ScopeProductsRead, h.listProducts)
	route("POST /api/products", auth.ScopeProductsWrite, h.createProduct)
	route("GET /api/products/{id}", auth.ScopeProductsRead, h.getProduct)
	route("PUT /api/products/{id}", auth.ScopeProductsWrite, h.updateProduct)
	route("DELETE /api/products/{id}", auth.ScopeProductsWrite, h.deleteProduct)

	route("GET /api/customers", auth.ScopeCustomersRead, h.listCustomers)
	route("POST /api/customers", auth.ScopeCustomersWrite, h.createCustomer)
	// Owner checks happen inside these handlers.
	route("GET /api/customers/{id}", "", h.getCustomer)
	route("GET /api/customers/{id}/statistics", "", h.customerStatistics)
	route("GET /api/customers/{id}/orders", "", h.customerOrders)

	route("GET /api/coupons", auth.ScopeCouponsRead, h.listCoupons)
	route("POST /api/coupons", auth.ScopeCouponsWrite, h.createCoupon)
	route("GET /api/coupons/{code}", auth.ScopeCouponsRead, h.getCoupon)
	route("POST /api/coupons/{code}/use", auth.ScopeCouponsWrite, h.useCoupon)
	route("DELETE /api/coupons/{id}", auth.ScopeCouponsWrite, h.deleteCoupon)

	route("GET /api/orders", auth.ScopeOrdersRead, h.listOrders)
	route("POST /api/orders", "", h.createOrder)
	route("GET /api/orders/{id}", "", h.getOrder)
	route("PUT /api/orders/{id}/confirm", auth.ScopeOrdersWrite, h.confirmOrder)
	route("PUT /api/orders/{id}/cancel", auth.ScopeOrdersWrite, h.cancelOrder)
	route("GET /api/orders/{id}/payments", auth.ScopePaymentsRead, h.orderPayments)

	route("GET /api/payments", auth.ScopePaymentsRead, h.listPayments)
	route("POST /api/payments", auth.ScopePaymentsWrite, h.createPayment)
	route("GET /api/payments/{id}", auth.ScopePaymentsRead, h.getPayment)
	route("PUT /api/payments/{id}", auth.ScopePaymentsWrite, h.updatePayment)
	route("DELETE /api/payments/{id}", auth.ScopePaymentsWrite, h.deletePayment)

	return mux
}

// authenticate resolves the API key into a principal, checks scope when one
// is given and runs fn.
func (h *Handler) authenticate(scope string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.authn.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := auth.WithPrincipal(r.Context(), principal)
		if scope != "" {
			if err := auth.Require(ctx, scope); err != nil {
				writeError(w, r, err)
				return
			}
		}
		r = r.WithContext(ctx)
		if err := fn(w, r); err != nil {
			writeError(w, r, err)
		}
	})
}
