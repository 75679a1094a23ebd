package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/order"
	"github.com/xenking/smartshop/internal/domain/payment"
)

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Int64(o.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, o.Subtotal) })
		e.Field("loyalty_discount", func(e *jx.Encoder) { encodeDecimal(e, o.LoyaltyDiscount) })
		e.Field("coupon_discount", func(e *jx.Encoder) { encodeDecimal(e, o.CouponDiscount) })
		e.Field("tax_rate", func(e *jx.Encoder) { e.Num(jx.Num(o.TaxRate.String())) })
		e.Field("tax", func(e *jx.Encoder) { encodeDecimal(e, o.Tax) })
		e.Field("total", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
		e.Field("remaining", func(e *jx.Encoder) { encodeDecimal(e, o.Remaining) })
		e.Field("coupon_code", func(e *jx.Encoder) {
			if o.CouponCode == "" {
				e.Null()
				return
			}
			e.Str(o.CouponCode)
		})
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(l.ProductID) })
						e.Field("product_name", func(e *jx.Encoder) { e.Str(l.ProductName) })
						e.Field("unit_price", func(e *jx.Encoder) { encodeDecimal(e, l.UnitPrice) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("line_total", func(e *jx.Encoder) { encodeDecimal(e, l.Total) })
					})
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
	})
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.Arr(func(e *jx.Encoder) {
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) error {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
	return nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	// Without the read scope a missing order is reported like a foreign one.
	denied := auth.Require(r.Context(), auth.ScopeOrdersRead)
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		if denied != nil && errors.Is(err, apperr.ErrNotFound) {
			return denied
		}
		return err
	}
	if err := auth.RequireOwnerOr(r.Context(), auth.ScopeOrdersRead, o.CustomerID); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
	return nil
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) error {
	var req order.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "customer_id":
			req.CustomerID, err = d.Int64()
		case "coupon_code":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.CouponCode, err = d.Str()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var item order.Item
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "product_id":
						item.ProductID, err = d.Int64()
					case "quantity":
						item.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	if req.CustomerID <= 0 {
		return apperr.Validation("customer_id required")
	}
	if err := auth.RequireOwnerOr(r.Context(), auth.ScopeOrdersWrite, req.CustomerID); err != nil {
		return err
	}

	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
	return nil
}

func transitionOrder(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id int64) (*order.Order, error),
) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	o, err := fn(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
	return nil
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) error {
	return transitionOrder(w, r, h.orders.Confirm)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) error {
	return transitionOrder(w, r, h.orders.Cancel)
}

func (h *Handler) customerOrders(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := auth.RequireOwnerOr(r.Context(), auth.ScopeOrdersRead, id); err != nil {
		return err
	}
	orders, err := h.orders.ListByCustomer(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
	return nil
}

func (h *Handler) customerStatistics(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := auth.RequireOwnerOr(r.Context(), auth.ScopeCustomersRead, id); err != nil {
		return err
	}
	st, err := h.orders.Statistics(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("customer_id", func(e *jx.Encoder) { e.Int64(st.CustomerID) })
			e.Field("tier", func(e *jx.Encoder) { e.Str(string(st.Tier)) })
			e.Field("total_orders", func(e *jx.Encoder) { e.Int(st.TotalOrders) })
			e.Field("total_spent", func(e *jx.Encoder) { encodeDecimal(e, st.TotalSpent) })
			e.Field("total_remaining", func(e *jx.Encoder) { encodeDecimal(e, st.TotalRemaining) })
			e.Field("orders_by_status", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, status := range order.Statuses {
						e.Field(string(status), func(e *jx.Encoder) { e.Int(st.ByStatus[status]) })
					}
				})
			})
			e.Field("first_order_at", func(e *jx.Encoder) { encodeOptTime(e, st.FirstOrderAt) })
			e.Field("last_order_at", func(e *jx.Encoder) { encodeOptTime(e, st.LastOrderAt) })
			e.Field("recent_orders", func(e *jx.Encoder) { encodeOrders(e, st.Recent) })
		})
	})
	return nil
}

func encodePayment(e *jx.Encoder, p *payment.Payment) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(p.OrderID) })
		e.Field("number", func(e *jx.Encoder) { e.Int(p.Number) })
		e.Field("amount", func(e *jx.Encoder) { encodeDecimal(e, p.Amount) })
		e.Field("method", func(e *jx.Encoder) { e.Str(string(p.Method)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		e.Field("reference", func(e *jx.Encoder) { e.Str(p.Reference) })
		e.Field("bank_name", func(e *jx.Encoder) { e.Str(p.BankName) })
		e.Field("paid_at", func(e *jx.Encoder) { encodeTime(e, p.PaidAt) })
		e.Field("collected_at", func(e *jx.Encoder) { encodeOptTime(e, p.CollectedAt) })
		e.Field("due_date", func(e *jx.Encoder) { encodeOptTime(e, p.DueDate) })
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, p.CreatedAt) })
	})
}

func encodePayments(e *jx.Encoder, payments []payment.Payment) {
	e.Arr(func(e *jx.Encoder) {
		for i := range payments {
			encodePayment(e, &payments[i])
		}
	})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) error {
	payments, err := h.payments.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayments(e, payments) })
	return nil
}

func (h *Handler) orderPayments(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	payments, err := h.payments.ListByOrder(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayments(e, payments) })
	return nil
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	p, err := h.payments.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
	return nil
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) error {
	var req payment.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "order_id":
			req.OrderID, err = d.Int64()
		case "amount":
			req.Amount, err = decodeDecimal(d)
		case "method":
			var s string
			if s, err = d.Str(); err == nil {
				req.Method, err = payment.ParseMethod(s)
			}
		case "status":
			var s string
			if s, err = d.Str(); err == nil {
				req.Status, err = payment.ParseStatus(s)
			}
		case "reference":
			req.Reference, err = d.Str()
		case "bank_name":
			req.BankName, err = d.Str()
		case "paid_at":
			req.PaidAt, err = decodeTime(d)
		case "due_date":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var due time.Time
			if due, err = decodeTime(d); err == nil {
				req.DueDate = &due
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}

	res, err := h.payments.Create(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("payment", func(e *jx.Encoder) { encodePayment(e, res.Payment) })
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			e.Field("rejected_orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, id := range res.Rejected {
						e.Int64(id)
					}
				})
			})
		})
	})
	return nil
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req payment.UpdateRequest
	err = decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			if err != nil {
				return err
			}
			st, err := payment.ParseStatus(s)
			req.Status = &st
			return err
		case "reference":
			v, err := d.Str()
			req.Reference = &v
			return err
		case "bank_name":
			v, err := d.Str()
			req.BankName = &v
			return err
		case "collected_at":
			t, err := decodeTime(d)
			req.CollectedAt = &t
			return err
		case "due_date":
			t, err := decodeTime(d)
			req.DueDate = &t
			return err
		case "amount", "method", "number", "order_id":
			return apperr.Validation("payment %s cannot be changed", key)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return err
	}
	p, err := h.payments.Update(r.Context(), id, req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
	return nil
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := h.payments.Delete(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
