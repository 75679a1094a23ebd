package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/smartshop/internal/domain/auth"
	"github.com/xenking/smartshop/internal/domain/coupon"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/domain/product"
)

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("deleted", func(e *jx.Encoder) { e.Bool(p.Deleted) })
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) error {
	products, err := h.products.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range products {
				encodeProduct(e, &products[i])
			}
		})
	})
	return nil
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	p, err := h.products.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p) })
	return nil
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) error {
	var req product.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			req.Name, err = d.Str()
		case "category":
			req.Category, err = d.Str()
		case "price":
			req.Price, err = decodeDecimal(d)
		case "stock":
			req.Stock, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	p, err := h.products.Create(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeProduct(e, p) })
	return nil
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req product.UpdateRequest
	err = decodeBody(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			v, err := d.Str()
			req.Name = &v
			return err
		case "category":
			v, err := d.Str()
			req.Category = &v
			return err
		case "price":
			v, err := decodeDecimal(d)
			req.Price = &v
			return err
		case "stock":
			v, err := d.Int()
			req.Stock = &v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return err
	}
	p, err := h.products.Update(r.Context(), id, req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p) })
	return nil
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := h.products.Delete(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func encodeCustomer(e *jx.Encoder, c *customer.Customer) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
		e.Field("email", func(e *jx.Encoder) { e.Str(c.Email) })
		e.Field("tier", func(e *jx.Encoder) { e.Str(string(c.Tier)) })
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, c.CreatedAt) })
	})
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) error {
	customers, err := h.customers.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range customers {
				encodeCustomer(e, &customers[i])
			}
		})
	})
	return nil
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := auth.RequireOwnerOr(r.Context(), auth.ScopeCustomersRead, id); err != nil {
		return err
	}
	c, err := h.customers.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCustomer(e, c) })
	return nil
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) error {
	var req customer.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			req.Name, err = d.Str()
		case "email":
			req.Email, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	c, err := h.customers.Create(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCustomer(e, c) })
	return nil
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discount_percentage", func(e *jx.Encoder) { encodeDecimal(e, c.Percentage) })
		e.Field("used", func(e *jx.Encoder) { e.Bool(c.Used) })
		e.Field("used_at", func(e *jx.Encoder) { encodeOptTime(e, c.UsedAt) })
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, c.CreatedAt) })
	})
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) error {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range coupons {
				encodeCoupon(e, &coupons[i])
			}
		})
	})
	return nil
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) error {
	c, err := h.coupons.FindByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
	return nil
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) error {
	var req coupon.CreateRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "code":
			req.Code, err = d.Str()
		case "discount_percentage":
			req.Percentage, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	c, err := h.coupons.Create(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
	return nil
}

func (h *Handler) useCoupon(w http.ResponseWriter, r *http.Request) error {
	c, err := h.coupons.Use(r.Context(), r.PathValue("code"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
	return nil
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := h.coupons.Delete(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
