package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/order"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in order.CreateInput
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "lead":
			in.Lead, err = decodeLead(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				line, err := decodeCartLine(d)
				if err != nil {
					return err
				}
				in.Lines = append(in.Lines, line)
				return nil
			})
		case "postalCode":
			in.PostalCode, err = d.Str()
		default:
			return d.Skip()
		}
		return invalidField(key, err)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func decodeLead(d *jx.Decoder) (*order.Lead, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var l order.Lead
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			l.ID, err = d.Str()
		case "name":
			l.Name, err = d.Str()
		case "email":
			l.Email, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return &l, err
}

func decodeCartLine(d *jx.Decoder) (order.CartLine, error) {
	var l order.CartLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			l.ProductID, err = d.Str()
		case "variantId":
			var s *string
			if s, err = decodeOptStr(d); s != nil {
				l.VariantID = *s
			}
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = d.Str()
		return invalidField(key, err)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if code == "" {
		writeError(w, r, apperr.Validation("debe indicar el código de descuento"))
		return
	}

	o, err := h.orders.ApplyDiscount(r.Context(), chi.URLParam(r, "id"), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) changeOrderStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var status string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return invalidField(key, err)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.ChangeStatus(r.Context(), chi.URLParam(r, "id"), order.Status(status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			if o.Lead != nil {
				e.Field("lead", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						if o.Lead.ID != "" {
							e.Field("id", func(e *jx.Encoder) { e.Str(o.Lead.ID) })
						}
						e.Field("name", func(e *jx.Encoder) { e.Str(o.Lead.Name) })
						e.Field("email", func(e *jx.Encoder) { e.Str(o.Lead.Email) })
					})
				})
			}
			e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
			e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
			e.Field("shippingCost", func(e *jx.Encoder) { money(e, o.ShippingCost) })
			e.Field("realShippingCost", func(e *jx.Encoder) { optMoney(e, o.RealShippingCost) })
			e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
			e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
			e.Field("discountCodeId", func(e *jx.Encoder) { optStr(e, o.DiscountCodeID) })
			e.Field("postalCode", func(e *jx.Encoder) { e.Str(o.PostalCode) })
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range o.Items {
						encodeItem(e, &o.Items[i])
					}
				})
			})
			e.Field("itemsSnapshot", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range o.Snapshot {
						encodeSnapshotItem(e, &o.Snapshot[i])
					}
				})
			})
			e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
			e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
		})
	})
}

func encodeItem(e *jx.Encoder, it *order.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
		e.Field("variantId", func(e *jx.Encoder) { optStr(e, it.VariantID) })
		e.Field("productName", func(e *jx.Encoder) { e.Str(it.ProductName) })
		e.Field("variantName", func(e *jx.Encoder) { optStr(e, it.VariantName) })
		e.Field("size", func(e *jx.Encoder) { optStr(e, it.Size) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, it.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { money(e, it.Discount) })
		e.Field("total", func(e *jx.Encoder) { money(e, it.Total) })
	})
}

func encodeSnapshotItem(e *jx.Encoder, it *order.SnapshotItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
		e.Field("variantId", func(e *jx.Encoder) { optStr(e, it.VariantID) })
		e.Field("productName", func(e *jx.Encoder) { e.Str(it.ProductName) })
		e.Field("variantName", func(e *jx.Encoder) { optStr(e, it.VariantName) })
		e.Field("size", func(e *jx.Encoder) { optStr(e, it.Size) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, it.Subtotal) })
		e.Field("total", func(e *jx.Encoder) { money(e, it.Total) })
	})
}
