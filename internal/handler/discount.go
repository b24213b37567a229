package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

func (h *Handler) validateCode(w http.ResponseWriter, r *http.Request) {
	var (
		code        string
		subtotal    decimal.Decimal
		hasSubtotal bool
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "subtotal":
			subtotal, err = decodeDecimal(d)
			hasSubtotal = true
		default:
			return d.Skip()
		}
		return invalidField(key, err)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if code == "" || !hasSubtotal || subtotal.IsNegative() {
		writeError(w, r, apperr.Validation("debe indicar el código y un subtotal válido"))
		return
	}

	res, err := h.validator.Validate(r.Context(), code, subtotal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(res.Valid) })
			e.Field("discountAmount", func(e *jx.Encoder) { money(e, res.Amount) })
			if res.Code != nil {
				e.Field("code", func(e *jx.Encoder) { e.Str(res.Code.Code) })
				e.Field("discountType", func(e *jx.Encoder) { e.Str(string(res.Code.Type)) })
				e.Field("discountValue", func(e *jx.Encoder) { money(e, res.Code.Value) })
			}
			if res.Reason != nil {
				e.Field("reason", func(e *jx.Encoder) { e.Str(apperr.Message(res.Reason)) })
			}
		})
	})
}

func (h *Handler) createCode(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var in discount.CreateInput
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			in.Code, err = d.Str()
		case "influencerId":
			in.InfluencerID, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			in.Type = discount.Type(s)
		case "discountValue":
			in.Value, err = decodeDecimal(d)
		case "minPurchase":
			in.MinPurchase, err = decodeOptDecimal(d)
		case "maxUses":
			in.MaxUses, err = decodeOptInt(d)
		case "validUntil":
			var s *string
			if s, err = decodeOptStr(d); s != nil {
				in.ValidUntil = *s
			}
		default:
			return d.Skip()
		}
		return invalidField(key, err)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.discounts.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCode(w, http.StatusCreated, c)
}

func (h *Handler) updateCode(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var in discount.UpdateInput
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "discountType":
			var s string
			s, err = d.Str()
			t := discount.Type(s)
			in.Type = &t
		case "discountValue":
			in.Value, err = decodeOptDecimal(d)
		case "minPurchase":
			in.MinPurchase, err = decodeOptDecimal(d)
		case "maxUses":
			in.MaxUses, err = decodeOptInt(d)
		case "isActive":
			var b bool
			b, err = d.Bool()
			in.IsActive = &b
		case "validUntil":
			in.ValidUntil, err = decodeOptStr(d)
		default:
			return d.Skip()
		}
		return invalidField(key, err)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.discounts.Update(r.Context(), chi.URLParam(r, "code"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCode(w, http.StatusOK, c)
}

func (h *Handler) deactivateCode(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.discounts.Deactivate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCode(w, http.StatusOK, c)
}

func (h *Handler) deleteCode(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.discounts.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getCode(w http.ResponseWriter, r *http.Request) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.discounts.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Codes of other influencers are reported as missing.
	if a.Role != payout.RoleAdmin && a.InfluencerID != c.InfluencerID {
		writeError(w, r, discount.ErrNotFound)
		return
	}
	writeCode(w, http.StatusOK, c)
}

func (h *Handler) listCodes(w http.ResponseWriter, r *http.Request) {
	influencerID := chi.URLParam(r, "id")
	if _, err := requireAdminOr(r, influencerID); err != nil {
		writeError(w, r, err)
		return
	}
	codes, err := h.discounts.ListByInfluencer(r.Context(), influencerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range codes {
				encodeCode(e, &codes[i])
			}
		})
	})
}

func writeCode(w http.ResponseWriter, status int, c *discount.Code) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeCode(e, c) })
}

func encodeCode(e *jx.Encoder, c *discount.Code) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("influencerId", func(e *jx.Encoder) { e.Str(c.InfluencerID) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("discountValue", func(e *jx.Encoder) { money(e, c.Value) })
		e.Field("minPurchase", func(e *jx.Encoder) { optMoney(e, c.MinPurchase) })
		e.Field("maxUses", func(e *jx.Encoder) {
			if c.MaxUses == nil {
				e.Null()
				return
			}
			e.Int(*c.MaxUses)
		})
		e.Field("usedCount", func(e *jx.Encoder) { e.Int(c.UsedCount) })
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.IsActive) })
		e.Field("validFrom", func(e *jx.Encoder) { timestamp(e, c.ValidFrom) })
		e.Field("validUntil", func(e *jx.Encoder) { optTimestamp(e, c.ValidUntil) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, c.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, c.UpdatedAt) })
	})
}
