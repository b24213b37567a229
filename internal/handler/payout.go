package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/commission"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

func (h *Handler) listCommissions(w http.ResponseWriter, r *http.Request) {
	influencerID := chi.URLParam(r, "id")
	if _, err := requireAdminOr(r, influencerID); err != nil {
		writeError(w, r, err)
		return
	}
	var status *commission.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := commission.Status(s)
		if !st.Valid() {
			writeError(w, r, apperr.Validation("estado de comisión desconocido: %q", s))
			return
		}
		status = &st
	}

	list, err := h.commissions.ListByInfluencer(r.Context(), influencerID, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCommissions(e, list) })
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in payout.CreateInput
	err = decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "influencerId":
			in.InfluencerID, err = d.Str()
		case "commissionIds":
			in.CommissionIDs, err = decodeStrs(d)
		default:
			return d.Skip()
		}
		return invalidField(key, err)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.payouts.Create(r.Context(), a, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePayment(e, p, nil, "") })
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.payouts.Get(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, &v.Payment, v.Commissions, v.InvoiceLink) })
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.payouts.Invoices(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeInvoice(e, &list[i])
			}
		})
	})
}

func (h *Handler) uploadInvoice(w http.ResponseWriter, r *http.Request) {
	var key string
	h.paymentAction(w, r, func(d *jx.Decoder, field string) error {
		if field != "invoiceKey" {
			return d.Skip()
		}
		var err error
		key, err = d.Str()
		return invalidField(field, err)
	}, func(a payout.Actor, id string) (*payout.Payment, error) {
		return h.payouts.UploadInvoice(r.Context(), a, id, key)
	})
}

func (h *Handler) approvePayment(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, nil, func(a payout.Actor, id string) (*payout.Payment, error) {
		return h.payouts.Approve(r.Context(), a, id)
	})
}

func (h *Handler) rejectPayment(w http.ResponseWriter, r *http.Request) {
	var reason string
	h.paymentAction(w, r, func(d *jx.Decoder, field string) error {
		if field != "reason" {
			return d.Skip()
		}
		var err error
		reason, err = d.Str()
		return invalidField(field, err)
	}, func(a payout.Actor, id string) (*payout.Payment, error) {
		return h.payouts.Reject(r.Context(), a, id, reason)
	})
}

func (h *Handler) markPaymentPaid(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, nil, func(a payout.Actor, id string) (*payout.Payment, error) {
		return h.payouts.MarkPaid(r.Context(), a, id)
	})
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, nil, func(a payout.Actor, id string) (*payout.Payment, error) {
		return h.payouts.Cancel(r.Context(), a, id)
	})
}

func (h *Handler) addContentLinks(w http.ResponseWriter, r *http.Request) {
	var links []string
	h.paymentAction(w, r, func(d *jx.Decoder, field string) error {
		if field != "links" {
			return d.Skip()
		}
		var err error
		links, err = decodeStrs(d)
		return invalidField(field, err)
	}, func(a payout.Actor, id string) (*payout.Payment, error) {
		return h.payouts.AddContentLinks(r.Context(), a, id, links)
	})
}

// paymentAction runs a payment workflow step: it resolves the actor,
// decodes the optional body with decode and writes the updated payment.
func (h *Handler) paymentAction(
	w http.ResponseWriter,
	r *http.Request,
	decode func(d *jx.Decoder, key string) error,
	act func(a payout.Actor, id string) (*payout.Payment, error),
) {
	a, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if decode != nil {
		if err := decodeBody(r, decode); err != nil {
			writeError(w, r, err)
			return
		}
	}
	p, err := act(a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p, nil, "") })
}

func encodePayment(e *jx.Encoder, p *payout.Payment, commissions []commission.Commission, invoiceLink string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("influencerId", func(e *jx.Encoder) { e.Str(p.InfluencerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		e.Field("totalAmount", func(e *jx.Encoder) { money(e, p.TotalAmount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(p.Currency) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(p.Method)) })
		e.Field("accountHolder", func(e *jx.Encoder) { e.Str(p.AccountHolder) })
		e.Field("cvu", func(e *jx.Encoder) { e.Str(p.CVU) })
		e.Field("alias", func(e *jx.Encoder) { e.Str(p.Alias) })
		e.Field("bankName", func(e *jx.Encoder) { e.Str(p.BankName) })
		e.Field("mercadopagoEmail", func(e *jx.Encoder) { e.Str(p.MercadoPagoEmail) })
		e.Field("invoiceUrl", func(e *jx.Encoder) {
			if invoiceLink != "" {
				e.Str(invoiceLink)
				return
			}
			optStr(e, p.InvoiceURL)
		})
		e.Field("rejectionReason", func(e *jx.Encoder) { optStr(e, p.RejectionReason) })
		e.Field("contentLinks", func(e *jx.Encoder) { strs(e, p.ContentLinks) })
		e.Field("requestedAt", func(e *jx.Encoder) { timestamp(e, p.RequestedAt) })
		e.Field("invoiceUploadedAt", func(e *jx.Encoder) { optTimestamp(e, p.InvoiceUploadedAt) })
		e.Field("invoiceRejectedAt", func(e *jx.Encoder) { optTimestamp(e, p.InvoiceRejectedAt) })
		e.Field("approvedAt", func(e *jx.Encoder) { optTimestamp(e, p.ApprovedAt) })
		e.Field("paidAt", func(e *jx.Encoder) { optTimestamp(e, p.PaidAt) })
		e.Field("cancelledAt", func(e *jx.Encoder) { optTimestamp(e, p.CancelledAt) })
		if commissions != nil {
			e.Field("commissions", func(e *jx.Encoder) { encodeCommissions(e, commissions) })
		}
	})
}

func encodeCommissions(e *jx.Encoder, list []commission.Commission) {
	e.Arr(func(e *jx.Encoder) {
		for i := range list {
			c := &list[i]
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
				e.Field("orderId", func(e *jx.Encoder) { e.Str(c.OrderID) })
				e.Field("discountCodeId", func(e *jx.Encoder) { e.Str(c.DiscountCodeID) })
				e.Field("orderTotal", func(e *jx.Encoder) { money(e, c.OrderTotal) })
				e.Field("discountAmount", func(e *jx.Encoder) { money(e, c.DiscountAmount) })
				e.Field("commissionRate", func(e *jx.Encoder) { money(e, c.Rate) })
				e.Field("commissionAmount", func(e *jx.Encoder) { money(e, c.Amount) })
				e.Field("status", func(e *jx.Encoder) { e.Str(string(c.Status)) })
				e.Field("paymentId", func(e *jx.Encoder) { optStr(e, c.PaymentID) })
				e.Field("paidAt", func(e *jx.Encoder) { optTimestamp(e, c.PaidAt) })
				e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, c.CreatedAt) })
			})
		}
	})
}

func encodeInvoice(e *jx.Encoder, inv *payout.Invoice) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(inv.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(inv.Status)) })
		e.Field("url", func(e *jx.Encoder) { e.Str(inv.URL) })
		e.Field("observation", func(e *jx.Encoder) { optStr(e, inv.Observation) })
		e.Field("enabled", func(e *jx.Encoder) { e.Bool(inv.Enabled) })
		e.Field("uploadedBy", func(e *jx.Encoder) { e.Str(inv.UploadedBy) })
		e.Field("statusChangedBy", func(e *jx.Encoder) { optStr(e, inv.StatusChangedBy) })
		e.Field("statusChangedAt", func(e *jx.Encoder) { optTimestamp(e, inv.StatusChangedAt) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, inv.CreatedAt) })
	})
}
