package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/httputil"
	"github.com/ScrapCrafters/scrap_layer/services/industry"
	"github.com/ScrapCrafters/scrap_layer/services/materials"
)

func (h *handler) createRequirement(w http.ResponseWriter, r *http.Request) {
	industryID, err := queryActor(r, "industry_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in industry.CreateRequirementInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.app.Industry.CreateRequirement(r.Context(), industryID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

func (h *handler) listRequirements(w http.ResponseWriter, r *http.Request) {
	filter := industry.RequirementFilter{
		Status:     industry.Status(httputil.QueryString(r, "status")),
		IndustryID: httputil.QueryString(r, "industry_id"),
	}
	if raw := httputil.QueryString(r, "scrap_type"); raw != "" {
		t, err := materials.Parse(raw)
		if err != nil {
			h.fail(w, r, svcerrors.InvalidInput("scrap_type", err.Error()))
			return
		}
		filter.ScrapType = t
	}
	reqs, err := h.app.Industry.ListRequirements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *handler) getRequirement(w http.ResponseWriter, r *http.Request) {
	detail, err := h.app.Industry.GetRequirement(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

type fulfillRequest struct {
	DealerID   string  `json:"dealer_id"`
	QuantityKg float64 `json:"quantity_kg"`
}

func (h *handler) fulfillRequirement(w http.ResponseWriter, r *http.Request) {
	var body fulfillRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	dealerID, err := actor(r, "dealer_id", body.DealerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.app.Industry.Fulfill(r.Context(), mux.Vars(r)["id"], dealerID, body.QuantityKg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) matchDealers(w http.ResponseWriter, r *http.Request) {
	matches, err := h.app.Industry.MatchDealers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, matches)
}

func (h *handler) dealerInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.app.Inventory.List(r.Context(), mux.Vars(r)["dealer_id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *handler) listPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tasks, err := h.app.Industry.ListPayments(r.Context(), industry.PaymentFilter{
		Status:        industry.PaymentStatus(httputil.QueryString(r, "status")),
		DealerID:      httputil.QueryString(r, "dealer_id"),
		IndustryID:    httputil.QueryString(r, "industry_id"),
		RequirementID: httputil.QueryString(r, "requirement_id"),
		Limit:         limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tasks)
}

func (h *handler) getPayment(w http.ResponseWriter, r *http.Request) {
	task, err := h.app.Industry.GetPayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (h *handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Industry.SettlePayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
