package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ScrapCrafters/scrap_layer/internal/httputil"
	"github.com/ScrapCrafters/scrap_layer/services/matching"
	"github.com/ScrapCrafters/scrap_layer/services/pickup"
)

func (h *handler) donate(w http.ResponseWriter, r *http.Request) {
	userID, err := queryActor(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in pickup.DonateInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.app.Pickup.Donate(r.Context(), userID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.app.Pickup.ListRequests(r.Context(), pickup.RequestFilter{
		Status:    pickup.Status(httputil.QueryString(r, "status")),
		UserID:    httputil.QueryString(r, "user_id"),
		PartnerID: httputil.QueryString(r, "partner_id"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *handler) availableRequests(w http.ResponseWriter, r *http.Request) {
	partnerID, err := queryActor(r, "partner_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lat, err := httputil.QueryFloat(r, "latitude")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lon, err := httputil.QueryFloat(r, "longitude")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reqs, err := h.app.Pickup.AvailableRequests(r.Context(), partnerID, matching.Point(lat, lon))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Pickup.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *handler) acceptRequest(w http.ResponseWriter, r *http.Request) {
	partnerID, err := queryActor(r, "partner_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.app.Pickup.Accept(r.Context(), mux.Vars(r)["id"], partnerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *handler) completeRequest(w http.ResponseWriter, r *http.Request) {
	partnerID, err := queryActor(r, "partner_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.app.Pickup.Complete(r.Context(), mux.Vars(r)["id"], partnerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
