package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ScrapCrafters/scrap_layer/internal/httputil"
	"github.com/ScrapCrafters/scrap_layer/services/marketplace"
)

func (h *handler) createProduct(w http.ResponseWriter, r *http.Request) {
	artistID, err := queryActor(r, "artist_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in marketplace.CreateProductInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	listing, err := h.app.Marketplace.CreateProduct(r.Context(), artistID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, listing)
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	availableOnly, err := httputil.QueryBool(r, "available_only", true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	listings, err := h.app.Marketplace.ListProducts(r.Context(), availableOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listings)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	listing, err := h.app.Marketplace.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listing)
}

type purchaseRequest struct {
	BuyerID      string `json:"buyer_id"`
	Quantity     *int   `json:"quantity"`
	PayWithCoins *bool  `json:"pay_with_coins"`
}

func (h *handler) purchaseProduct(w http.ResponseWriter, r *http.Request) {
	var body purchaseRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	buyerID, err := actor(r, "buyer_id", body.BuyerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := marketplace.PurchaseInput{BuyerID: buyerID, Quantity: 1, PayWithCoins: true}
	if body.Quantity != nil {
		in.Quantity = *body.Quantity
	}
	if body.PayWithCoins != nil {
		in.PayWithCoins = *body.PayWithCoins
	}

	result, err := h.app.Marketplace.Purchase(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
