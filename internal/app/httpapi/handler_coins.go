package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/httputil"
	"github.com/ScrapCrafters/scrap_layer/services/contracts"
)

const defaultHistoryLimit = 100

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	balance, err := h.app.Coins.Balance(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	txs, err := h.app.Ledger.History(r.Context(), mux.Vars(r)["user_id"], limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txs)
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Coins.Reconcile(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *handler) createContract(w http.ResponseWriter, r *http.Request) {
	userID, err := queryActor(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in contracts.CreateInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.app.Contracts.Create(r.Context(), userID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *handler) listContracts(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Contracts.List(r.Context(), contracts.Filter{
		UserID:   httputil.QueryString(r, "user_id"),
		ArtistID: httputil.QueryString(r, "artist_id"),
		Status:   contracts.Status(httputil.QueryString(r, "status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Contracts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

type contractStatusRequest struct {
	Status string `json:"status"`
}

func (h *handler) updateContractStatus(w http.ResponseWriter, r *http.Request) {
	var body contractStatusRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.Status == "" {
		h.fail(w, r, svcerrors.InvalidInput("status", "status is required"))
		return
	}
	c, err := h.app.Contracts.UpdateStatus(r.Context(), mux.Vars(r)["id"], contracts.Status(body.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}
