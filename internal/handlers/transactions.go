package handlers

import (
	"net/http"
	"strings"

	"finance-tracker/internal/ledger"
	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"

	"github.com/shopspring/decimal"
)

type createTransactionRequest struct {
	AccountID string          `json:"account_id"`
	Currency  string          `json:"currency"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
}

type transferRequest struct {
	OriginAccountID      string          `json:"origin_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Currency             string          `json:"currency"`
	Amount               decimal.Decimal `json:"amount"`
	Note                 string          `json:"note"`
}

type updateTransactionRequest struct {
	Currency *string `json:"currency"`
	Note     *string `json:"note"`
}

// ListTransactions returns an account's transactions in insertion order,
// filtered by ?type=, ?status= and ?search= (case-insensitive, on the note).
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	accountID := r.PathValue("accountId")
	q := r.URL.Query()

	filter := storage.TransactionListFilter{Search: strings.TrimSpace(q.Get("search"))}
	if t := q.Get("type"); t != "" {
		filter.Type = models.TransactionType(strings.ToUpper(t))
		if !filter.Type.Valid() {
			h.writeError(w, r, "ListTransactions", invalid("type", "must be CREDIT or DEBIT"))
			return
		}
	}
	if s := q.Get("status"); s != "" {
		filter.Status = models.TransactionStatus(strings.ToUpper(s))
		if !filter.Status.Valid() {
			h.writeError(w, r, "ListTransactions", invalid("status", "must be ACTIVE, INACTIVE or REVERSION"))
			return
		}
	}

	if _, err := h.repo.FindAccount(r.Context(), storage.AccountFilter{UserID: user.ID, ID: accountID}); err != nil {
		h.writeError(w, r, "ListTransactions", err)
		return
	}
	transactions, err := h.repo.ListTransactions(r.Context(), user.ID, accountID, filter)
	if err != nil {
		h.writeError(w, r, "ListTransactions", err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

// GetTransaction returns one transaction.
func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	t, err := h.repo.FindTransaction(r.Context(), storage.TransactionFilter{UserID: user.ID, ID: r.PathValue("id")})
	if err != nil {
		h.writeError(w, r, "GetTransaction", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateTransaction records a credit or debit against an account.
func (h *Handlers) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "CreateTransaction", err)
		return
	}

	t, err := h.ledger.Record(r.Context(), user.ID, ledger.RecordCommand{
		AccountID: req.AccountID,
		Currency:  strings.TrimSpace(req.Currency),
		Type:      models.TransactionType(strings.ToUpper(req.Type)),
		Amount:    req.Amount,
		Note:      req.Note,
	})
	if err != nil {
		h.writeError(w, r, "CreateTransaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Transfer moves money between two of the user's accounts.
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "Transfer", err)
		return
	}

	result, err := h.ledger.Transfer(r.Context(), user.ID, ledger.TransferCommand{
		Origin:      req.OriginAccountID,
		Destination: req.DestinationAccountID,
		Currency:    strings.TrimSpace(req.Currency),
		Amount:      req.Amount,
		Note:        req.Note,
	})
	if err != nil {
		h.writeError(w, r, "Transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// UpdateTransaction edits the currency or note. Amount and type are fixed.
func (h *Handlers) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	id := r.PathValue("id")
	var req updateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "UpdateTransaction", err)
		return
	}
	if req.Currency != nil {
		if err := checkLength("currency", *req.Currency, 1, 5); err != nil {
			h.writeError(w, r, "UpdateTransaction", err)
			return
		}
	}

	n, err := h.repo.UpdateTransactionFields(r.Context(), user.ID, id, storage.TransactionPatch{
		Currency: req.Currency,
		Note:     req.Note,
	})
	if err != nil {
		h.writeError(w, r, "UpdateTransaction", err)
		return
	}
	if n == 0 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	t, err := h.repo.FindTransaction(r.Context(), storage.TransactionFilter{UserID: user.ID, ID: id})
	if err != nil {
		h.writeError(w, r, "UpdateTransaction", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTransaction removes a transaction and backs it out of the balance.
func (h *Handlers) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	if err := h.ledger.DeleteTransaction(r.Context(), user.ID, r.PathValue("id")); err != nil {
		h.writeError(w, r, "DeleteTransaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateTransactionStatus reverts an ACTIVE transaction. The body's status
// (INACTIVE or REVERSION) becomes the original's new status.
func (h *Handlers) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "UpdateTransactionStatus", err)
		return
	}

	result, err := h.ledger.Revert(r.Context(), user.ID, r.PathValue("id"), models.TransactionStatus(strings.ToUpper(req.Status)))
	if err != nil {
		h.writeError(w, r, "UpdateTransactionStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
