package handlers

import (
	"bytes"
	"net/http"
	"strings"

	"finance-tracker/internal/ledger"
	"finance-tracker/internal/models"
	"finance-tracker/internal/statement"
	"finance-tracker/internal/storage"

	"github.com/shopspring/decimal"
)

type createAccountRequest struct {
	Name            string           `json:"name"`
	Type            string           `json:"type"`
	Currency        string           `json:"currency"`
	Color           string           `json:"color"`
	CurrentBalance  decimal.Decimal  `json:"current_balance"`
	CreditCardLimit *decimal.Decimal `json:"credit_card_limit"`
	CutOffDay       *int             `json:"cut_off_day"`
	PaymentDay      *int             `json:"payment_day"`
}

// updateAccountRequest has no current_balance: balances only move through
// the ledger.
type updateAccountRequest struct {
	Name            *string          `json:"name"`
	Type            *string          `json:"type"`
	Currency        *string          `json:"currency"`
	Color           *string          `json:"color"`
	CreditCardLimit *decimal.Decimal `json:"credit_card_limit"`
	CutOffDay       *int             `json:"cut_off_day"`
	PaymentDay      *int             `json:"payment_day"`
}

func (req updateAccountRequest) validate() error {
	if req.Name != nil {
		if err := checkLength("name", *req.Name, 1, 250); err != nil {
			return err
		}
	}
	if req.Type != nil {
		if err := checkLength("type", *req.Type, 1, 100); err != nil {
			return err
		}
	}
	if req.Currency != nil {
		if err := checkLength("currency", *req.Currency, 1, 5); err != nil {
			return err
		}
	}
	if req.CreditCardLimit != nil {
		if err := ledger.ValidateMoney("credit_card_limit", *req.CreditCardLimit); err != nil {
			return err
		}
	}
	if err := ledger.ValidateDay("cut_off_day", req.CutOffDay); err != nil {
		return err
	}
	return ledger.ValidateDay("payment_day", req.PaymentDay)
}

type statusRequest struct {
	Status string `json:"status"`
}

// ListAccounts returns the user's accounts, optionally filtered by
// ?status= and ?search= (case-insensitive match on the name).
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	q := r.URL.Query()

	filter := storage.AccountListFilter{Search: strings.TrimSpace(q.Get("search"))}
	if s := q.Get("status"); s != "" {
		filter.Status = models.AccountStatus(strings.ToUpper(s))
		if !filter.Status.Valid() {
			h.writeError(w, r, "ListAccounts", invalid("status", "must be ACTIVE or INACTIVE"))
			return
		}
	}

	accounts, err := h.repo.ListAccounts(r.Context(), user.ID, filter)
	if err != nil {
		h.writeError(w, r, "ListAccounts", err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GetAccount returns one account.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	account, err := h.repo.FindAccount(r.Context(), storage.AccountFilter{UserID: user.ID, ID: r.PathValue("id")})
	if err != nil {
		h.writeError(w, r, "GetAccount", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// CreateAccount opens an account. A non-zero current_balance is booked as
// an opening transaction.
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "CreateAccount", err)
		return
	}

	account, err := h.ledger.OpenAccount(r.Context(), user.ID, ledger.OpenAccountCommand{
		Name:            strings.TrimSpace(req.Name),
		Type:            strings.TrimSpace(req.Type),
		Currency:        strings.TrimSpace(req.Currency),
		Color:           req.Color,
		OpeningBalance:  req.CurrentBalance,
		CreditCardLimit: req.CreditCardLimit,
		CutOffDay:       req.CutOffDay,
		PaymentDay:      req.PaymentDay,
	})
	if err != nil {
		h.writeError(w, r, "CreateAccount", err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// UpdateAccount edits the descriptive fields of an account.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	var req updateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "UpdateAccount", err)
		return
	}
	if err := req.validate(); err != nil {
		h.writeError(w, r, "UpdateAccount", err)
		return
	}

	h.patchAccount(w, r, user.ID, storage.AccountPatch{
		Name:            req.Name,
		Type:            req.Type,
		Currency:        req.Currency,
		Color:           req.Color,
		CreditCardLimit: req.CreditCardLimit,
		CutOffDay:       req.CutOffDay,
		PaymentDay:      req.PaymentDay,
	})
}

// UpdateAccountStatus activates or disables an account.
func (h *Handlers) UpdateAccountStatus(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "UpdateAccountStatus", err)
		return
	}
	status := models.AccountStatus(strings.ToUpper(req.Status))
	if !status.Valid() {
		h.writeError(w, r, "UpdateAccountStatus", invalid("status", "must be ACTIVE or INACTIVE"))
		return
	}
	h.patchAccount(w, r, user.ID, storage.AccountPatch{Status: &status})
}

func (h *Handlers) patchAccount(w http.ResponseWriter, r *http.Request, userID string, patch storage.AccountPatch) {
	id := r.PathValue("id")
	n, err := h.repo.UpdateAccountFields(r.Context(), userID, id, patch)
	if err != nil {
		h.writeError(w, r, "UpdateAccountFields", err)
		return
	}
	if n == 0 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	account, err := h.repo.FindAccount(r.Context(), storage.AccountFilter{UserID: userID, ID: id})
	if err != nil {
		h.writeError(w, r, "FindAccount", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// DeleteAccount removes an account and all of its transactions.
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	n, err := h.repo.DeleteAccount(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, "DeleteAccount", err)
		return
	}
	if n == 0 {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Statement downloads the account history as ?format=pdf (default) or xlsx.
func (h *Handlers) Statement(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "pdf"
	}
	if format != "pdf" && format != "xlsx" {
		h.writeError(w, r, "Statement", invalid("format", "must be pdf or xlsx"))
		return
	}

	account, err := h.repo.FindAccount(r.Context(), storage.AccountFilter{UserID: user.ID, ID: r.PathValue("id")})
	if err != nil {
		h.writeError(w, r, "Statement", err)
		return
	}
	transactions, err := h.repo.ListTransactions(r.Context(), user.ID, account.ID, storage.TransactionListFilter{})
	if err != nil {
		h.writeError(w, r, "Statement", err)
		return
	}

	s := statement.Statement{Account: *account, Transactions: transactions, GeneratedAt: h.now()}
	var buf bytes.Buffer
	contentType := "application/pdf"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = statement.WriteXLSX(&buf, s)
	} else {
		err = statement.WritePDF(&buf, s)
	}
	if err != nil {
		h.serverError(w, r, "Statement", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+s.Filename(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
