package handlers

import (
	"net/http"
	"strconv"
	"time"

	"finance-tracker/internal/ledger"
	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"

	"github.com/shopspring/decimal"
)

// StatsTypeItem summarizes one transaction type for the month.
type StatsTypeItem struct {
	Type       models.TransactionType `json:"type"`
	Total      decimal.Decimal        `json:"total"`
	Count      int                    `json:"count"`
	Percentage float64                `json:"percentage"`
}

// StatsResponse is the monthly activity of one account.
type StatsResponse struct {
	AccountID      string                      `json:"account_id"`
	Year           int                         `json:"year"`
	Month          int                         `json:"month"`
	MonthName      string                      `json:"month_name"`
	Net            decimal.Decimal             `json:"net"`
	Types          []StatsTypeItem             `json:"types"`
	Transactions   []models.AccountTransaction `json:"transactions"`
	PrevYear       int                         `json:"prev_year"`
	PrevMonth      int                         `json:"prev_month"`
	NextYear       int                         `json:"next_year"`
	NextMonth      int                         `json:"next_month"`
	IsCurrentMonth bool                        `json:"is_current_month"`
}

// Statistics returns credits, debits and the net change of an account for
// ?year= and ?month=, defaulting to the current month.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)

	// Get year and month from query params, default to current month
	yearStr := r.URL.Query().Get("year")
	monthStr := r.URL.Query().Get("month")

	now := h.now().UTC()
	year := now.Year()
	month := int(now.Month())

	if yearStr != "" {
		if y, err := strconv.Atoi(yearStr); err == nil {
			year = y
		}
	}
	if monthStr != "" {
		if m, err := strconv.Atoi(monthStr); err == nil && m >= 1 && m <= 12 {
			month = m
		}
	}

	account, err := h.repo.FindAccount(r.Context(), storage.AccountFilter{UserID: user.ID, ID: r.PathValue("id")})
	if err != nil {
		h.writeError(w, r, "Statistics", err)
		return
	}
	all, err := h.repo.ListTransactions(r.Context(), user.ID, account.ID, storage.TransactionListFilter{})
	if err != nil {
		h.writeError(w, r, "Statistics", err)
		return
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	totals := map[models.TransactionType]*StatsTypeItem{
		models.TransactionCredit: {Type: models.TransactionCredit, Total: decimal.Zero},
		models.TransactionDebit:  {Type: models.TransactionDebit, Total: decimal.Zero},
	}
	transactions := make([]models.AccountTransaction, 0)
	net := decimal.Zero
	for _, t := range all {
		created := t.CreatedAt.UTC()
		if created.Before(start) || !created.Before(end) {
			continue
		}
		item := totals[t.Type]
		item.Total = item.Total.Add(t.Amount)
		item.Count++
		net = net.Add(ledger.SignedAmount(t.Type, t.Amount))
		transactions = append(transactions, t)
	}

	// Calculate percentages of the month's turnover
	turnover := totals[models.TransactionCredit].Total.Add(totals[models.TransactionDebit].Total)
	types := make([]StatsTypeItem, 0, len(totals))
	for _, typ := range []models.TransactionType{models.TransactionCredit, models.TransactionDebit} {
		item := *totals[typ]
		if turnover.IsPositive() {
			item.Percentage = item.Total.Div(turnover).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
		types = append(types, item)
	}

	prevDate := start.AddDate(0, -1, 0)
	nextDate := end

	writeJSON(w, http.StatusOK, StatsResponse{
		AccountID:      account.ID,
		Year:           year,
		Month:          month,
		MonthName:      time.Month(month).String(),
		Net:            net,
		Types:          types,
		Transactions:   transactions,
		PrevYear:       prevDate.Year(),
		PrevMonth:      int(prevDate.Month()),
		NextYear:       nextDate.Year(),
		NextMonth:      int(nextDate.Month()),
		IsCurrentMonth: year == now.Year() && month == int(now.Month()),
	})
}
