package e2e

import (
	"net/http"
	"sync"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type account struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Status         string          `json:"status"`
}

type transaction struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Note           string          `json:"note"`
	Status         string          `json:"status"`
	IsReversion    bool            `json:"is_reversion"`
}

// E2ETestSuite drives the running server over HTTP through playwright's
// request context.
type E2ETestSuite struct {
	suite.Suite
	pw  *playwright.Playwright
	api playwright.APIRequestContext
}

// SetupSuite runs once before all tests
func (suite *E2ETestSuite) SetupSuite() {
	pw, err := playwright.Run()
	require.NoError(suite.T(), err, "could not launch playwright")
	suite.pw = pw

	anon, err := pw.Request.NewContext(playwright.APIRequestNewContextOptions{
		BaseURL: playwright.String(appURL),
	})
	require.NoError(suite.T(), err, "could not create request context")
	defer anon.Dispose()

	resp, err := anon.Post("/auth/sign-in", playwright.APIRequestContextPostOptions{
		Data: map[string]string{"username": adminUser, "password": adminPassword},
	})
	require.NoError(suite.T(), err, "sign-in request failed")
	require.Equal(suite.T(), http.StatusOK, resp.Status(), "bootstrap admin could not sign in")

	var token struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(suite.T(), resp.JSON(&token))
	require.NotEmpty(suite.T(), token.AccessToken)

	api, err := pw.Request.NewContext(playwright.APIRequestNewContextOptions{
		BaseURL:          playwright.String(appURL),
		ExtraHttpHeaders: map[string]string{"Authorization": "Bearer " + token.AccessToken},
	})
	require.NoError(suite.T(), err, "could not create authenticated request context")
	suite.api = api
}

// TearDownSuite runs once after all tests
func (suite *E2ETestSuite) TearDownSuite() {
	if suite.api != nil {
		suite.api.Dispose()
	}
	if suite.pw != nil {
		suite.pw.Stop()
	}
}

func (suite *E2ETestSuite) post(path string, body any, wantStatus int, out any) {
	resp, err := suite.api.Post(path, playwright.APIRequestContextPostOptions{Data: body})
	require.NoError(suite.T(), err, "POST %s failed", path)
	text, _ := resp.Text()
	require.Equal(suite.T(), wantStatus, resp.Status(), "POST %s: %s", path, text)
	if out != nil {
		require.NoError(suite.T(), resp.JSON(out))
	}
}

func (suite *E2ETestSuite) patch(path string, body any, wantStatus int, out any) {
	resp, err := suite.api.Patch(path, playwright.APIRequestContextPatchOptions{Data: body})
	require.NoError(suite.T(), err, "PATCH %s failed", path)
	text, _ := resp.Text()
	require.Equal(suite.T(), wantStatus, resp.Status(), "PATCH %s: %s", path, text)
	if out != nil {
		require.NoError(suite.T(), resp.JSON(out))
	}
}

func (suite *E2ETestSuite) get(path string, out any) {
	resp, err := suite.api.Get(path)
	require.NoError(suite.T(), err, "GET %s failed", path)
	require.Equal(suite.T(), http.StatusOK, resp.Status(), "GET %s", path)
	require.NoError(suite.T(), resp.JSON(out))
}

func (suite *E2ETestSuite) openAccount(name, balance string) account {
	var a account
	suite.post("/accounts", map[string]any{
		"name": name, "type": "DEBIT", "currency": "MXN", "color": "#123456", "current_balance": balance,
	}, http.StatusCreated, &a)
	return a
}

func (suite *E2ETestSuite) balance(id string) decimal.Decimal {
	var a account
	suite.get("/accounts/"+id, &a)
	return a.CurrentBalance
}

func (suite *E2ETestSuite) TestRejectsMissingToken() {
	anon, err := suite.pw.Request.NewContext(playwright.APIRequestNewContextOptions{BaseURL: playwright.String(appURL)})
	require.NoError(suite.T(), err)
	defer anon.Dispose()

	resp, err := anon.Get("/accounts")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusUnauthorized, resp.Status())
}

func (suite *E2ETestSuite) TestCompleteLedgerFlow() {
	checking := suite.openAccount("E2E Checking", "500")
	savings := suite.openAccount("E2E Savings", "0")

	var debit transaction
	suite.post("/account-transactions", map[string]any{
		"account_id": checking.ID, "currency": "MXN", "type": "DEBIT", "amount": "12.50", "note": "Lunch",
	}, http.StatusCreated, &debit)
	assert.True(suite.T(), debit.CurrentBalance.Equal(decimal.RequireFromString("487.5")))

	var transfer struct {
		Origin      transaction `json:"origin"`
		Destination transaction `json:"destination"`
	}
	suite.post("/account-transactions/transfer", map[string]any{
		"origin_account_id": checking.ID, "destination_account_id": savings.ID,
		"currency": "MXN", "amount": "100", "note": "Rainy day",
	}, http.StatusCreated, &transfer)
	assert.Equal(suite.T(), "Rainy day - TRANSFER - DEBIT", transfer.Origin.Note)
	assert.Equal(suite.T(), "Rainy day - TRANSFER - CREDIT", transfer.Destination.Note)
	assert.True(suite.T(), suite.balance(checking.ID).Equal(decimal.RequireFromString("387.5")))
	assert.True(suite.T(), suite.balance(savings.ID).Equal(decimal.NewFromInt(100)))

	var revert struct {
		Original transaction  `json:"original"`
		Reversal *transaction `json:"reversal"`
		Reverted bool         `json:"reverted"`
	}
	suite.patch("/account-transactions/"+debit.ID+"/status", map[string]string{"status": "INACTIVE"}, http.StatusOK, &revert)
	require.True(suite.T(), revert.Reverted)
	require.NotNil(suite.T(), revert.Reversal)
	assert.True(suite.T(), revert.Reversal.IsReversion)
	assert.Equal(suite.T(), "Lunch - REVERT", revert.Reversal.Note)
	assert.True(suite.T(), suite.balance(checking.ID).Equal(decimal.NewFromInt(400)))

	var history []transaction
	suite.get("/account-transactions/"+checking.ID, &history)
	sum := decimal.Zero
	for _, t := range history {
		if t.Type == "CREDIT" {
			sum = sum.Add(t.Amount)
		} else {
			sum = sum.Sub(t.Amount)
		}
	}
	assert.True(suite.T(), sum.Equal(suite.balance(checking.ID)), "balance equals the signed sum of its history")

	resp, err := suite.api.Get("/accounts/" + checking.ID + "/statement?format=pdf")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, resp.Status())
	assert.Equal(suite.T(), "application/pdf", resp.Headers()["content-type"])
}

func (suite *E2ETestSuite) TestConcurrentWritesKeepBalanceConsistent() {
	a := suite.openAccount("E2E Concurrent", "100")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = suite.api.Post("/account-transactions", playwright.APIRequestContextPostOptions{Data: map[string]any{
				"account_id": a.ID, "currency": "MXN", "type": "CREDIT", "amount": "10",
			}})
		}()
		go func() {
			defer wg.Done()
			_, _ = suite.api.Post("/account-transactions", playwright.APIRequestContextPostOptions{Data: map[string]any{
				"account_id": a.ID, "currency": "MXN", "type": "DEBIT", "amount": "3",
			}})
		}()
	}
	wg.Wait()

	var history []transaction
	suite.get("/account-transactions/"+a.ID, &history)
	sum := decimal.Zero
	for _, t := range history {
		if t.Type == "CREDIT" {
			sum = sum.Add(t.Amount)
		} else {
			sum = sum.Sub(t.Amount)
		}
	}
	assert.True(suite.T(), sum.Equal(suite.balance(a.ID)), "every accepted write is reflected in the balance")
}

// TestE2ESuite runs the e2e test suite
func TestE2ESuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}
