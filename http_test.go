package bankd_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mittelbank/bankd"
)

type problemBody struct {
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Status     int    `json:"status"`
	Violations []struct {
		Field      string `json:"field"`
		Constraint string `json:"constraint"`
		Message    string `json:"message"`
	} `json:"violations"`
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	repo := bankd.NewMemoryEndpoint()
	nooplog := zerolog.Nop()
	svc, err := bankd.NewService(repo, testBank, &nooplog)
	require.NoError(t, err)
	return bankd.NewHTTPHandler(svc, bankd.CORSConfig{}, &nooplog)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func createClient(t *testing.T, h http.Handler) int {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v2/clients", `{"firstname":"Ada","lastname":"Lovelace"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var got map[string]any
	decodeBody(t, rec, &got)
	return int(got["id"].(float64))
}

func createSavingsAccount(t *testing.T, h http.Handler, ownerID int) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v2/savings-accounts",
		fmt.Sprintf(`{"ownerId":%d,"interestRate":"0.25"}`, ownerID))
	require.Equal(t, http.StatusCreated, rec.Code)
	var got map[string]any
	decodeBody(t, rec, &got)
	return got["iban"].(string)
}

func deposit(t *testing.T, h http.Handler, iban, amount string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v2/accounts/"+iban+"/deposits",
		fmt.Sprintf(`{"entryDate":%q,"amount":%q,"entryType":"deposit"}`, time.Now().Format(time.RFC3339), amount))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())
}

func TestUnknownPathIsAProblem(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/clients", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p problemBody
	decodeBody(t, rec, &p)
	assert.Equal(t, http.StatusNotFound, p.Status)
}

func TestClientEndpoints(t *testing.T) {
	t.Run("create returns 201 with the assigned id", func(tt *testing.T) {
		h := newTestHandler(tt)
		rec := doJSON(tt, h, http.MethodPost, "/api/v2/clients", `{"firstname":"Ada","lastname":"Lovelace"}`)
		require.Equal(tt, http.StatusCreated, rec.Code)

		var got map[string]any
		decodeBody(tt, rec, &got)
		assert.Equal(tt, float64(1), got["id"])
		assert.Equal(tt, "Ada", got["firstname"])
		assert.Equal(tt, "Lovelace", got["lastname"])
	})

	t.Run("blank names yield 422 with sorted violations", func(tt *testing.T) {
		h := newTestHandler(tt)
		rec := doJSON(tt, h, http.MethodPost, "/api/v2/clients", `{"firstname":"  ","lastname":""}`)
		require.Equal(tt, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(tt, "application/problem+json", rec.Header().Get("Content-Type"))

		var p problemBody
		decodeBody(tt, rec, &p)
		require.Len(tt, p.Violations, 2)
		assert.Equal(tt, "firstname", p.Violations[0].Field)
		assert.Equal(tt, "NotBlank", p.Violations[0].Constraint)
		assert.Equal(tt, "lastname", p.Violations[1].Field)
	})

	t.Run("an overlong name yields a Size violation", func(tt *testing.T) {
		h := newTestHandler(tt)
		long := strings.Repeat("a", 101)
		rec := doJSON(tt, h, http.MethodPost, "/api/v2/clients",
			fmt.Sprintf(`{"firstname":%q,"lastname":"Lovelace"}`, long))
		require.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		var p problemBody
		decodeBody(tt, rec, &p)
		require.Len(tt, p.Violations, 1)
		assert.Equal(tt, "Size", p.Violations[0].Constraint)
	})

	t.Run("malformed JSON yields 422", func(tt *testing.T) {
		h := newTestHandler(tt)
		rec := doJSON(tt, h, http.MethodPost, "/api/v2/clients", `{"firstname":`)
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown client yields 404", func(tt *testing.T) {
		h := newTestHandler(tt)
		rec := doJSON(tt, h, http.MethodGet, "/api/v2/clients/42", "")
		assert.Equal(tt, http.StatusNotFound, rec.Code)
	})

	t.Run("deleting a client owning accounts yields 422", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		createSavingsAccount(tt, h, id)

		rec := doJSON(tt, h, http.MethodDelete, fmt.Sprintf("/api/v2/clients/%d", id), "")
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("delete returns 204", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		rec := doJSON(tt, h, http.MethodDelete, fmt.Sprintf("/api/v2/clients/%d", id), "")
		assert.Equal(tt, http.StatusNoContent, rec.Code)
	})
}

func TestAccountEndpoints(t *testing.T) {
	t.Run("savings creation returns a fresh zero-balance account", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/savings-accounts",
			fmt.Sprintf(`{"ownerId":%d,"interestRate":"0.25"}`, id))
		require.Equal(tt, http.StatusCreated, rec.Code)

		var got map[string]any
		decodeBody(tt, rec, &got)
		iban := got["iban"].(string)
		assert.Len(tt, iban, 22)
		assert.True(tt, strings.HasPrefix(iban, "DE"))
		assert.Equal(tt, "0", got["balance"])
		assert.Equal(tt, "savings", got["type"])
		assert.Equal(tt, "0.25", got["interestRate"])
		owner := got["owner"].(map[string]any)
		assert.Equal(tt, float64(id), owner["id"])
	})

	t.Run("current creation requires the overdraft fields", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/current-accounts",
			fmt.Sprintf(`{"ownerId":%d}`, id))
		require.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		var p problemBody
		decodeBody(tt, rec, &p)
		require.Len(tt, p.Violations, 2)
		assert.Equal(tt, "overdraftInterestRate", p.Violations[0].Field)
		assert.Equal(tt, "overdraftLimit", p.Violations[1].Field)
	})

	t.Run("creation with an unknown owner yields 422", func(tt *testing.T) {
		h := newTestHandler(tt)
		rec := doJSON(tt, h, http.MethodPost, "/api/v2/savings-accounts", `{"ownerId":999}`)
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("a type annotation disagreeing with the path is rejected", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/savings-accounts",
			fmt.Sprintf(`{"ownerId":%d,"type":"current"}`, id))
		require.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		var p problemBody
		decodeBody(tt, rec, &p)
		require.Len(tt, p.Violations, 1)
		assert.Equal(tt, "type", p.Violations[0].Field)
		assert.Equal(tt, "Pattern", p.Violations[0].Constraint)
	})

	t.Run("typed getter on the wrong variant yields 404", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		rec := doJSON(tt, h, http.MethodGet, "/api/v2/current-accounts/"+iban, "")
		assert.Equal(tt, http.StatusNotFound, rec.Code)

		rec = doJSON(tt, h, http.MethodGet, "/api/v2/savings-accounts/"+iban, "")
		assert.Equal(tt, http.StatusOK, rec.Code)
	})

	t.Run("update returns the merged account", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)
		deposit(tt, h, iban, "30")

		rec := doJSON(tt, h, http.MethodPut, "/api/v2/savings-accounts/"+iban,
			fmt.Sprintf(`{"ownerId":%d,"interestRate":"1.75","balance":"9999"}`, id))
		require.Equal(tt, http.StatusOK, rec.Code)

		var got map[string]any
		decodeBody(tt, rec, &got)
		assert.Equal(tt, iban, got["iban"])
		assert.Equal(tt, "30", got["balance"])
		assert.Equal(tt, "1.75", got["interestRate"])
	})

	t.Run("listing filters by ownerId", func(tt *testing.T) {
		h := newTestHandler(tt)
		ada := createClient(tt, h)
		chas := createClient(tt, h)
		createSavingsAccount(tt, h, ada)
		createSavingsAccount(tt, h, ada)
		createSavingsAccount(tt, h, chas)

		rec := doJSON(tt, h, http.MethodGet, "/api/v2/accounts", "")
		require.Equal(tt, http.StatusOK, rec.Code)
		var all []map[string]any
		decodeBody(tt, rec, &all)
		assert.Len(tt, all, 3)

		rec = doJSON(tt, h, http.MethodGet, fmt.Sprintf("/api/v2/accounts?ownerId=%d", ada), "")
		require.Equal(tt, http.StatusOK, rec.Code)
		var adas []map[string]any
		decodeBody(tt, rec, &adas)
		assert.Len(tt, adas, 2)

		rec = doJSON(tt, h, http.MethodGet, "/api/v2/accounts?ownerId=abc", "")
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("deletion guards and succeeds", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)
		deposit(tt, h, iban, "10")

		rec := doJSON(tt, h, http.MethodDelete, "/api/v2/accounts/"+iban, "")
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		rec = doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/withdrawals",
			fmt.Sprintf(`{"entryDate":%q,"amount":"10","entryType":"withdraw"}`, time.Now().Format(time.RFC3339)))
		require.Equal(tt, http.StatusOK, rec.Code)

		rec = doJSON(tt, h, http.MethodDelete, "/api/v2/accounts/"+iban, "")
		assert.Equal(tt, http.StatusNoContent, rec.Code)

		rec = doJSON(tt, h, http.MethodDelete, "/api/v2/accounts/"+iban, "")
		assert.Equal(tt, http.StatusNotFound, rec.Code)
	})
}

func TestLedgerEndpoints(t *testing.T) {
	t.Run("deposit posts and the balance follows", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/deposits",
			fmt.Sprintf(`{"description":"opening","entryDate":%q,"amount":"100.50","entryType":"deposit"}`,
				time.Now().Format(time.RFC3339)))
		require.Equal(tt, http.StatusOK, rec.Code)

		var got map[string]any
		decodeBody(tt, rec, &got)
		assert.NotEmpty(tt, got["id"])
		assert.Equal(tt, iban, got["iban"])
		assert.Equal(tt, "opening", got["description"])
		assert.Equal(tt, "100.5", got["amount"])

		rec = doJSON(tt, h, http.MethodGet, "/api/v2/accounts/"+iban, "")
		require.Equal(tt, http.StatusOK, rec.Code)
		var acct map[string]any
		decodeBody(tt, rec, &acct)
		assert.Equal(tt, "100.5", acct["balance"])
	})

	t.Run("a disagreeing entryType changes nothing", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/withdrawals",
			fmt.Sprintf(`{"entryDate":%q,"amount":"10","entryType":"deposit"}`, time.Now().Format(time.RFC3339)))
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		rec = doJSON(tt, h, http.MethodGet, "/api/v2/accounts/"+iban+"/entries", "")
		require.Equal(tt, http.StatusOK, rec.Code)
		var entries []map[string]any
		decodeBody(tt, rec, &entries)
		assert.Empty(tt, entries)
	})

	t.Run("an overdraw on savings yields 422 and keeps the balance", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)
		deposit(tt, h, iban, "100")

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/withdrawals",
			fmt.Sprintf(`{"entryDate":%q,"amount":"150","entryType":"withdraw"}`, time.Now().Format(time.RFC3339)))
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		rec = doJSON(tt, h, http.MethodGet, "/api/v2/accounts/"+iban, "")
		require.Equal(tt, http.StatusOK, rec.Code)
		var acct map[string]any
		decodeBody(tt, rec, &acct)
		assert.Equal(tt, "100", acct["balance"])
	})

	t.Run("a present but empty description is rejected", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/deposits",
			fmt.Sprintf(`{"description":"","entryDate":%q,"amount":"10","entryType":"deposit"}`,
				time.Now().Format(time.RFC3339)))
		require.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		var p problemBody
		decodeBody(tt, rec, &p)
		require.Len(tt, p.Violations, 1)
		assert.Equal(tt, "description", p.Violations[0].Field)
		assert.Equal(tt, "Size", p.Violations[0].Constraint)

		// an absent description stays fine
		rec = doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/deposits",
			fmt.Sprintf(`{"entryDate":%q,"amount":"10","entryType":"deposit"}`, time.Now().Format(time.RFC3339)))
		assert.Equal(tt, http.StatusOK, rec.Code)
	})

	t.Run("a future entryDate is rejected", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		rec := doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/deposits",
			fmt.Sprintf(`{"entryDate":%q,"amount":"10","entryType":"deposit"}`,
				time.Now().Add(time.Hour).Format(time.RFC3339)))
		require.Equal(tt, http.StatusUnprocessableEntity, rec.Code)

		var p problemBody
		decodeBody(tt, rec, &p)
		require.Len(tt, p.Violations, 1)
		assert.Equal(tt, "PastOrPresent", p.Violations[0].Constraint)
	})

	t.Run("entries come back sorted ascending", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		dates := []time.Time{
			time.Now().Add(-1 * time.Hour),
			time.Now().Add(-3 * time.Hour),
			time.Now().Add(-2 * time.Hour),
		}
		for _, at := range dates {
			rec := doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/deposits",
				fmt.Sprintf(`{"entryDate":%q,"amount":"1","entryType":"deposit"}`, at.Format(time.RFC3339)))
			require.Equal(tt, http.StatusOK, rec.Code)
		}

		rec := doJSON(tt, h, http.MethodGet, "/api/v2/accounts/"+iban+"/entries", "")
		require.Equal(tt, http.StatusOK, rec.Code)

		var entries []struct {
			EntryDate time.Time `json:"entryDate"`
		}
		decodeBody(tt, rec, &entries)
		require.Len(tt, entries, 3)
		assert.True(tt, entries[0].EntryDate.Before(entries[1].EntryDate))
		assert.True(tt, entries[1].EntryDate.Before(entries[2].EntryDate))
	})

	t.Run("window bounds exclude their endpoints", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		// UTC keeps the RFC 3339 offset out of the query string.
		t1 := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Second)
		tMid := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
		t2 := time.Now().UTC().Add(-1 * time.Hour).Truncate(time.Second)
		for _, at := range []time.Time{t1, tMid, t2} {
			rec := doJSON(tt, h, http.MethodPost, "/api/v2/accounts/"+iban+"/deposits",
				fmt.Sprintf(`{"entryDate":%q,"amount":"1","entryType":"deposit"}`, at.Format(time.RFC3339)))
			require.Equal(tt, http.StatusOK, rec.Code)
		}

		rec := doJSON(tt, h, http.MethodGet,
			"/api/v2/accounts/"+iban+"/entries?from="+t1.Format(time.RFC3339)+"&to="+t2.Format(time.RFC3339), "")
		require.Equal(tt, http.StatusOK, rec.Code)

		var entries []struct {
			EntryDate time.Time `json:"entryDate"`
		}
		decodeBody(tt, rec, &entries)
		require.Len(tt, entries, 1)
		assert.True(tt, entries[0].EntryDate.Equal(tMid))
	})

	t.Run("a malformed window bound yields 422", func(tt *testing.T) {
		h := newTestHandler(tt)
		id := createClient(tt, h)
		iban := createSavingsAccount(tt, h, id)

		rec := doJSON(tt, h, http.MethodGet, "/api/v2/accounts/"+iban+"/entries?from=yesterday", "")
		assert.Equal(tt, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("entries on an unknown account yield 404", func(tt *testing.T) {
		h := newTestHandler(tt)
		rec := doJSON(tt, h, http.MethodGet, "/api/v2/accounts/DE00000000000000000000/entries", "")
		assert.Equal(tt, http.StatusNotFound, rec.Code)
	})
}

func TestStatementEndpoint(t *testing.T) {
	h := newTestHandler(t)
	id := createClient(t, h)
	iban := createSavingsAccount(t, h, id)
	deposit(t, h, iban, "250")

	rec := doJSON(t, h, http.MethodGet, "/api/v2/accounts/"+iban+"/statement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), iban)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = doJSON(t, h, http.MethodGet, "/api/v2/accounts/DE00000000000000000000/statement", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
