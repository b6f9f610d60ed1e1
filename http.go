package bankd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func NewHTTPHandler(svc Service, cors CORSConfig, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		svc: svc,
		log: log,
	}

	mux := chi.NewMux()
	mux.Use(RequestLogger(log))
	mux.Use(CORS(cors))
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, ErrNotFound{Resource: "path", ID: r.URL.Path})
	})

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})

	mux.Route("/api/v2", func(r chi.Router) {
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", hndlr.listClients)
			r.Post("/", hndlr.addClient)
			r.Get("/{id}", hndlr.getClient)
			r.Put("/{id}", hndlr.updateClient)
			r.Delete("/{id}", hndlr.deleteClient)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", hndlr.listAccounts)
			r.Route("/{iban}", func(r chi.Router) {
				r.Get("/", hndlr.getAccount)
				r.Delete("/", hndlr.deleteAccount)
				hndlr.mountLedgerRoutes(r)
			})
		})

		r.Route("/current-accounts", func(r chi.Router) {
			hndlr.mountTypedRoutes(r, AccountTypeCurrent)
		})
		r.Route("/savings-accounts", func(r chi.Router) {
			hndlr.mountTypedRoutes(r, AccountTypeSavings)
		})
	})

	return mux
}

type httpHandler struct {
	svc Service
	log *zerolog.Logger
}

// mountLedgerRoutes registers the entry ledger surface below an account
// subtree.
func (h *httpHandler) mountLedgerRoutes(r chi.Router) {
	r.Get("/entries", h.listEntries)
	r.Post("/deposits", h.postEntry(EntryTypeDeposit))
	r.Post("/withdrawals", h.postEntry(EntryTypeWithdraw))
	r.Get("/statement", h.statement)
}

// mountTypedRoutes registers the variant-typed account surface, which
// additionally carries create and update.
func (h *httpHandler) mountTypedRoutes(r chi.Router, typ AccountType) {
	r.Get("/", h.listTypedAccounts(typ))
	r.Post("/", h.addAccount(typ))
	r.Route("/{iban}", func(r chi.Router) {
		r.Get("/", h.getTypedAccount(typ))
		r.Put("/", h.updateAccount(typ))
		r.Delete("/", h.deleteAccount)
		h.mountLedgerRoutes(r)
	})
}

//
// DTOs
//

type clientDTO struct {
	ID        int    `json:"id,omitempty"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

func (dto clientDTO) validate() error {
	var violations []Violation
	for field, val := range map[string]string{
		"firstname": dto.Firstname,
		"lastname":  dto.Lastname,
	} {
		if strings.TrimSpace(val) == "" {
			violations = append(violations, Violation{
				Field:      field,
				Constraint: "NotBlank",
				Message:    field + " cannot be blank",
			})
		} else if utf8.RuneCountInString(val) > 100 {
			violations = append(violations, Violation{
				Field:      field,
				Constraint: "Size",
				Message:    field + " must be between 1 and 100 characters",
			})
		}
	}
	if len(violations) > 0 {
		sortViolations(violations)
		return ErrValidation{Violations: violations}
	}
	return nil
}

func clientToDTO(c Client) clientDTO {
	return clientDTO{ID: c.ID, Firstname: c.Firstname, Lastname: c.Lastname}
}

type accountDTO struct {
	IBAN    string           `json:"iban,omitempty"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
	Owner   *clientDTO       `json:"owner,omitempty"`
	OwnerID *int             `json:"ownerId,omitempty"`
	Type    string           `json:"type,omitempty"`

	OverdraftLimit        *decimal.Decimal `json:"overdraftLimit,omitempty"`
	OverdraftInterestRate *decimal.Decimal `json:"overdraftInterestRate,omitempty"`
	InterestRate          *decimal.Decimal `json:"interestRate,omitempty"`
}

// validate checks the write-facing fields of an account payload for the
// given variant. Read-only fields (iban, balance, owner) are ignored.
func (dto accountDTO) validate(typ AccountType) error {
	var violations []Violation

	if dto.OwnerID == nil {
		violations = append(violations, Violation{
			Field:      "ownerId",
			Constraint: "NotNull",
			Message:    "Owner cannot be null",
		})
	}
	if dto.Type != "" && dto.Type != string(typ) {
		violations = append(violations, Violation{
			Field:      "type",
			Constraint: "Pattern",
			Message:    "type must be \"" + string(typ) + "\"",
		})
	}

	switch typ {
	case AccountTypeCurrent:
		violations = append(violations, requireNonNegative("overdraftLimit", dto.OverdraftLimit, true)...)
		violations = append(violations, requireNonNegative("overdraftInterestRate", dto.OverdraftInterestRate, true)...)
	case AccountTypeSavings:
		violations = append(violations, requireNonNegative("interestRate", dto.InterestRate, false)...)
	}

	if len(violations) > 0 {
		sortViolations(violations)
		return ErrValidation{Violations: violations}
	}
	return nil
}

func requireNonNegative(field string, d *decimal.Decimal, required bool) []Violation {
	if d == nil {
		if !required {
			return nil
		}
		return []Violation{{Field: field, Constraint: "NotNull", Message: field + " is required"}}
	}
	if d.IsNegative() {
		return []Violation{{Field: field, Constraint: "Min", Message: field + " must not be negative"}}
	}
	return nil
}

func (dto accountDTO) toAccount(typ AccountType) Account {
	acct := Account{Type: typ}
	switch typ {
	case AccountTypeCurrent:
		acct.OverdraftLimit = *dto.OverdraftLimit
		acct.OverdraftInterestRate = *dto.OverdraftInterestRate
	case AccountTypeSavings:
		if dto.InterestRate != nil {
			acct.InterestRate = *dto.InterestRate
		}
	}
	return acct
}

func accountToDTO(a Account) accountDTO {
	owner := clientToDTO(a.Owner)
	dto := accountDTO{
		IBAN:    a.IBAN,
		Balance: &a.Balance,
		Owner:   &owner,
		Type:    string(a.Type),
	}
	switch a.Type {
	case AccountTypeCurrent:
		dto.OverdraftLimit = &a.OverdraftLimit
		dto.OverdraftInterestRate = &a.OverdraftInterestRate
	case AccountTypeSavings:
		dto.InterestRate = &a.InterestRate
	}
	return dto
}

type entryDTO struct {
	ID          string           `json:"id,omitempty"`
	IBAN        string           `json:"iban,omitempty"`
	Description *string          `json:"description,omitempty"`
	EntryDate   *time.Time       `json:"entryDate,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	EntryType   string           `json:"entryType,omitempty"`
}

func (dto entryDTO) validate() error {
	var violations []Violation

	if dto.Description != nil {
		if n := utf8.RuneCountInString(*dto.Description); n == 0 || n > 255 {
			violations = append(violations, Violation{
				Field:      "description",
				Constraint: "Size",
				Message:    "description must be between 1 and 255 characters",
			})
		}
	}
	if dto.EntryDate == nil {
		violations = append(violations, Violation{
			Field:      "entryDate",
			Constraint: "NotNull",
			Message:    "entryDate is required",
		})
	} else if dto.EntryDate.After(time.Now()) {
		violations = append(violations, Violation{
			Field:      "entryDate",
			Constraint: "PastOrPresent",
			Message:    "entryDate must be in the past or present",
		})
	}
	if dto.Amount == nil {
		violations = append(violations, Violation{
			Field:      "amount",
			Constraint: "NotNull",
			Message:    "amount is required",
		})
	} else if dto.Amount.IsNegative() {
		violations = append(violations, Violation{
			Field:      "amount",
			Constraint: "Min",
			Message:    "amount must not be negative",
		})
	}
	switch strings.ToLower(dto.EntryType) {
	case string(EntryTypeDeposit), string(EntryTypeWithdraw):
	default:
		violations = append(violations, Violation{
			Field:      "entryType",
			Constraint: "Pattern",
			Message:    "entryType must be \"deposit\" or \"withdraw\"",
		})
	}

	if len(violations) > 0 {
		sortViolations(violations)
		return ErrValidation{Violations: violations}
	}
	return nil
}

func entryToDTO(e Entry) entryDTO {
	date := e.EntryDate
	amount := e.Amount
	dto := entryDTO{
		ID:        e.ID,
		IBAN:      e.IBAN,
		EntryDate: &date,
		Amount:    &amount,
		EntryType: string(e.Type),
	}
	if e.Description != "" {
		desc := e.Description
		dto.Description = &desc
	}
	return dto
}

func sortViolations(vs []Violation) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Field < vs[j].Field })
}

//
// client handlers
//

func (h *httpHandler) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.svc.ListClients(r.Context())
	if err != nil {
		writeProblem(w, err)
		return
	}
	dtos := make([]clientDTO, 0, len(clients))
	for _, c := range clients {
		dtos = append(dtos, clientToDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *httpHandler) addClient(w http.ResponseWriter, r *http.Request) {
	var dto clientDTO
	if !h.decode(w, r, &dto) {
		return
	}
	if err := dto.validate(); err != nil {
		writeProblem(w, err)
		return
	}
	c, err := h.svc.AddClient(r.Context(), Client{
		ID:        dto.ID,
		Firstname: dto.Firstname,
		Lastname:  dto.Lastname,
	})
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clientToDTO(c))
}

func (h *httpHandler) getClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetClient(r.Context(), id)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clientToDTO(c))
}

func (h *httpHandler) updateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(w, r)
	if !ok {
		return
	}
	var dto clientDTO
	if !h.decode(w, r, &dto) {
		return
	}
	if err := dto.validate(); err != nil {
		writeProblem(w, err)
		return
	}
	c, err := h.svc.UpdateClient(r.Context(), id, Client{
		Firstname: dto.Firstname,
		Lastname:  dto.Lastname,
	})
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clientToDTO(c))
}

func (h *httpHandler) deleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteClient(r.Context(), id); err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, ErrNotFound{Resource: "client", ID: chi.URLParam(r, "id")})
		return 0, false
	}
	return id, true
}

//
// account handlers
//

func (h *httpHandler) listAccounts(w http.ResponseWriter, r *http.Request) {
	var ownerID *int
	if raw := r.URL.Query().Get("ownerId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeProblem(w, ErrValidation{Violations: []Violation{{
				Field:   "ownerId",
				Message: "ownerId must be an integer",
			}}})
			return
		}
		ownerID = &id
	}

	accts, err := h.svc.ListAccounts(r.Context(), ownerID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountsToDTOs(accts))
}

func (h *httpHandler) listTypedAccounts(typ AccountType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accts, err := h.svc.ListAccountsByType(r.Context(), typ)
		if err != nil {
			writeProblem(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accountsToDTOs(accts))
	}
}

func accountsToDTOs(accts []Account) []accountDTO {
	dtos := make([]accountDTO, 0, len(accts))
	for _, a := range accts {
		dtos = append(dtos, accountToDTO(a))
	}
	return dtos
}

func (h *httpHandler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.GetAccount(r.Context(), chi.URLParam(r, "iban"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountToDTO(acct))
}

func (h *httpHandler) getTypedAccount(typ AccountType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := h.svc.GetAccountByType(r.Context(), chi.URLParam(r, "iban"), typ)
		if err != nil {
			writeProblem(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accountToDTO(acct))
	}
}

func (h *httpHandler) addAccount(typ AccountType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dto accountDTO
		if !h.decode(w, r, &dto) {
			return
		}
		if err := dto.validate(typ); err != nil {
			writeProblem(w, err)
			return
		}
		acct, err := h.svc.AddAccount(r.Context(), dto.toAccount(typ), *dto.OwnerID)
		if err != nil {
			writeProblem(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, accountToDTO(acct))
	}
}

func (h *httpHandler) updateAccount(typ AccountType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dto accountDTO
		if !h.decode(w, r, &dto) {
			return
		}
		if err := dto.validate(typ); err != nil {
			writeProblem(w, err)
			return
		}
		acct, err := h.svc.UpdateAccount(r.Context(), chi.URLParam(r, "iban"), dto.toAccount(typ), *dto.OwnerID)
		if err != nil {
			writeProblem(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accountToDTO(acct))
	}
}

func (h *httpHandler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAccount(r.Context(), chi.URLParam(r, "iban")); err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// entry handlers
//

func (h *httpHandler) listEntries(w http.ResponseWriter, r *http.Request) {
	from, ok := timeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := timeParam(w, r, "to")
	if !ok {
		return
	}

	entries, err := h.svc.GetEntries(r.Context(), chi.URLParam(r, "iban"), from, to)
	if err != nil {
		writeProblem(w, err)
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntryDate.Before(entries[j].EntryDate)
	})
	dtos := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, entryToDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// postEntry handles the deposit and withdrawal endpoints. The embedded
// entryType must agree with the URL action; a disagreeing payload is
// rejected before any state change.
func (h *httpHandler) postEntry(typ EntryType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dto entryDTO
		if !h.decode(w, r, &dto) {
			return
		}
		if err := dto.validate(); err != nil {
			writeProblem(w, err)
			return
		}
		if !strings.EqualFold(dto.EntryType, string(typ)) {
			writeProblem(w, ErrWrongBookingType{Expected: string(typ)})
			return
		}

		var desc string
		if dto.Description != nil {
			desc = *dto.Description
		}
		posted, err := h.svc.PostEntry(r.Context(), chi.URLParam(r, "iban"), Entry{
			Description: desc,
			EntryDate:   *dto.EntryDate,
			Amount:      *dto.Amount,
			Type:        typ,
		})
		if err != nil {
			writeProblem(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entryToDTO(posted))
	}
}

func (h *httpHandler) statement(w http.ResponseWriter, r *http.Request) {
	iban := chi.URLParam(r, "iban")

	var buf bytes.Buffer
	if err := h.svc.Statement(r.Context(), &buf, iban); err != nil {
		writeProblem(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="statement-`+iban+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Err(err).Str("iban", iban).Msg("writing statement response")
	}
}

func timeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeProblem(w, ErrValidation{Violations: []Violation{{
			Field:   name,
			Message: name + " must be an ISO-8601 timestamp",
		}}})
		return nil, false
	}
	return &t, true
}

//
// encoding helpers
//

func (h *httpHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Err(err).Str("path", r.URL.Path).Msg("error unmarshalling JSON")
		writeProblem(w, ErrValidation{Violations: []Violation{{
			Field:   "request body",
			Message: "malformed JSON",
		}}})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// problem is an RFC 7807 problem-detail body.
type problem struct {
	Title      string      `json:"title"`
	Detail     string      `json:"detail"`
	Status     int         `json:"status"`
	Violations []Violation `json:"violations,omitempty"`
}

// writeProblem maps a domain error to its HTTP status and problem-detail
// payload. The mapping lives here and nowhere else; the core propagates
// domain errors unchanged.
func writeProblem(w http.ResponseWriter, err error) {
	p := problem{
		Title:  "Internal Server Error",
		Detail: ErrInternalServer.Error(),
		Status: http.StatusInternalServerError,
	}

	var (
		nf  ErrNotFound
		val ErrValidation
	)
	switch {
	case errors.As(err, &nf):
		p = problem{Title: "Resource not found", Detail: nf.Error(), Status: http.StatusNotFound}
	case errors.As(err, &val):
		p = problem{
			Title:      "Unprocessable Entity",
			Detail:     "Unable to process request due to constraint violations",
			Status:     http.StatusUnprocessableEntity,
			Violations: val.Violations,
		}
	case isUnprocessable(err):
		p = problem{Title: "Unprocessable Entity", Detail: err.Error(), Status: http.StatusUnprocessableEntity}
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	json.NewEncoder(w).Encode(p)
}

func isUnprocessable(err error) bool {
	var (
		cdne ErrClientDoesNotExist
		wbt  ErrWrongBookingType
		isf  ErrInsufficientFunds
		ist  ErrIllegalState
		iar  ErrIllegalArgument
	)
	return errors.As(err, &cdne) ||
		errors.As(err, &wbt) ||
		errors.As(err, &isf) ||
		errors.As(err, &ist) ||
		errors.As(err, &iar)
}
