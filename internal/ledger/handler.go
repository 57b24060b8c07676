package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxNameLength    = 100
	dateLayout       = "2006-01-02"
)

var maxAmount = decimal.NewFromInt(1_000_000_000)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.ListAccounts(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var input AccountInput
	if !decodeJSON(w, r, &input) {
		return
	}
	var ok bool
	if input.Name, ok = validName(w, input.Name); !ok {
		return
	}

	account, err := h.repo.CreateAccount(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var input AccountInput
	if !decodeJSON(w, r, &input) {
		return
	}
	var ok bool
	if input.Name, ok = validName(w, input.Name); !ok {
		return
	}

	account, err := h.repo.UpdateAccount(r.Context(), id, input)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, ErrAccountExists):
			writeError(w, http.StatusConflict, "account already exists")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update account")
		}
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	if err := h.repo.DeleteAccount(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, ErrAccountInUse):
			writeError(w, http.StatusConflict, "account has transactions")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to delete account")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}

	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var input CategoryInput
	if !decodeJSON(w, r, &input) {
		return
	}
	var ok bool
	if input.Name, ok = validName(w, input.Name); !ok {
		return
	}

	category, err := h.repo.CreateCategory(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrCategoryExists) {
			writeError(w, http.StatusConflict, "category already exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	writeJSON(w, http.StatusCreated, category)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	if err := h.repo.DeleteCategory(r.Context(), id); err != nil {
		if errors.Is(err, ErrCategoryNotFound) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseTransactionFilter(w, r)
	if !ok {
		return
	}

	page, err := h.repo.ListTransactions(r.Context(), filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	input, ok := parseTransactionInput(w, r)
	if !ok {
		return
	}

	t, err := h.repo.CreateTransaction(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, ErrCategoryNotFound):
			writeError(w, http.StatusNotFound, "category not found")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to create transaction")
		}
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	input, ok := parseTransactionInput(w, r)
	if !ok {
		return
	}

	t, err := h.repo.UpdateTransaction(r.Context(), id, input)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransactionNotFound):
			writeError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, ErrCategoryNotFound):
			writeError(w, http.StatusNotFound, "category not found")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update transaction")
		}
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	if err := h.repo.DeleteTransaction(r.Context(), id); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete transaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseTransactionInput(w http.ResponseWriter, r *http.Request) (TransactionInput, bool) {
	var input TransactionInput
	if !decodeJSON(w, r, &input) {
		return TransactionInput{}, false
	}

	input.AccountID = strings.TrimSpace(input.AccountID)
	input.Item = strings.TrimSpace(input.Item)
	input.Description = strings.TrimSpace(input.Description)

	if _, err := uuid.Parse(input.AccountID); err != nil {
		writeError(w, http.StatusBadRequest, "account_id is invalid")
		return TransactionInput{}, false
	}
	if input.CategoryID != nil {
		categoryID := strings.TrimSpace(*input.CategoryID)
		input.CategoryID = nil
		if categoryID != "" {
			if _, err := uuid.Parse(categoryID); err != nil {
				writeError(w, http.StatusBadRequest, "category_id is invalid")
				return TransactionInput{}, false
			}
			input.CategoryID = &categoryID
		}
	}
	if input.Item == "" {
		writeError(w, http.StatusBadRequest, "item is required")
		return TransactionInput{}, false
	}
	if !utf8.ValidString(input.Item) || utf8.RuneCountInString(input.Item) > 150 {
		writeError(w, http.StatusBadRequest, "item is invalid")
		return TransactionInput{}, false
	}
	if !utf8.ValidString(input.Description) || utf8.RuneCountInString(input.Description) > 1000 {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return TransactionInput{}, false
	}
	if !input.Type.Valid() {
		writeError(w, http.StatusBadRequest, "type must be expense or income")
		return TransactionInput{}, false
	}
	if !input.Amount.IsPositive() || input.Amount.GreaterThan(maxAmount) {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return TransactionInput{}, false
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		writeError(w, http.StatusBadRequest, "amount has more than 2 decimal places")
		return TransactionInput{}, false
	}

	return input, true
}

func parseTransactionFilter(w http.ResponseWriter, r *http.Request) (TransactionFilter, bool) {
	query := r.URL.Query()
	filter := TransactionFilter{
		Search:     strings.TrimSpace(query.Get("search")),
		AccountID:  strings.TrimSpace(query.Get("account_id")),
		CategoryID: strings.TrimSpace(query.Get("category_id")),
		Page:       1,
		Limit:      DefaultPageLimit,
	}

	if filter.AccountID != "" {
		if _, err := uuid.Parse(filter.AccountID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid account id")
			return TransactionFilter{}, false
		}
	}
	if filter.CategoryID != "" {
		if _, err := uuid.Parse(filter.CategoryID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid category id")
			return TransactionFilter{}, false
		}
	}

	if raw := strings.TrimSpace(query.Get("date_from")); raw != "" {
		from, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date_from must be YYYY-MM-DD")
			return TransactionFilter{}, false
		}
		filter.DateFrom = &from
	}
	if raw := strings.TrimSpace(query.Get("date_to")); raw != "" {
		to, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date_to must be YYYY-MM-DD")
			return TransactionFilter{}, false
		}
		// date_to names a whole day; the filter bound is the next midnight.
		end := to.AddDate(0, 0, 1)
		filter.DateTo = &end
	}
	if filter.DateFrom != nil && filter.DateTo != nil && !filter.DateFrom.Before(*filter.DateTo) {
		writeError(w, http.StatusBadRequest, "date_from is after date_to")
		return TransactionFilter{}, false
	}

	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return TransactionFilter{}, false
		}
		filter.Page = page
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxPageLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(MaxPageLimit))
			return TransactionFilter{}, false
		}
		filter.Limit = limit
	}

	return filter, true
}

func validName(w http.ResponseWriter, raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return "", false
	}
	if !utf8.ValidString(name) || utf8.RuneCountInString(name) > maxNameLength {
		writeError(w, http.StatusBadRequest, "name is invalid")
		return "", false
	}
	return name, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
