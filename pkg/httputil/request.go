package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
)

// DefaultPageLimit is the page size when ?limit is absent
const DefaultPageLimit = 5

// ParseJSON decodes JSON from the request body into dest
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.Validation("request body is required")
		}
		return apierr.Validation(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 400 envelope on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, apierr.Validation(fmt.Sprintf("missing path parameter: %s", key))
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, apierr.Validation(fmt.Sprintf("invalid integer for %s: %s", key, str))
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes a 400 envelope on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteError(w, err)
		return 0, false
	}
	return val, true
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apierr.Validation(fmt.Sprintf("invalid integer for query param %s: %s", key, str))
	}
	return val, nil
}

// Page is a 1-based page request
type Page struct {
	Number int
	Limit  int
}

// Offset returns the number of rows to skip
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Paginate builds the response pagination block for total rows
func (p Page) Paginate(total int) Paginate {
	return Paginate{Total: total, CurrentPage: p.Number, Limit: p.Limit}
}

// ParsePage reads ?page and ?limit. Values below 1 fall back to the defaults.
func ParsePage(r *http.Request) (Page, error) {
	number, err := ParseQueryInt(r, "page", 1)
	if err != nil {
		return Page{}, err
	}
	limit, err := ParseQueryInt(r, "limit", DefaultPageLimit)
	if err != nil {
		return Page{}, err
	}

	if number < 1 {
		number = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}

	return Page{Number: number, Limit: limit}, nil
}
