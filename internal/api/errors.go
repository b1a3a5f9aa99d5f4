package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ocx/agentrep/internal/reputation"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/token"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

var httpStatus = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.FailedPrecondition: http.StatusUnprocessableEntity,
	codes.OutOfRange:         http.StatusUnprocessableEntity,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.Aborted:            http.StatusConflict,
	codes.DataLoss:           http.StatusInternalServerError,
}

// classify maps an operation error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	var rerr *reputation.Error
	if errors.As(err, &rerr) {
		st, ok := httpStatus[status.Code(rerr)]
		if !ok {
			st = http.StatusInternalServerError
		}
		return st, rerr.Code.String()
	}

	switch {
	case errors.Is(err, token.ErrUnauthorized):
		return http.StatusForbidden, "token_unauthorized"
	case errors.Is(err, token.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, token.ErrOverflow):
		return http.StatusUnprocessableEntity, "token_overflow"
	case errors.Is(err, token.ErrMintNotFound):
		return http.StatusFailedDependency, "mint_not_found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, name, msg string) {
	writeJSON(w, code, errorBody{Code: name, Error: msg})
}
