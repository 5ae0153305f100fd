// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var insufficient *shared.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		JSON(w, http.StatusUnprocessableEntity, StockProblem{
			ProblemDetail: ProblemDetail{
				Type:   "insufficient-stock",
				Title:  "Insufficient Stock",
				Status: http.StatusUnprocessableEntity,
				Detail: insufficient.Error(),
			},
			WarehouseID: insufficient.WarehouseID,
			ProductID:   insufficient.ProductID,
			Available:   insufficient.Available.String(),
			Requested:   insufficient.Requested.String(),
		})
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidRequest):
		Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrDuplicateRequest):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
