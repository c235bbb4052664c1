package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/photocredit/internal/gateway"
	"github.com/mmeshcher/photocredit/internal/repository"
	"github.com/mmeshcher/photocredit/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor сопоставляет ошибку статусу ответа и сообщению для клиента.
// Неожиданные ошибки не раскрывают подробностей.
func statusFor(err error) (int, string) {
	var validationErr *service.ValidationError
	var upstreamErr *gateway.UpstreamError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusBadRequest, gateway.ErrNotConfigured.Error()
	case errors.Is(err, gateway.ErrUnownedPrice):
		return http.StatusBadRequest, gateway.ErrUnownedPrice.Error()
	case errors.Is(err, service.ErrUnknownOffer):
		return http.StatusBadRequest, service.ErrUnknownOffer.Error()
	case errors.As(err, &upstreamErr):
		return http.StatusBadRequest, upstreamErr.Error()
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, service.ErrUnauthenticated.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, service.ErrInvalidCredentials.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, service.ErrForbidden.Error()
	case errors.Is(err, repository.ErrUserExists):
		return http.StatusConflict, repository.ErrUserExists.Error()
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Stack("stack"),
		)
	} else if status == http.StatusBadRequest {
		h.logger.Debug("request rejected", zap.Error(err), zap.String("path", r.URL.Path))
	}

	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
