package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/propquant/courier/internal/middleware"
	"github.com/propquant/courier/internal/model"
)

// DeliveryServiceInterface は配信ハンドラーが必要とするサービスインターフェース。
type DeliveryServiceInterface interface {
	// Deliver は1件の配信リクエストを処理する。
	Deliver(ctx context.Context, req *model.DeliveryRequest) (*model.DeliveryResult, error)
}

// DeliveryHandler は配信WebhookのHTTPハンドラー。
type DeliveryHandler struct {
	service DeliveryServiceInterface
	logger  *slog.Logger
}

// NewDeliveryHandler はDeliveryHandlerを生成する。
func NewDeliveryHandler(service DeliveryServiceInterface, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		service: service,
		logger:  logger,
	}
}

// Deliver は購入完了Webhookを処理する。
// POST /deliver
func (h *DeliveryHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	var req model.DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "Request body is not valid JSON.",
			Category: "validation",
			Action:   "Send a JSON body with discord_id, license_key and plan_type.",
		})
		return
	}

	result, err := h.service.Deliver(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// writeServiceError はサービス層のエラーをHTTPステータスにマッピングして書き込む。
//
//	INVALID_REQUEST / UNKNOWN_PLAN → 400
//	DELIVERY_BLOCKED               → 403
//	RECIPIENT_NOT_FOUND            → 404
//	その他                          → 500
func (h *DeliveryHandler) writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		h.logger.Error("分類されないエラーが発生しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	status := http.StatusInternalServerError
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeUnknownPlan:
		status = http.StatusBadRequest
	case model.ErrCodeDeliveryBlocked:
		status = http.StatusForbidden
	case model.ErrCodeRecipientNotFound:
		status = http.StatusNotFound
	}

	middleware.WriteErrorResponse(w, status, apiErr)
}
