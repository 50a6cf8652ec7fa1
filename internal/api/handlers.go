package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AshinZhou/zero2prod-my/internal/api/middleware"
	"github.com/AshinZhou/zero2prod-my/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publishRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "api_publish_requests_total",
	Help: "Publish requests by result",
}, []string{"result"})

// Publisher is the publish coordinator consumed by the HTTP layer.
type Publisher interface {
	Execute(ctx context.Context, params usecase.PublishParams) (*usecase.PublishResult, error)
}

type Handlers struct {
	publishUC Publisher
}

func NewHandlers(publishUC Publisher) *Handlers {
	return &Handlers{publishUC: publishUC}
}

func (h *Handlers) PublishNewsletter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Content struct {
			HTML string `json:"html"`
			Text string `json:"text"`
		} `json:"content"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		publishRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := usecase.PublishParams{
		OperatorID:     middleware.OperatorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Title:          req.Title,
		HTMLBody:       req.Content.HTML,
		TextBody:       req.Content.Text,
	}

	result, err := h.publishUC.Execute(r.Context(), params)
	if err != nil {
		var validationErr *usecase.ValidationError
		switch {
		case errors.As(err, &validationErr):
			publishRequestsTotal.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, usecase.ErrInFlight):
			publishRequestsTotal.WithLabelValues("conflict").Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusConflict, err.Error())
		default:
			publishRequestsTotal.WithLabelValues("error").Inc()
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if result.Replayed {
		publishRequestsTotal.WithLabelValues("replayed").Inc()
	} else {
		publishRequestsTotal.WithLabelValues("fresh").Inc()
	}

	// Fresh and replayed requests go through the same write path: the saved
	// response is the response, byte for byte.
	for _, hp := range result.Response.Headers {
		w.Header().Add(hp.Name, hp.Value)
	}
	w.WriteHeader(result.Response.StatusCode)
	w.Write(result.Response.Body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
