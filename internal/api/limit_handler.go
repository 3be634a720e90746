package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Maestro/internal/domain"
)

// ListLimits возвращает лимиты конкурентности с текущей занятостью.
// GET /api/v1/limits
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	var limits []domain.ConcurrencyLimit
	if h.slots != nil {
		limits = h.slots.Limits()
	}

	result := make([]LimitResponse, len(limits))
	for i, limit := range limits {
		result[i] = LimitResponse{
			Key:   limit.Key,
			Slots: limit.Slots,
			Held:  limit.Held(),
		}
	}
	List(w, result, len(result))
}

// UpsertLimit устанавливает лимит: и в памяти, и в БД.
// PUT /api/v1/limits/{key}
func (h *Handler) UpsertLimit(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		BadRequest(w, "limit key is required")
		return
	}

	var req UpsertLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Slots < 0 {
		BadRequest(w, "slots must be non-negative")
		return
	}

	if h.limits != nil {
		if err := h.limits.Upsert(r.Context(), key, req.Slots); err != nil {
			InternalError(w, h.logger, err)
			return
		}
	}
	if h.slots != nil {
		h.slots.SetLimit(key, req.Slots)
	}

	Success(w, LimitResponse{Key: key, Slots: req.Slots})
}

// DeleteLimit снимает лимит (ключ становится неограниченным).
// DELETE /api/v1/limits/{key}
func (h *Handler) DeleteLimit(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		BadRequest(w, "limit key is required")
		return
	}

	if h.limits != nil {
		if err := h.limits.Delete(r.Context(), key); err != nil {
			if HandleStoreError(w, h.logger, err, "limit not found") {
				return
			}
		}
	}
	if h.slots != nil {
		h.slots.RemoveLimit(key)
	}

	NoContent(w)
}
