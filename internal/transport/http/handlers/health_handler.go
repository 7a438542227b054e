package handlers

import (
	"net/http"

	"github.com/missionhub/backend/internal/transport/http/dto"
	httperrors "github.com/missionhub/backend/internal/transport/http/errors"
)

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Get(w http.ResponseWriter, _ *http.Request) {
	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}
