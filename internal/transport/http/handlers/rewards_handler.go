package handlers

import (
	"errors"
	"net/http"

	"github.com/missionhub/backend/internal/domain/money"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
	authsvc "github.com/missionhub/backend/internal/services/auth"
	rewardssvc "github.com/missionhub/backend/internal/services/rewards"
	"github.com/missionhub/backend/internal/transport/http/dto"
	httperrors "github.com/missionhub/backend/internal/transport/http/errors"
)

type RewardsHandler struct {
	rewards *rewardssvc.Service
}

func NewRewardsHandler(rewards *rewardssvc.Service) *RewardsHandler {
	return &RewardsHandler{rewards: rewards}
}

func (h *RewardsHandler) StartMission(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.rewards == nil {
		writeInternal(w, "REWARDS_SERVICE_UNAVAILABLE", "rewards service is unavailable")
		return
	}
	missionID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid mission id")
		return
	}

	session, err := h.rewards.StartMission(r.Context(), identity.UserID, missionID)
	if err != nil {
		switch {
		case errors.Is(err, rewardssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid mission id")
		case errors.Is(err, rewardssvc.ErrMissionNotFound):
			writeNotFound(w, "MISSION_NOT_FOUND", "mission not found or inactive")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to start mission")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.SessionResponse{
		ID:        session.ID,
		MissionID: session.MissionID,
		StartedAt: session.StartedAt,
	})
}

func (h *RewardsHandler) CompleteMission(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.rewards == nil {
		writeInternal(w, "REWARDS_SERVICE_UNAVAILABLE", "rewards service is unavailable")
		return
	}
	missionID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid mission id")
		return
	}

	mission, completed, err := h.rewards.CompleteMission(r.Context(), identity.UserID, missionID)
	if err != nil {
		switch {
		case errors.Is(err, rewardssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid mission id")
		case errors.Is(err, rewardssvc.ErrSessionNotFound):
			writeNotFound(w, "SESSION_NOT_FOUND", "no started session for this mission")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to complete mission")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.MissionCompleteResponse{
		MissionID: mission.ID,
		Title:     mission.Title,
		Reward:    money.Format(mission.Reward),
		Completed: completed,
	})
}

func (h *RewardsHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.rewards == nil {
		writeInternal(w, "REWARDS_SERVICE_UNAVAILABLE", "rewards service is unavailable")
		return
	}

	var req dto.ProofSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	proof, err := h.rewards.SubmitProof(r.Context(), identity.UserID, req.SessionID, req.PhotoKey, req.Location)
	if err != nil {
		switch {
		case errors.Is(err, rewardssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "session_id and photo_key are required")
		case errors.Is(err, rewardssvc.ErrSessionNotFound):
			writeNotFound(w, "SESSION_NOT_FOUND", "session not found")
		case errors.Is(err, rewardssvc.ErrForbidden):
			writeForbidden(w, "FORBIDDEN", "session belongs to another user")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to submit proof")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, proofResponse(proof))
}

func (h *RewardsHandler) DeleteProof(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.rewards == nil {
		writeInternal(w, "REWARDS_SERVICE_UNAVAILABLE", "rewards service is unavailable")
		return
	}
	proofID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid proof id")
		return
	}

	if err := h.rewards.DeleteProof(r.Context(), identity.UserID, proofID); err != nil {
		switch {
		case errors.Is(err, rewardssvc.ErrProofNotFound):
			writeNotFound(w, "PROOF_NOT_FOUND", "proof not found")
		case errors.Is(err, rewardssvc.ErrForbidden):
			writeForbidden(w, "FORBIDDEN", "proof belongs to another user")
		case errors.Is(err, rewardssvc.ErrAlreadyReviewed):
			writeConflict(w, "ALREADY_REVIEWED", "reviewed proofs cannot be deleted")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to delete proof")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *RewardsHandler) ValidateProof(w http.ResponseWriter, r *http.Request) {
	proofID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid proof id")
		return
	}
	if h.rewards == nil {
		writeInternal(w, "REWARDS_SERVICE_UNAVAILABLE", "rewards service is unavailable")
		return
	}

	proof, err := h.rewards.ValidateProof(r.Context(), proofID)
	if err != nil {
		writeProofReviewError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, proofResponse(proof))
}

func (h *RewardsHandler) RejectProof(w http.ResponseWriter, r *http.Request) {
	proofID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid proof id")
		return
	}
	if h.rewards == nil {
		writeInternal(w, "REWARDS_SERVICE_UNAVAILABLE", "rewards service is unavailable")
		return
	}

	var req dto.ProofRejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	proof, err := h.rewards.RejectProof(r.Context(), proofID, req.Reason)
	if err != nil {
		writeProofReviewError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, proofResponse(proof))
}

func (h *RewardsHandler) ProofPhotoURL(w http.ResponseWriter, r *http.Request) {
	proofID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid proof id")
		return
	}
	if h.rewards == nil {
		writeInternal(w, "REWARDS_SERVICE_UNAVAILABLE", "rewards service is unavailable")
		return
	}

	link, err := h.rewards.ProofPhotoURL(r.Context(), proofID)
	if err != nil {
		if errors.Is(err, rewardssvc.ErrProofNotFound) {
			writeNotFound(w, "PROOF_NOT_FOUND", "proof not found")
		} else {
			writeInternal(w, "INTERNAL_ERROR", "failed to presign photo link")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ProofPhotoResponse{URL: link})
}

func writeProofReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rewardssvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid review request")
	case errors.Is(err, rewardssvc.ErrProofNotFound):
		writeNotFound(w, "PROOF_NOT_FOUND", "proof not found")
	case errors.Is(err, rewardssvc.ErrAlreadyReviewed):
		writeConflict(w, "ALREADY_REVIEWED", "proof was already reviewed")
	default:
		writeInternal(w, "INTERNAL_ERROR", "proof review failed")
	}
}

func proofResponse(p pgrepo.ProofRecord) dto.ProofResponse {
	return dto.ProofResponse{
		ID:              p.ID,
		SessionID:       p.SessionID,
		MissionID:       p.MissionID,
		MissionTitle:    p.MissionTitle,
		PhotoKey:        p.PhotoKey,
		Location:        p.Location,
		Status:          string(p.Status),
		RejectionReason: p.RejectionReason,
		SubmittedAt:     p.SubmittedAt,
		ReviewedAt:      p.ReviewedAt,
	}
}
