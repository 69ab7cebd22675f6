package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-engine/services"
)

type QueueHandler struct {
	queue services.QueueService
}

func NewQueueHandler(qs services.QueueService) *QueueHandler {
	return &QueueHandler{queue: qs}
}

func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	queue, err := h.queue.RefreshQueue(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"queue": queue})
}

// AssignTables handles POST /tournaments/{tournamentID}/queue/assign. Refused
// pairings are part of a successful response.
func (h *QueueHandler) AssignTables(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	batch, err := h.queue.AssignAvailable(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"assigned": batch.Assigned, "refused": batch.Refused})
}

type startMatchRequest struct {
	ExpectedRev int64 `json:"expected_rev"`
}

func (h *QueueHandler) StartMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input startMatchRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.queue.StartMatch(r.Context(), matchID, input.ExpectedRev)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"match": match})
}
