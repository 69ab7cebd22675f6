package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-engine/middleware"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/services"
)

type ScoreHandler struct {
	scores services.ScoreService
}

func NewScoreHandler(ss services.ScoreService) *ScoreHandler {
	return &ScoreHandler{scores: ss}
}

type incrementRequest struct {
	Player      models.Slot `json:"player"`
	ExpectedRev int64       `json:"expected_rev"`
	Confirmed   bool        `json:"confirmed"`
	Device      string      `json:"device"`
}

type undoRequest struct {
	ExpectedRev int64  `json:"expected_rev"`
	Device      string `json:"device"`
}

func device(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return middleware.DeviceFromContext(r.Context())
}

// Increment handles POST /matches/{matchID}/score/increment. A hill-hill point
// that still needs confirmation answers 202 and changes nothing.
func (h *ScoreHandler) Increment(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input incrementRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.scores.Increment(r.Context(), services.IncrementInput{
		MatchID:     matchID,
		Player:      input.Player,
		Device:      device(r, input.Device),
		Actor:       middleware.ActorFromContext(r.Context()),
		ExpectedRev: input.ExpectedRev,
		Confirmed:   input.Confirmed,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	status := http.StatusOK
	if result.RequiresConfirmation {
		status = http.StatusAccepted
	}
	respond(w, r, status, jsonResponse{"score": result})
}

func (h *ScoreHandler) Undo(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input undoRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.scores.Undo(r.Context(), services.UndoInput{
		MatchID:     matchID,
		Device:      device(r, input.Device),
		Actor:       middleware.ActorFromContext(r.Context()),
		ExpectedRev: input.ExpectedRev,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"score": result})
}

func (h *ScoreHandler) History(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	history, err := h.scores.History(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"history": history})
}
