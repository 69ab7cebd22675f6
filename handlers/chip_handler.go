package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/services"
)

type ChipHandler struct {
	chips services.ChipService
}

func NewChipHandler(cs services.ChipService) *ChipHandler {
	return &ChipHandler{chips: cs}
}

type registerPlayerRequest struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type adjustChipsRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *ChipHandler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input registerPlayerRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	player, err := h.chips.RegisterPlayer(r.Context(), services.RegisterPlayerInput{
		TournamentID: tournamentID,
		Name:         input.Name,
		Rating:       input.Rating,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"player": player})
}

func (h *ChipHandler) GetStandings(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	standings, err := h.chips.GetStandings(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"standings": standings})
}

func (h *ChipHandler) AdjustChips(w http.ResponseWriter, r *http.Request) {
	playerID, err := getIDFromURL(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input adjustChipsRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	player, err := h.chips.AdjustChips(r.Context(), playerID, input.Delta, input.Reason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"player": player})
}

func (h *ChipHandler) WithdrawPlayer(w http.ResponseWriter, r *http.Request) {
	playerID, err := getIDFromURL(r, "playerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	player, err := h.chips.WithdrawPlayer(r.Context(), playerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"player": player})
}

// ApplyFinalsCutoff handles POST /tournaments/{tournamentID}/finals.
func (h *ChipHandler) ApplyFinalsCutoff(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var cfg models.CutoffConfig
	if err = readJSON(w, r, &cfg); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	cutoff, err := h.chips.ApplyFinalsCutoff(r.Context(), tournamentID, cfg)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"finals": cutoff})
}
