package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/services"
)

type TournamentHandler struct {
	brackets     services.BracketService
	reminders    services.ReminderService
	defaultChips models.ChipConfig
}

func NewTournamentHandler(bs services.BracketService, rs services.ReminderService, defaultChips models.ChipConfig) *TournamentHandler {
	return &TournamentHandler{brackets: bs, reminders: rs, defaultChips: defaultChips}
}

type createTournamentRequest struct {
	Name    string               `json:"name"`
	Bracket models.BracketConfig `json:"bracket"`
	// Chips falls back to the server-wide award when omitted.
	Chips *models.ChipConfig `json:"chips"`
}

// CreateTournament handles POST /tournaments.
func (h *TournamentHandler) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var input createTournamentRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	chips := h.defaultChips
	if input.Chips != nil {
		chips = *input.Chips
	}

	tournament, err := h.brackets.CreateTournament(r.Context(), services.CreateTournamentInput{
		Name:    input.Name,
		Bracket: input.Bracket,
		Chips:   chips,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"tournament": tournament})
}

func (h *TournamentHandler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	tournaments, err := h.brackets.ListTournaments(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"tournaments": tournaments})
}

func (h *TournamentHandler) GetTournament(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	tournament, err := h.brackets.GetTournament(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}

type generateBracketRequest struct {
	// Bracket overrides the tournament's stored configuration when set.
	Bracket   *models.BracketConfig `json:"bracket"`
	PlayerIDs []int                 `json:"player_ids"`
}

// GenerateBracket handles POST /tournaments/{tournamentID}/bracket. Player IDs
// are given in seed order.
func (h *TournamentHandler) GenerateBracket(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input generateBracketRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	cfg := input.Bracket
	if cfg == nil {
		tournament, getErr := h.brackets.GetTournament(r.Context(), id)
		if getErr != nil {
			mapServiceErrorToHTTP(w, r, getErr)
			return
		}
		cfg = &tournament.Bracket
	}

	generated, err := h.brackets.GenerateBracket(r.Context(), id, *cfg, input.PlayerIDs)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"bracket": generated})
}

// ListMatches handles GET /tournaments/{tournamentID}/matches?state=ready,assigned&round=2.
func (h *TournamentHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var filter repositories.MatchFilter
	query := r.URL.Query()
	if states := query.Get("state"); states != "" {
		for _, s := range strings.Split(states, ",") {
			state := models.MatchState(strings.TrimSpace(s))
			if !state.Valid() {
				badRequestResponse(w, r, fmt.Errorf("invalid state query parameter %q", s))
				return
			}
			filter.States = append(filter.States, state)
		}
	}
	if roundStr := query.Get("round"); roundStr != "" {
		round, convErr := strconv.Atoi(roundStr)
		if convErr != nil || round < 1 {
			badRequestResponse(w, r, fmt.Errorf("invalid round query parameter %q", roundStr))
			return
		}
		filter.Round = &round
	}

	matches, err := h.brackets.ListMatches(r.Context(), id, filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"matches": matches})
}

func (h *TournamentHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.brackets.GetMatch(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"match": match})
}

type createChipMatchRequest struct {
	PlayerA int `json:"player_a"`
	PlayerB int `json:"player_b"`
	// RaceTo of zero uses the tournament's race.
	RaceTo int `json:"race_to"`
}

// CreateChipMatch handles POST /tournaments/{tournamentID}/chip-matches.
func (h *TournamentHandler) CreateChipMatch(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input createChipMatchRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.brackets.CreateChipMatch(r.Context(), id, input.PlayerA, input.PlayerB, input.RaceTo)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"match": match})
}

// SendReminders handles POST /tournaments/{tournamentID}/reminders.
func (h *TournamentHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	report, err := h.reminders.SendReminders(r.Context(), id)
	if err != nil {
		if report == nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}
		// Interrupted part way: report what went out.
		respond(w, r, http.StatusAccepted, jsonResponse{"reminders": report, "error": err.Error()})
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"reminders": report})
}
