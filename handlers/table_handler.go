package handlers

import (
	"net/http"
	"time"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/services"
)

type TableHandler struct {
	tables services.TableService
	queue  services.QueueService
}

func NewTableHandler(ts services.TableService, qs services.QueueService) *TableHandler {
	return &TableHandler{tables: ts, queue: qs}
}

type createTableRequest struct {
	Label string `json:"label"`
}

type blockTableRequest struct {
	Until *time.Time `json:"until"`
	// Minutes is an alternative to Until, counted from now.
	Minutes int `json:"minutes"`
}

func (h *TableHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input createTableRequest
	if err = readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	table, err := h.tables.CreateTable(r.Context(), tournamentID, input.Label)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"table": table})
}

func (h *TableHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	tables, err := h.tables.ListTables(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"tables": tables})
}

// withTable runs a single-table operation and writes the resulting table.
func (h *TableHandler) withTable(op func(r *http.Request, id int) (*models.Table, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := getIDFromURL(r, "tableID")
		if err != nil {
			badRequestResponse(w, r, err)
			return
		}
		table, err := op(r, id)
		if err != nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}
		respond(w, r, http.StatusOK, jsonResponse{"table": table})
	}
}

func (h *TableHandler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	h.withTable(func(r *http.Request, id int) (*models.Table, error) {
		return h.tables.SetMaintenance(r.Context(), id)
	})(w, r)
}

func (h *TableHandler) ClearMaintenance(w http.ResponseWriter, r *http.Request) {
	h.withTable(func(r *http.Request, id int) (*models.Table, error) {
		return h.tables.ClearMaintenance(r.Context(), id)
	})(w, r)
}

func (h *TableHandler) UnblockTable(w http.ResponseWriter, r *http.Request) {
	h.withTable(func(r *http.Request, id int) (*models.Table, error) {
		return h.tables.UnblockTable(r.Context(), id)
	})(w, r)
}

func (h *TableHandler) BlockTable(w http.ResponseWriter, r *http.Request) {
	var input blockTableRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var until time.Time
	switch {
	case input.Until != nil:
		until = *input.Until
	case input.Minutes > 0:
		until = time.Now().Add(time.Duration(input.Minutes) * time.Minute)
	default:
		failedValidationResponse(w, r, "either until or a positive minutes is required")
		return
	}
	h.withTable(func(r *http.Request, id int) (*models.Table, error) {
		return h.tables.BlockTable(r.Context(), id, until)
	})(w, r)
}

func (h *TableHandler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if err = h.tables.DeleteTable(r.Context(), id); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReleaseTable handles POST /tables/{tableID}/release: the assigned match goes
// back to the queue and the table is offered to the next match.
func (h *TableHandler) ReleaseTable(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	result, err := h.queue.ReleaseTable(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"release": result})
}
