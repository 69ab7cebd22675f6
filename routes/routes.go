package routes

import (
	"net/http"
	"time"

	"github.com/Dosada05/tournament-engine/handlers"
	"github.com/Dosada05/tournament-engine/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handlers struct {
	Tournaments *handlers.TournamentHandler
	Tables      *handlers.TableHandler
	Queue       *handlers.QueueHandler
	Scores      *handlers.ScoreHandler
	Chips       *handlers.ChipHandler
	WebSocket   *handlers.WebSocketHandler
	// Metrics serves the Prometheus scrape endpoint; nil leaves /metrics unrouted.
	Metrics http.Handler
}

type Options struct {
	JWTSecret      []byte
	AllowedOrigins []string
}

// SetupRoutes mounts the engine API. Reads are public; every mutation needs a bearer token.
func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if h.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	router.Get("/ws/tournaments/{tournamentID}", h.WebSocket.ServeWs)

	authenticated := middleware.Authenticate(opts.JWTSecret)
	router.Group(func(api chi.Router) {
		api.Use(chiMiddleware.Timeout(30 * time.Second))
		mountAPI(api, h, authenticated)
	})
}

func mountAPI(api chi.Router, h Handlers, authenticated func(http.Handler) http.Handler) {

	api.Route("/tournaments", func(r chi.Router) {
		r.Get("/", h.Tournaments.ListTournaments)
		r.With(authenticated).Post("/", h.Tournaments.CreateTournament)

		r.Route("/{tournamentID}", func(r chi.Router) {
			r.Get("/", h.Tournaments.GetTournament)
			r.Get("/matches", h.Tournaments.ListMatches)
			r.Get("/queue", h.Queue.GetQueue)
			r.Get("/tables", h.Tables.ListTables)
			r.Get("/standings", h.Chips.GetStandings)

			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Post("/bracket", h.Tournaments.GenerateBracket)
				r.Post("/chip-matches", h.Tournaments.CreateChipMatch)
				r.Post("/queue/assign", h.Queue.AssignTables)
				r.Post("/tables", h.Tables.CreateTable)
				r.Post("/players", h.Chips.RegisterPlayer)
				r.Post("/finals", h.Chips.ApplyFinalsCutoff)
				r.Post("/reminders", h.Tournaments.SendReminders)
			})
		})
	})

	api.Route("/matches/{matchID}", func(r chi.Router) {
		r.Get("/", h.Tournaments.GetMatch)
		r.Get("/score/history", h.Scores.History)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Post("/start", h.Queue.StartMatch)
			r.Post("/score/increment", h.Scores.Increment)
			r.Post("/score/undo", h.Scores.Undo)
		})
	})

	api.Route("/tables/{tableID}", func(r chi.Router) {
		r.Use(authenticated)
		r.Delete("/", h.Tables.DeleteTable)
		r.Post("/maintenance", h.Tables.SetMaintenance)
		r.Delete("/maintenance", h.Tables.ClearMaintenance)
		r.Post("/block", h.Tables.BlockTable)
		r.Delete("/block", h.Tables.UnblockTable)
		r.Post("/release", h.Tables.ReleaseTable)
	})

	api.Route("/players/{playerID}", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/chips/adjust", h.Chips.AdjustChips)
		r.Post("/withdraw", h.Chips.WithdrawPlayer)
	})
}
