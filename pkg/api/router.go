// Package api mounts the REST routes, the event stream and the JSON-RPC
// endpoint on one chi router.
package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/event"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/api/handlers"
	"github.com/itachi47/hardhat-lottery-backend/pkg/api/middleware/cors"
	mwLogger "github.com/itachi47/hardhat-lottery-backend/pkg/api/middleware/logger"
	resp "github.com/itachi47/hardhat-lottery-backend/pkg/api/response"
	"github.com/itachi47/hardhat-lottery-backend/pkg/api/ws"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
)

// Server is the HTTP front of a node.
type Server struct {
	router *chi.Mux
	hub    *ws.Hub
	events event.Subscription
}

// New builds the router. rpc serves JSON-RPC on POST / and POST /rpc.
func New(b handlers.Backend, rpc http.Handler, allowOrigin string, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}

	hub := ws.NewHub(log)
	raffleHandlers := handlers.NewRaffle(log, b)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(cors.New(allowOrigin))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, resp.OK())
	})

	router.Route("/raffle", func(r chi.Router) {
		r.Get("/", raffleHandlers.Info())
		r.Post("/enter", raffleHandlers.Enter())
		r.Get("/players/{index}", raffleHandlers.Player())
		r.Get("/upkeep", raffleHandlers.CheckUpkeep())
		r.Post("/upkeep", raffleHandlers.PerformUpkeep())
		r.Post("/draws/{requestID}/fulfill", raffleHandlers.Fulfill())
		r.Get("/winners", raffleHandlers.Winners())
		r.Get("/winners/{round}", raffleHandlers.Round())
	})

	router.Get("/ws", hub.HandleConnection)

	if rpc != nil {
		router.Post("/", rpc.ServeHTTP)
		router.Post("/rpc", rpc.ServeHTTP)
	}

	return &Server{
		router: router,
		hub:    hub,
		events: hub.Run(b.Raffle()),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the event stream and disconnects websocket clients.
func (s *Server) Close() {
	s.events.Unsubscribe()
	s.hub.Close()
}
