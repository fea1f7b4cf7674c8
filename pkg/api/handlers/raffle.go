// Package handlers serves the raffle over REST.
package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/slog"

	resp "github.com/itachi47/hardhat-lottery-backend/pkg/api/response"
	"github.com/itachi47/hardhat-lottery-backend/pkg/backend"
	"github.com/itachi47/hardhat-lottery-backend/pkg/history"
	"github.com/itachi47/hardhat-lottery-backend/pkg/ledger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
	"github.com/itachi47/hardhat-lottery-backend/pkg/raffle"
	"github.com/itachi47/hardhat-lottery-backend/pkg/vrf"
)

const defaultWinnersLimit = 10

// Backend is the part of the node the REST surface needs.
type Backend interface {
	Raffle() *raffle.Raffle
	Now() uint64
	EnterRaffle(player common.Address, value *big.Int) error
	UpkeepStatus() raffle.UpkeepStatus
	PerformUpkeep() (*big.Int, error)
	FulfillRandomWords(requestID *big.Int, words []*big.Int) (*vrf.Fulfillment, error)
	History(limit int) ([]history.Record, error)
	HistoryRound(round uint64) (history.Record, error)
	HistoryCount() (int, error)
}

type EnterRequest struct {
	Player string `json:"player" validate:"required,eth_addr"`
	Value  string `json:"value" validate:"required,number|hexadecimal"`
}

type FulfillRequest struct {
	Words []string `json:"words" validate:"omitempty,dive,number|hexadecimal"`
}

type InfoResponse struct {
	resp.Response
	Address              string `json:"address"`
	Coordinator          string `json:"vrfCoordinatorV2"`
	State                string `json:"raffleState"`
	EntranceFee          string `json:"entranceFee"`
	Interval             uint64 `json:"interval"`
	NumberOfPlayers      int    `json:"numberOfPlayers"`
	Balance              string `json:"balance"`
	LastTimeStamp        uint64 `json:"lastTimeStamp"`
	RecentWinner         string `json:"recentWinner"`
	PendingRequestID     string `json:"pendingRequestId,omitempty"`
	Rounds               uint64 `json:"rounds"`
	NumWords             uint32 `json:"numWords"`
	RequestConfirmations uint16 `json:"requestConfirmations"`
	Now                  uint64 `json:"now"`
}

type EnterResponse struct {
	resp.Response
	Player          string `json:"player"`
	NumberOfPlayers int    `json:"numberOfPlayers"`
}

type PlayerResponse struct {
	resp.Response
	Index  uint64 `json:"index"`
	Player string `json:"player"`
}

type UpkeepResponse struct {
	resp.Response
	UpkeepNeeded bool   `json:"upkeepNeeded"`
	PerformData  string `json:"performData"`
	IsOpen       bool   `json:"isOpen"`
	TimePassed   bool   `json:"timePassed"`
	HasBalance   bool   `json:"hasBalance"`
	HasPlayers   bool   `json:"hasPlayers"`
}

type DrawResponse struct {
	resp.Response
	RequestID string `json:"requestId"`
}

type FulfillResponse struct {
	resp.Response
	RequestID string `json:"requestId"`
	Payment   string `json:"payment"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

type WinnersResponse struct {
	resp.Response
	Winners []history.Record `json:"winners"`
	Total   int              `json:"total"`
}

type RoundResponse struct {
	resp.Response
	Round *history.Record `json:"round,omitempty"`
}

// Raffle holds the raffle handlers.
type Raffle struct {
	log       *slog.Logger
	validator *validator.Validate
	backend   Backend
}

func NewRaffle(log *slog.Logger, b Backend) *Raffle {
	return &Raffle{
		log:       log,
		validator: validator.New(),
		backend:   b,
	}
}

func (h *Raffle) with(op string, r *http.Request) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	writeJSON(w, r, status, resp.Error(msg, status))
}

// statusFor maps a node failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, raffle.ErrInsufficientPayment),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, vrf.ErrInvalidRandomWords),
		errors.Is(err, vrf.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, raffle.ErrRaffleNotOpen),
		errors.Is(err, raffle.ErrUpkeepNotNeeded),
		errors.Is(err, raffle.ErrTransferFailed):
		return http.StatusConflict
	case errors.Is(err, raffle.ErrIndexOutOfRange),
		errors.Is(err, vrf.ErrNonexistentRequest),
		errors.Is(err, raffle.ErrUnknownRequest),
		errors.Is(err, backend.ErrHistoryDisabled),
		errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// parseQuantity accepts a 0x-prefixed hex or a decimal quantity.
func parseQuantity(s string) (*big.Int, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(strings.ToLower(s[:2]) + s[2:])
		return v, err == nil
	}
	return new(big.Int).SetString(s, 10)
}

func (h *Raffle) Info() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rf := h.backend.Raffle()

		out := InfoResponse{
			Response:             resp.OK(),
			Address:              rf.Address().Hex(),
			Coordinator:          rf.CoordinatorAddress().Hex(),
			State:                rf.RaffleState().String(),
			EntranceFee:          rf.EntranceFee().String(),
			Interval:             rf.Interval(),
			NumberOfPlayers:      rf.NumberOfPlayers(),
			Balance:              rf.Balance().String(),
			LastTimeStamp:        rf.LastTimeStamp(),
			RecentWinner:         rf.RecentWinner().Hex(),
			Rounds:               rf.Rounds(),
			NumWords:             rf.NumWords(),
			RequestConfirmations: rf.RequestConfirmations(),
			Now:                  h.backend.Now(),
		}
		if id := rf.PendingRequestID(); id != nil {
			out.PendingRequestID = id.String()
		}

		render.JSON(w, r, out)
	}
}

func (h *Raffle) Enter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.raffle.Enter"
		log := h.with(op, r)

		var req EnterRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			writeError(w, r, "failed to decode request body", http.StatusBadRequest)

			return
		}

		if err := h.validator.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			if !errors.As(err, &validateErr) {
				writeError(w, r, "invalid request", http.StatusBadRequest)
				return
			}

			log.Error("invalid request", sl.Err(err))

			writeJSON(w, r, http.StatusBadRequest, resp.ValidationError(validateErr))

			return
		}

		value, ok := parseQuantity(req.Value)
		if !ok {
			writeError(w, r, "field Value must be a decimal or hex quantity", http.StatusBadRequest)
			return
		}
		player := common.HexToAddress(req.Player)

		if err := h.backend.EnterRaffle(player, value); err != nil {
			log.Info("entry refused", sl.Address("player", player), sl.Err(err))

			writeError(w, r, err.Error(), statusFor(err))

			return
		}

		log.Info("entry accepted", sl.Address("player", player), sl.Big("value", value))

		render.JSON(w, r, EnterResponse{
			Response:        resp.OK(),
			Player:          player.Hex(),
			NumberOfPlayers: h.backend.Raffle().NumberOfPlayers(),
		})
	}
}

func (h *Raffle) Player() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
		if err != nil {
			writeError(w, r, "index must be a non-negative integer", http.StatusBadRequest)
			return
		}

		player, err := h.backend.Raffle().Player(index)
		if err != nil {
			writeError(w, r, err.Error(), statusFor(err))
			return
		}

		render.JSON(w, r, PlayerResponse{Response: resp.OK(), Index: index, Player: player.Hex()})
	}
}

func (h *Raffle) CheckUpkeep() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.backend.UpkeepStatus()

		render.JSON(w, r, UpkeepResponse{
			Response:     resp.OK(),
			UpkeepNeeded: status.Needed(),
			PerformData:  "0x",
			IsOpen:       status.Open,
			TimePassed:   status.TimePassed,
			HasBalance:   status.HasBalance,
			HasPlayers:   status.HasPlayers,
		})
	}
}

func (h *Raffle) PerformUpkeep() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.raffle.PerformUpkeep"
		log := h.with(op, r)

		requestID, err := h.backend.PerformUpkeep()
		if err != nil {
			log.Info("upkeep refused", sl.Err(err))

			writeError(w, r, err.Error(), statusFor(err))

			return
		}

		render.JSON(w, r, DrawResponse{Response: resp.OK(), RequestID: requestID.String()})
	}
}

func (h *Raffle) Fulfill() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.raffle.Fulfill"
		log := h.with(op, r)

		requestID, ok := parseQuantity(chi.URLParam(r, "requestID"))
		if !ok {
			writeError(w, r, "invalid request id", http.StatusBadRequest)
			return
		}

		var req FulfillRequest
		if r.ContentLength != 0 {
			if err := render.DecodeJSON(r.Body, &req); err != nil {
				log.Error("failed to decode request body", sl.Err(err))

				writeError(w, r, "failed to decode request body", http.StatusBadRequest)

				return
			}
		}

		if err := h.validator.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			if errors.As(err, &validateErr) {
				writeJSON(w, r, http.StatusBadRequest, resp.ValidationError(validateErr))
				return
			}
			writeError(w, r, "invalid request", http.StatusBadRequest)
			return
		}

		words := make([]*big.Int, 0, len(req.Words))
		for _, s := range req.Words {
			word, ok := parseQuantity(s)
			if !ok {
				writeError(w, r, "invalid random word", http.StatusBadRequest)
				return
			}
			words = append(words, word)
		}

		result, err := h.backend.FulfillRandomWords(requestID, words)
		if err != nil {
			log.Info("fulfilment refused", sl.Big("request_id", requestID), sl.Err(err))

			writeError(w, r, err.Error(), statusFor(err))

			return
		}

		out := FulfillResponse{
			Response:  resp.OK(),
			RequestID: result.RequestID.String(),
			Payment:   result.Payment.String(),
			Success:   result.Success,
		}
		if result.Err != nil {
			out.Reason = result.Err.Error()
		}
		render.JSON(w, r, out)
	}
}

func (h *Raffle) Winners() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultWinnersLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, r, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		records, err := h.backend.History(limit)
		if err != nil {
			writeError(w, r, err.Error(), statusFor(err))
			return
		}
		if records == nil {
			records = []history.Record{}
		}
		total, err := h.backend.HistoryCount()
		if err != nil {
			writeError(w, r, err.Error(), statusFor(err))
			return
		}

		render.JSON(w, r, WinnersResponse{Response: resp.OK(), Winners: records, Total: total})
	}
}

func (h *Raffle) Round() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
		if err != nil || round == 0 {
			writeError(w, r, "round must be a positive integer", http.StatusBadRequest)
			return
		}

		rec, err := h.backend.HistoryRound(round)
		if err != nil {
			writeError(w, r, err.Error(), statusFor(err))
			return
		}

		render.JSON(w, r, RoundResponse{Response: resp.OK(), Round: &rec})
	}
}
