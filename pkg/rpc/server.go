// Package rpc provides JSON-RPC server implementation.
package rpc

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/backend"
	"github.com/itachi47/hardhat-lottery-backend/pkg/keeper"
	"github.com/itachi47/hardhat-lottery-backend/pkg/ledger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
)

// Version information.
const (
	ClientVersion = "raffled/v0.1.0"
)

// Request represents a JSON-RPC request.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response represents a JSON-RPC response.
type Response struct {
	Jsonrpc string       `json:"jsonrpc"`
	ID      interface{}  `json:"id"`
	Result  interface{}  `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// ErrorObject represents a JSON-RPC error.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server implements the raffle node JSON-RPC API.
type Server struct {
	backend backend.Backend
	log     *slog.Logger
}

// NewServer creates a new RPC server over b.
func NewServer(b backend.Backend, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		backend: b,
		log:     log.With(slog.String("component", "rpc")),
	}
}

// ServeHTTP handles HTTP requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, ErrCodeParseError, "Failed to read request body")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrCodeParseError, "Parse error")
		return
	}
	if req.Method == "" {
		s.writeError(w, req.ID, ErrCodeInvalidRequest, "Invalid request")
		return
	}

	result, rpcErr := s.handleMethod(req.Method, req.Params)
	if rpcErr != nil {
		s.log.Debug("request failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			sl.String("message", rpcErr.Message),
		)
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	// Handle nil result specially to output "null" instead of omitting
	var resp interface{}
	if result == nil {
		resp = struct {
			Jsonrpc string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Result  interface{} `json:"result"`
		}{
			Jsonrpc: "2.0",
			ID:      req.ID,
			Result:  nil,
		}
	} else {
		resp = Response{
			Jsonrpc: "2.0",
			ID:      req.ID,
			Result:  result,
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to encode response", slog.String("method", req.Method), sl.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := Response{
		Jsonrpc: "2.0",
		ID:      id,
		Error: &ErrorObject{
			Code:    code,
			Message: message,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMethod(method string, params json.RawMessage) (interface{}, *ErrorObject) {
	switch method {
	// eth_* methods
	case "eth_chainId":
		return s.ethChainID()
	case "eth_accounts":
		return s.ethAccounts()
	case "eth_getBalance":
		return s.ethGetBalance(params)
	case "eth_getLogs":
		return s.ethGetLogs(params)
	case "net_version":
		return s.netVersion()
	case "net_listening":
		return true, nil
	case "web3_clientVersion":
		return ClientVersion, nil
	case "web3_sha3":
		return s.web3Sha3(params)

	// raffle_* methods
	case "raffle_enterRaffle":
		return s.raffleEnterRaffle(params)
	case "raffle_checkUpkeep":
		return s.raffleCheckUpkeep()
	case "raffle_performUpkeep":
		return s.rafflePerformUpkeep()
	case "raffle_getEntranceFee":
		return hexutil.EncodeBig(s.backend.Raffle().EntranceFee()), nil
	case "raffle_getRaffleState":
		return hexutil.EncodeUint64(uint64(s.backend.Raffle().RaffleState())), nil
	case "raffle_getPlayer":
		return s.raffleGetPlayer(params)
	case "raffle_getNumberOfPlayers":
		return hexutil.EncodeUint64(uint64(s.backend.Raffle().NumberOfPlayers())), nil
	case "raffle_getRecentWinner":
		return s.backend.Raffle().RecentWinner().Hex(), nil
	case "raffle_getLastTimeStamp":
		return hexutil.EncodeUint64(s.backend.Raffle().LastTimeStamp()), nil
	case "raffle_getInterval":
		return hexutil.EncodeUint64(s.backend.Raffle().Interval()), nil
	case "raffle_getNumWords":
		return hexutil.EncodeUint64(uint64(s.backend.Raffle().NumWords())), nil
	case "raffle_getRequestConfirmations":
		return hexutil.EncodeUint64(uint64(s.backend.Raffle().RequestConfirmations())), nil
	case "raffle_getInfo":
		return s.raffleGetInfo()
	case "raffle_getLogs":
		return s.raffleGetLogs(params)
	case "raffle_getHistory":
		return s.raffleGetHistory(params)
	case "raffle_getRound":
		return s.raffleGetRound(params)

	// vrf_* methods
	case "vrf_fulfillRandomWords":
		return s.vrfFulfillRandomWords(params)
	case "vrf_getSubscription":
		return s.vrfGetSubscription(params)
	case "vrf_fundSubscription":
		return s.vrfFundSubscription(params)
	case "vrf_pendingRequests":
		return hexutil.EncodeUint64(uint64(s.backend.Coordinator().PendingRequests())), nil

	// evm_* methods
	case "evm_increaseTime":
		return s.evmIncreaseTime(params)
	case "evm_setNextBlockTimestamp":
		return s.evmSetNextBlockTimestamp(params)
	case "evm_mine":
		return s.evmMine()
	case "evm_snapshot":
		return s.evmSnapshot()
	case "evm_revert":
		return s.evmRevert(params)

	// keeper_* methods
	case "keeper_setMode":
		return s.keeperSetMode(params)
	case "keeper_getMode":
		return s.backend.Keeper().Mode().String(), nil

	// Balance and ledger methods
	case "anvil_setBalance", "hardhat_setBalance":
		return s.setBalance(params)
	case "debug_dumpLedger":
		return s.backend.DumpLedger(), nil
	case "debug_loadLedger":
		return s.debugLoadLedger(params)

	default:
		return nil, &ErrorObject{Code: ErrCodeMethodNotFound, Message: "Method not found: " + method}
	}
}

// parseArgs decodes a positional parameter list holding at least min entries.
func parseArgs(params json.RawMessage, min int) ([]interface{}, *ErrorObject) {
	var args []interface{}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, invalidParams("Invalid params")
		}
	}
	if len(args) < min {
		return nil, invalidParams("Invalid params")
	}
	return args, nil
}

// parseUint64 accepts a hex quantity or a JSON number.
func parseUint64(v interface{}) (uint64, bool) {
	switch v := v.(type) {
	case string:
		n, err := hexutil.DecodeUint64(v)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

// parseBig accepts a uint256 given as a hex quantity, a decimal string or a
// JSON number.
func parseBig(v interface{}) (*big.Int, bool) {
	switch v := v.(type) {
	case string:
		if n, err := hexutil.DecodeBig(v); err == nil {
			return n, true
		}
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || n.Sign() < 0 || n.BitLen() > 256 {
			return nil, false
		}
		return n, true
	case float64:
		if v < 0 {
			return nil, false
		}
		return new(big.Int).SetUint64(uint64(v)), true
	default:
		return nil, false
	}
}

func parseAddress(v interface{}) (common.Address, bool) {
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// eth_chainId returns the chain ID.
func (s *Server) ethChainID() (interface{}, *ErrorObject) {
	return hexutil.EncodeBig(s.backend.ChainID()), nil
}

// eth_accounts returns the funded development accounts.
func (s *Server) ethAccounts() (interface{}, *ErrorObject) {
	accounts := s.backend.Accounts()
	result := make([]string, len(accounts))
	for i, addr := range accounts {
		result[i] = addr.Hex()
	}
	return result, nil
}

// eth_getBalance returns the balance of an account. The block tag is ignored.
func (s *Server) ethGetBalance(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	addr, ok := parseAddress(args[0])
	if !ok {
		return nil, invalidParams("Invalid address")
	}

	return hexutil.EncodeBig(s.backend.GetBalance(addr)), nil
}

// eth_getLogs returns raffle logs matching the address and topic filter.
func (s *Server) ethGetLogs(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var filter map[string]interface{}
	if len(args) > 0 {
		var ok bool
		filter, ok = args[0].(map[string]interface{})
		if !ok {
			return nil, invalidParams("Invalid filter params")
		}
	}

	// Parse address filter
	var addresses []common.Address
	switch v := filter["address"].(type) {
	case string:
		addresses = append(addresses, common.HexToAddress(v))
	case []interface{}:
		for _, a := range v {
			if aStr, ok := a.(string); ok {
				addresses = append(addresses, common.HexToAddress(aStr))
			}
		}
	}

	// Parse topics filter
	var topics [][]common.Hash
	if topicsParam, ok := filter["topics"].([]interface{}); ok {
		for _, t := range topicsParam {
			var topicGroup []common.Hash
			switch v := t.(type) {
			case string:
				topicGroup = append(topicGroup, common.HexToHash(v))
			case []interface{}:
				for _, h := range v {
					if hStr, ok := h.(string); ok {
						topicGroup = append(topicGroup, common.HexToHash(hStr))
					}
				}
			case nil:
				// nil means any topic
			}
			topics = append(topics, topicGroup)
		}
	}

	logs := []*types.Log{}
	for _, lg := range s.backend.Raffle().Logs(0) {
		if matchLog(lg, addresses, topics) {
			logs = append(logs, lg)
		}
	}
	return logs, nil
}

func matchLog(lg *types.Log, addresses []common.Address, topics [][]common.Hash) bool {
	if len(addresses) > 0 {
		found := false
		for _, addr := range addresses {
			if lg.Address == addr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(topics) > len(lg.Topics) {
		return false
	}
	for i, group := range topics {
		if len(group) == 0 {
			continue
		}
		found := false
		for _, topic := range group {
			if lg.Topics[i] == topic {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// net_version returns the chain ID as a decimal string.
func (s *Server) netVersion() (interface{}, *ErrorObject) {
	return s.backend.ChainID().String(), nil
}

// web3_sha3 returns the Keccak-256 hash of the input data.
func (s *Server) web3Sha3(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	dataStr, ok := args[0].(string)
	if !ok {
		return nil, invalidParams("Invalid data")
	}

	return crypto.Keccak256Hash(common.FromHex(dataStr)).Hex(), nil
}

// evm_increaseTime moves the chain clock forward and returns the new time.
func (s *Server) evmIncreaseTime(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	seconds, ok := parseUint64(args[0])
	if !ok {
		return nil, invalidParams("Invalid seconds")
	}

	newTime, err := s.backend.IncreaseTime(seconds)
	if err != nil {
		return nil, toErrorObject(err)
	}

	return hexutil.EncodeUint64(newTime), nil
}

// evm_setNextBlockTimestamp jumps the chain clock.
func (s *Server) evmSetNextBlockTimestamp(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	timestamp, ok := parseUint64(args[0])
	if !ok {
		return nil, invalidParams("Invalid timestamp")
	}

	if err := s.backend.SetNextTimestamp(timestamp); err != nil {
		return nil, invalidParams(err.Error())
	}
	return nil, nil
}

// evm_mine seals the current time and lets an auto keeper act.
func (s *Server) evmMine() (interface{}, *ErrorObject) {
	if err := s.backend.Mine(); err != nil {
		return nil, toErrorObject(err)
	}
	return "0x0", nil
}

// evm_snapshot captures the node state.
func (s *Server) evmSnapshot() (interface{}, *ErrorObject) {
	id := s.backend.Snapshot()
	return hexutil.EncodeUint64(id), nil
}

// evm_revert reverts to a snapshot.
func (s *Server) evmRevert(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, ok := parseUint64(args[0])
	if !ok {
		return nil, invalidParams("Invalid snapshot ID")
	}

	return s.backend.Revert(id), nil
}

// keeper_setMode switches the upkeep automation mode.
func (s *Server) keeperSetMode(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	name, ok := args[0].(string)
	if !ok {
		return nil, invalidParams("Invalid mode")
	}
	mode, err := keeper.ParseMode(name)
	if err != nil {
		return nil, invalidParams(err.Error())
	}

	k := s.backend.Keeper()
	if k.Running() && mode != keeper.ModeInterval {
		if err := k.Stop(); err != nil {
			return nil, internalError(err)
		}
	}
	k.SetMode(mode)
	if mode == keeper.ModeInterval && !k.Running() {
		if err := k.Start(); err != nil {
			return nil, internalError(err)
		}
	}

	return true, nil
}

// anvil_setBalance and hardhat_setBalance overwrite an account balance.
func (s *Server) setBalance(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}

	addr, ok := parseAddress(args[0])
	if !ok {
		return nil, invalidParams("Invalid address")
	}
	balance, ok := parseBig(args[1])
	if !ok {
		return nil, invalidParams("Invalid balance")
	}

	if err := s.backend.SetBalance(addr, balance); err != nil {
		return nil, toErrorObject(err)
	}
	return true, nil
}

// debug_loadLedger imports balances from a debug_dumpLedger result.
func (s *Server) debugLoadLedger(params json.RawMessage) (interface{}, *ErrorObject) {
	var args []ledger.Dump
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("Invalid ledger dump")
	}

	for addr, acc := range args[0].Accounts {
		if !common.IsHexAddress(addr) {
			return nil, invalidParams("Invalid address in ledger dump: " + addr)
		}
		if _, err := hexutil.DecodeBig(acc.Balance); err != nil {
			return nil, invalidParams("Invalid balance for " + addr + ": " + strconv.Quote(acc.Balance))
		}
	}

	if err := s.backend.LoadLedger(&args[0]); err != nil {
		return nil, internalError(err)
	}
	return true, nil
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
