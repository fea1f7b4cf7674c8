// Package ws pushes raffle events to websocket clients.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
	"github.com/itachi47/hardhat-lottery-backend/pkg/raffle"
)

// Channel is the channel name of every raffle message.
const Channel = "raffle"

const sendBuffer = 16

// Message is one event pushed to clients. Data holds the event fields keyed
// by their log argument names.
type Message struct {
	Channel string                 `json:"channel"`
	Event   string                 `json:"event"`
	Data    map[string]interface{} `json:"data"`
}

// Source publishes raffle events.
type Source interface {
	SubscribeEnter(ch chan<- raffle.EnterEvent) event.Subscription
	SubscribeDrawRequested(ch chan<- raffle.DrawRequestedEvent) event.Subscription
	SubscribeWinnerPicked(ch chan<- raffle.WinnerPickedEvent) event.Subscription
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans raffle events out to connected websocket clients.
type Hub struct {
	clients map[*client]struct{}
	mutex   sync.RWMutex
	log     *slog.Logger
}

// NewHub returns a hub with no clients.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log.With(slog.String("component", "ws")),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Run forwards every event of src to the connected clients until the
// returned subscription is unsubscribed.
func (hub *Hub) Run(src Source) event.Subscription {
	enterCh := make(chan raffle.EnterEvent, sendBuffer)
	drawCh := make(chan raffle.DrawRequestedEvent, sendBuffer)
	winnerCh := make(chan raffle.WinnerPickedEvent, sendBuffer)

	subs := []event.Subscription{
		src.SubscribeEnter(enterCh),
		src.SubscribeDrawRequested(drawCh),
		src.SubscribeWinnerPicked(winnerCh),
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer func() {
			for _, sub := range subs {
				sub.Unsubscribe()
			}
		}()

		for {
			select {
			case ev := <-enterCh:
				hub.Broadcast(Message{Channel: Channel, Event: "RaffleEnter", Data: map[string]interface{}{
					"player":    ev.Player.Hex(),
					"amount":    ev.Amount.String(),
					"timestamp": ev.Timestamp,
				}})
			case ev := <-drawCh:
				hub.Broadcast(Message{Channel: Channel, Event: "RequestedRaffleWinner", Data: map[string]interface{}{
					"requestId": ev.RequestID.String(),
					"timestamp": ev.Timestamp,
				}})
			case ev := <-winnerCh:
				hub.Broadcast(Message{Channel: Channel, Event: "WinnerPicked", Data: map[string]interface{}{
					"winner":    ev.Winner.Hex(),
					"amount":    ev.Amount.String(),
					"requestId": ev.RequestID.String(),
					"round":     ev.Round,
					"timestamp": ev.Timestamp,
				}})
			case err := <-subs[0].Err():
				return err
			case err := <-subs[1].Err():
				return err
			case err := <-subs[2].Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

// Broadcast queues message for every client. Clients that cannot keep up
// are disconnected.
func (hub *Hub) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		hub.log.Error("failed to marshal message", sl.Err(err))
		return
	}

	hub.log.Debug("broadcasting message", sl.String("event", message.Event))

	hub.mutex.RLock()
	var slow []*client
	for c := range hub.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	hub.mutex.RUnlock()

	for _, c := range slow {
		hub.log.Warn("dropping slow client", sl.String("remote_addr", c.conn.RemoteAddr().String()))
		hub.remove(c)
	}
}

// Clients returns the number of connected clients.
func (hub *Hub) Clients() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

func (hub *Hub) remove(c *client) {
	hub.mutex.Lock()
	if _, ok := hub.clients[c]; ok {
		delete(hub.clients, c)
		close(c.send)
	}
	hub.mutex.Unlock()
}

// HandleConnection upgrades the request to a websocket and streams events to
// it until the peer disconnects.
func (hub *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("failed to upgrade connection", sl.Err(err))

		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	hub.mutex.Lock()
	hub.clients[c] = struct{}{}
	hub.mutex.Unlock()

	go hub.write(c)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	hub.remove(c)
}

func (hub *Hub) write(c *client) {
	defer func() {
		if err := c.conn.Close(); err != nil {
			hub.log.Debug("failed to close connection", sl.Err(err))
		}
	}()

	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			hub.log.Error("failed to write message", sl.Err(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Close disconnects every client.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for c := range hub.clients {
		delete(hub.clients, c)
		close(c.send)
	}
}
