// Package history persists settled raffle rounds in a bbolt database.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
	"github.com/itachi47/hardhat-lottery-backend/pkg/raffle"
)

var ErrNotFound = errors.New("history: round not found")

var winnersBucket = []byte("winners")

// Record is one settled round.
type Record struct {
	Round     uint64         `json:"round"`
	Winner    common.Address `json:"winner"`
	Amount    *hexutil.Big   `json:"amount"`
	RequestID *hexutil.Big   `json:"requestId"`
	Timestamp uint64         `json:"timestamp"`
}

// FromEvent converts a settlement event into a record.
func FromEvent(ev raffle.WinnerPickedEvent) Record {
	return Record{
		Round:     ev.Round,
		Winner:    ev.Winner,
		Amount:    (*hexutil.Big)(new(big.Int).Set(ev.Amount)),
		RequestID: (*hexutil.Big)(new(big.Int).Set(ev.RequestID)),
		Timestamp: ev.Timestamp,
	}
}

// WinnerSource publishes settlement events.
type WinnerSource interface {
	SubscribeWinnerPicked(ch chan<- raffle.WinnerPickedEvent) event.Subscription
}

// Store is a bbolt-backed round history keyed by round number.
type Store struct {
	db  *bolt.DB
	log *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	const op = "history.Open"

	if log == nil {
		log = logger.Discard()
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(winnersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{db: db, log: log.With(slog.String("component", "history"))}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func roundKey(round uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, round)
	return key
}

// Put stores rec, replacing any record of the same round. Callers that
// reopen a store resume numbering from LastRound.
func (s *Store) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(winnersBucket).Put(roundKey(rec.Round), data)
	})
}

// Get returns the record of round.
func (s *Store) Get(round uint64) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(winnersBucket).Get(roundKey(round))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns every record.
func (s *Store) Recent(limit int) ([]Record, error) {
	records := make([]Record, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(winnersBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("round %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// LastRound returns the highest stored round number, or 0 when empty.
func (s *Store) LastRound() (uint64, error) {
	var round uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(winnersBucket).Cursor().Last(); k != nil {
			round = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return round, err
}

// Count returns the number of stored rounds.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(winnersBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Follow records every settlement published by src until the returned
// subscription is unsubscribed.
func (s *Store) Follow(src WinnerSource) event.Subscription {
	ch := make(chan raffle.WinnerPickedEvent, 16)
	sub := src.SubscribeWinnerPicked(ch)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-ch:
				if err := s.Put(FromEvent(ev)); err != nil {
					s.log.Error("failed to record round", slog.Uint64("round", ev.Round), sl.Err(err))
					continue
				}
				s.log.Debug("round recorded", slog.Uint64("round", ev.Round), sl.Address("winner", ev.Winner))
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}
