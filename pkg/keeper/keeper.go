// Package keeper provides the automation trigger that starts raffle draws.
package keeper

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
)

// Common errors.
var (
	ErrAlreadyRunning = errors.New("keeper already running")
	ErrNotRunning     = errors.New("keeper not running")
	ErrInvalidMode    = errors.New("invalid keeper mode")
)

// Mode defines when upkeep is checked.
type Mode int

const (
	// ModeAuto checks upkeep after every state change.
	ModeAuto Mode = iota

	// ModeInterval checks upkeep on a timer.
	ModeInterval

	// ModeManual only checks when explicitly requested.
	ModeManual
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeInterval:
		return "interval"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseMode parses a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto":
		return ModeAuto, nil
	case "interval":
		return ModeInterval, nil
	case "manual":
		return ModeManual, nil
	default:
		return ModeAuto, ErrInvalidMode
	}
}

// Upkeep is an automation-compatible target.
type Upkeep interface {
	CheckUpkeep(checkData []byte) (bool, []byte)
	PerformUpkeep(performData []byte) (*big.Int, error)
}

// Executor runs fn serialised with every other state change.
type Executor func(fn func() error) error

func direct(fn func() error) error {
	return fn()
}

// Keeper polls an Upkeep and performs it when needed.
type Keeper struct {
	target Upkeep
	exec   Executor
	log    *slog.Logger

	mode      Mode
	interval  time.Duration
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	performed uint64

	mu sync.Mutex
}

// New creates a keeper in auto mode. A nil exec runs calls directly.
func New(target Upkeep, exec Executor, log *slog.Logger) *Keeper {
	if exec == nil {
		exec = direct
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Keeper{
		target:   target,
		exec:     exec,
		log:      log.With(slog.String("component", "keeper")),
		mode:     ModeAuto,
		interval: time.Second,
	}
}

// Mode returns the current mode.
func (k *Keeper) Mode() Mode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mode
}

// SetMode sets the mode.
func (k *Keeper) SetMode(mode Mode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.mode = mode
}

// SetInterval sets the polling interval for interval mode.
func (k *Keeper) SetInterval(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.interval = d
}

// Interval returns the polling interval.
func (k *Keeper) Interval() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.interval
}

// Performed returns the number of upkeeps performed.
func (k *Keeper) Performed() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.performed
}

// Tick checks upkeep and performs it when needed. It returns the request id
// of a started draw, or nil.
func (k *Keeper) Tick() (*big.Int, error) {
	var requestID *big.Int
	err := k.exec(func() error {
		var err error
		requestID, err = k.tick()
		return err
	})
	return requestID, err
}

// AfterChange runs Tick inline in auto mode. The caller must already hold
// the executor.
func (k *Keeper) AfterChange() {
	if k.Mode() != ModeAuto {
		return
	}
	if _, err := k.tick(); err != nil {
		k.log.Warn("upkeep failed", sl.Err(err))
	}
}

func (k *Keeper) tick() (*big.Int, error) {
	needed, performData := k.target.CheckUpkeep(nil)
	if !needed {
		return nil, nil
	}

	requestID, err := k.target.PerformUpkeep(performData)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.performed++
	k.mu.Unlock()

	k.log.Info("upkeep performed", sl.Big("request_id", requestID))
	return requestID, nil
}

// Start starts the polling loop (for interval mode).
func (k *Keeper) Start() error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return ErrAlreadyRunning
	}
	k.running = true
	k.stopCh = make(chan struct{})
	k.doneCh = make(chan struct{})
	interval, stop, done := k.interval, k.stopCh, k.doneCh
	k.mu.Unlock()

	go k.run(interval, stop, done)
	return nil
}

// Stop stops the polling loop and waits for it to exit.
func (k *Keeper) Stop() error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return ErrNotRunning
	}
	close(k.stopCh)
	k.running = false
	done := k.doneCh
	k.mu.Unlock()

	<-done
	return nil
}

// Running reports whether the polling loop is active.
func (k *Keeper) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

func (k *Keeper) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := k.Tick(); err != nil {
				k.log.Warn("upkeep failed", sl.Err(err))
			}
		}
	}
}
