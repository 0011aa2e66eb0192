package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/share-recovery/cryptoutils"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/ruteri/share-recovery/metrics"
	"github.com/ruteri/share-recovery/wallet"
)

// State is the coordinator's position in a reconstruction attempt.
type State int

const (
	// StateStart is the state before Start and after Reset.
	StateStart State = iota
	StateAwaitingShares
	StateReconstructing
	// StateReady means the key was reconstructed and a signer is available.
	StateReady
	// StateFailed is terminal until Reset.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingShares:
		return "awaiting_shares"
	case StateReconstructing:
		return "reconstructing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the coordinator.
type Status struct {
	State           State                     `json:"state"`
	Threshold       interfaces.ThresholdState `json:"threshold"`
	Reconstructions int                       `json:"reconstructions"`
	Address         string                    `json:"address,omitempty"`
	Failure         string                    `json:"failure,omitempty"`
}

// Coordinator drives one reconstruction attempt against a threshold key.
// The key is the only source of truth for how many shares are still
// required; the coordinator re-reads it after every accepted share and
// reconstructs exactly once when it reaches zero. All transitions are
// serialized.
type Coordinator struct {
	mu              sync.Mutex
	key             interfaces.ThresholdKey
	log             *slog.Logger
	state           State
	last            interfaces.ThresholdState
	signer          *wallet.Signer
	failure         error
	reconstructions int
	// stale is set when the key accepted a share but its state could not be
	// read back. The next call re-reads it before doing anything else.
	stale bool
}

// NewCoordinator returns a coordinator in StateStart. Nothing is read from
// the key until Start.
func NewCoordinator(key interfaces.ThresholdKey, log *slog.Logger) *Coordinator {
	return &Coordinator{key: key, log: log, state: StateStart}
}

// Start reads the initial threshold state. If no shares are required the
// key is reconstructed right away.
func (c *Coordinator) Start(ctx context.Context) (interfaces.ThresholdState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStart {
		return c.last, fmt.Errorf("%w: coordinator already started (%s)", interfaces.ErrInvalidState, c.state)
	}

	st, err := c.key.KeyDetails(ctx)
	if err != nil {
		return c.last, interfaces.Typed(err)
	}
	c.last = st

	if st.RequiredShares == 0 {
		return st, c.reconstruct(ctx)
	}

	c.state = StateAwaitingShares
	c.log.Info("Awaiting shares",
		slog.Int("required", st.RequiredShares),
		slog.Int("total", st.TotalShares))
	return st, nil
}

// Refresh re-reads the threshold state while awaiting shares and
// reconstructs if nothing more is required. Use it to recover from a failed
// state read after an accepted share.
func (c *Coordinator) Refresh(ctx context.Context) (interfaces.ThresholdState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingShares {
		return c.last, nil
	}
	return c.refresh(ctx)
}

// refresh must be called with c.mu held in StateAwaitingShares.
func (c *Coordinator) refresh(ctx context.Context) (interfaces.ThresholdState, error) {
	st, err := c.key.KeyDetails(ctx)
	if err != nil {
		c.stale = true
		return c.last, interfaces.Typed(err)
	}
	if st.RequiredShares > c.last.RequiredShares {
		c.log.Warn("Required share count increased",
			slog.Int("before", c.last.RequiredShares),
			slog.Int("after", st.RequiredShares))
	}
	c.last = st
	c.stale = false

	if st.RequiredShares == 0 {
		return st, c.reconstruct(ctx)
	}
	return st, nil
}

// SubmitShare hands a share to the threshold key. A rejected share leaves
// the state unchanged. If an earlier state read failed, the state is read
// again first; when that shows the threshold already met, the key is
// reconstructed and share is not submitted.
func (c *Coordinator) SubmitShare(ctx context.Context, share interfaces.Share) (interfaces.ThresholdState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAwaitingShares {
		return c.last, fmt.Errorf("%w: cannot accept shares in state %s", interfaces.ErrInvalidState, c.state)
	}

	if err := share.Valid(); err != nil {
		metrics.IncShareSubmitted(interfaces.KindShareRejected)
		return c.last, err
	}

	if c.stale {
		st, err := c.refresh(ctx)
		if err != nil || c.state != StateAwaitingShares {
			return st, err
		}
	}

	if _, err := c.key.InputShare(ctx, share); err != nil {
		err = interfaces.Typed(err)
		metrics.IncShareSubmitted(interfaces.ErrorKind(err))
		c.log.Warn("Share not accepted", slog.Int("index", share.Index), "err", err)
		return c.last, err
	}
	metrics.IncShareSubmitted(metrics.ResultOK)
	c.log.Info("Share accepted", slog.Int("index", share.Index))

	return c.refresh(ctx)
}

// reconstruct must be called with c.mu held. It never runs twice for the
// same coordinator.
func (c *Coordinator) reconstruct(ctx context.Context) error {
	c.state = StateReconstructing
	c.reconstructions++

	key, err := c.key.ReconstructKey(ctx)
	if err != nil {
		return c.fail(err)
	}
	signer, err := wallet.NewSigner(key)
	cryptoutils.WipeBytes(key)
	if err != nil {
		return c.fail(err)
	}

	c.signer = signer
	c.state = StateReady
	metrics.IncReconstruction(metrics.ResultOK)
	c.log.Info("Key reconstructed", slog.String("address", signer.Address().Hex()))
	return nil
}

func (c *Coordinator) fail(err error) error {
	if !errors.Is(err, interfaces.ErrAssemblyFailure) {
		err = fmt.Errorf("%w: %w", interfaces.ErrAssemblyFailure, err)
	}
	c.state = StateFailed
	c.failure = err
	metrics.IncReconstruction(metrics.ResultError)
	c.log.Error("Key reconstruction failed", "err", err)
	return err
}

// Reset discards all progress, including a reconstructed key, and returns
// to StateStart.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if locker, ok := c.key.(interface{ Lock() }); ok {
		locker.Lock()
	}
	c.state = StateStart
	c.last = interfaces.ThresholdState{}
	c.signer = nil
	c.failure = nil
	c.reconstructions = 0
	c.stale = false
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot. Address is set once the key is ready and
// Failure once it has failed.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:           c.state,
		Threshold:       c.last,
		Reconstructions: c.reconstructions,
	}
	if c.signer != nil {
		status.Address = c.signer.Address().Hex()
	}
	if c.failure != nil {
		status.Failure = c.failure.Error()
	}
	return status
}

// Signer returns the signer of the reconstructed key.
func (c *Coordinator) Signer() (*wallet.Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		return nil, fmt.Errorf("%w: key is not reconstructed (%s)", interfaces.ErrInvalidState, c.state)
	}
	return c.signer, nil
}

// GenerateShare issues a new share of the reconstructed key.
func (c *Coordinator) GenerateShare(ctx context.Context) (interfaces.Share, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		return interfaces.Share{}, fmt.Errorf("%w: key is not reconstructed (%s)", interfaces.ErrInvalidState, c.state)
	}
	share, err := c.key.GenerateNewShare(ctx)
	if err != nil {
		return interfaces.Share{}, interfaces.Typed(err)
	}

	st, err := c.key.KeyDetails(ctx)
	if err == nil {
		c.last = st
	}
	return share, nil
}
