package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeThresholdKey accepts any distinct share index and reconstructs a fixed
// key once threshold shares were submitted.
type fakeThresholdKey struct {
	mu             sync.Mutex
	threshold      int
	total          int
	received       map[int]bool
	key            []byte
	reconstructErr error
	reconstructed  int
	locked         int
}

func newFakeThresholdKey(t *testing.T, threshold, total int) *fakeThresholdKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeThresholdKey{
		threshold: threshold,
		total:     total,
		received:  make(map[int]bool),
		key:       crypto.FromECDSA(key),
	}
}

func (f *fakeThresholdKey) state() interfaces.ThresholdState {
	required := f.threshold - len(f.received)
	if required < 0 {
		required = 0
	}
	return interfaces.ThresholdState{Threshold: f.threshold, TotalShares: f.total, RequiredShares: required}
}

func (f *fakeThresholdKey) KeyDetails(ctx context.Context) (interfaces.ThresholdState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state(), nil
}

func (f *fakeThresholdKey) InputShare(ctx context.Context, share interfaces.Share) (interfaces.ThresholdState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if share.Index > f.total {
		return f.state(), fmt.Errorf("%w: unknown index", interfaces.ErrShareRejected)
	}
	if f.received[share.Index] {
		return f.state(), fmt.Errorf("%w: duplicate", interfaces.ErrShareRejected)
	}
	f.received[share.Index] = true
	return f.state(), nil
}

func (f *fakeThresholdKey) ReconstructKey(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconstructed++
	if f.reconstructErr != nil {
		return nil, f.reconstructErr
	}
	return append([]byte{}, f.key...), nil
}

func (f *fakeThresholdKey) GenerateNewShare(ctx context.Context) (interfaces.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total++
	return interfaces.Share{Index: f.total, Material: []byte{byte(f.total)}}, nil
}

func (f *fakeThresholdKey) Lock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked++
	f.received = make(map[int]bool)
}

// MockThresholdKey implements interfaces.ThresholdKey for testing
type MockThresholdKey struct {
	mock.Mock
}

func (m *MockThresholdKey) KeyDetails(ctx context.Context) (interfaces.ThresholdState, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.ThresholdState), args.Error(1)
}

func (m *MockThresholdKey) InputShare(ctx context.Context, share interfaces.Share) (interfaces.ThresholdState, error) {
	args := m.Called(ctx, share)
	return args.Get(0).(interfaces.ThresholdState), args.Error(1)
}

func (m *MockThresholdKey) ReconstructKey(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockThresholdKey) GenerateNewShare(ctx context.Context) (interfaces.Share, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.Share), args.Error(1)
}

func share(index int) interfaces.Share {
	return interfaces.Share{Index: index, Material: []byte{byte(index), 0xaa}}
}

func TestCoordinator_DuplicateThenDistinctShare(t *testing.T) {
	key := newFakeThresholdKey(t, 2, 3)
	c := NewCoordinator(key, testLogger())
	ctx := context.Background()

	st, err := c.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.RequiredShares)
	assert.Equal(t, StateAwaitingShares, c.State())

	st, err = c.SubmitShare(ctx, share(1))
	require.NoError(t, err)
	assert.Equal(t, 1, st.RequiredShares)
	assert.Equal(t, StateAwaitingShares, c.State())
	assert.Equal(t, 0, key.reconstructed, "no reconstruction before threshold")

	st, err = c.SubmitShare(ctx, share(1))
	assert.ErrorIs(t, err, interfaces.ErrShareRejected)
	assert.Equal(t, 1, st.RequiredShares, "duplicate leaves the count unchanged")
	assert.Equal(t, StateAwaitingShares, c.State())

	st, err = c.SubmitShare(ctx, share(2))
	require.NoError(t, err)
	assert.Equal(t, 0, st.RequiredShares)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, key.reconstructed, "reconstruction runs exactly once")

	_, err = c.SubmitShare(ctx, share(3))
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
	assert.Equal(t, 1, key.reconstructed)

	signer, err := c.Signer()
	require.NoError(t, err)
	status := c.Status()
	assert.Equal(t, signer.Address().Hex(), status.Address)
	assert.Equal(t, 1, status.Reconstructions)
}

func TestCoordinator_RequiredSharesNonIncreasing(t *testing.T) {
	key := newFakeThresholdKey(t, 4, 6)
	c := NewCoordinator(key, testLogger())
	ctx := context.Background()

	st, err := c.Start(ctx)
	require.NoError(t, err)
	previous := st.RequiredShares

	for _, idx := range []int{3, 3, 9, 1, 1, 6, 3, 2} {
		st, _ := c.SubmitShare(ctx, share(idx))
		assert.LessOrEqual(t, st.RequiredShares, previous)
		previous = st.RequiredShares
		if c.State() != StateAwaitingShares {
			break
		}
	}
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, key.reconstructed)
}

func TestCoordinator_StartWithNoSharesRequired(t *testing.T) {
	key := newFakeThresholdKey(t, 1, 1)
	key.received[1] = true
	c := NewCoordinator(key, testLogger())

	st, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.RequiredShares)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, key.reconstructed)

	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
}

func TestCoordinator_AssemblyFailureIsTerminal(t *testing.T) {
	key := newFakeThresholdKey(t, 2, 3)
	key.reconstructErr = fmt.Errorf("%w: address mismatch", interfaces.ErrAssemblyFailure)
	c := NewCoordinator(key, testLogger())
	ctx := context.Background()

	_, err := c.Start(ctx)
	require.NoError(t, err)
	_, err = c.SubmitShare(ctx, share(1))
	require.NoError(t, err)
	_, err = c.SubmitShare(ctx, share(2))
	assert.ErrorIs(t, err, interfaces.ErrAssemblyFailure)
	assert.Equal(t, StateFailed, c.State())

	// No retry from the failed state
	_, err = c.SubmitShare(ctx, share(3))
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
	assert.Equal(t, 1, key.reconstructed)
	assert.NotEmpty(t, c.Status().Failure)

	_, err = c.Signer()
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)

	c.Reset()
	assert.Equal(t, StateStart, c.State())
	assert.Equal(t, 1, key.locked)
	assert.Empty(t, c.Status().Failure)
}

func TestCoordinator_InvalidKeyMaterialFails(t *testing.T) {
	key := newFakeThresholdKey(t, 1, 1)
	key.key = make([]byte, 32)
	c := NewCoordinator(key, testLogger())

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	_, err = c.SubmitShare(context.Background(), share(1))
	assert.ErrorIs(t, err, interfaces.ErrAssemblyFailure)
	assert.Equal(t, StateFailed, c.State())
}

func TestCoordinator_ExternalFailures(t *testing.T) {
	ctx := context.Background()
	awaiting := interfaces.ThresholdState{Threshold: 2, TotalShares: 3, RequiredShares: 2}

	tests := []struct {
		name          string
		setup         func(m *MockThresholdKey)
		expectedError error
		expectedState State
	}{
		{
			name: "input share transport failure is typed",
			setup: func(m *MockThresholdKey) {
				m.On("KeyDetails", mock.Anything).Return(awaiting, nil).Once()
				m.On("InputShare", mock.Anything, share(1)).Return(awaiting, errors.New("metadata store timeout"))
			},
			expectedError: interfaces.ErrBackendUnavailable,
			expectedState: StateAwaitingShares,
		},
		{
			name: "re-query failure keeps the previous state",
			setup: func(m *MockThresholdKey) {
				m.On("KeyDetails", mock.Anything).Return(awaiting, nil).Once()
				m.On("InputShare", mock.Anything, share(1)).Return(awaiting, nil)
				m.On("KeyDetails", mock.Anything).Return(interfaces.ThresholdState{}, errors.New("lost connection")).Once()
			},
			expectedError: interfaces.ErrBackendUnavailable,
			expectedState: StateAwaitingShares,
		},
		{
			name: "untyped reconstruction failure becomes assembly failure",
			setup: func(m *MockThresholdKey) {
				m.On("KeyDetails", mock.Anything).Return(awaiting, nil).Once()
				m.On("InputShare", mock.Anything, share(1)).Return(awaiting, nil)
				m.On("KeyDetails", mock.Anything).Return(interfaces.ThresholdState{Threshold: 2, TotalShares: 3}, nil).Once()
				m.On("ReconstructKey", mock.Anything).Return(nil, errors.New("combine failed")).Once()
			},
			expectedError: interfaces.ErrAssemblyFailure,
			expectedState: StateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockThresholdKey{}
			tt.setup(m)
			c := NewCoordinator(m, testLogger())

			_, err := c.Start(ctx)
			require.NoError(t, err)

			_, err = c.SubmitShare(ctx, share(1))
			assert.ErrorIs(t, err, tt.expectedError)
			assert.Equal(t, tt.expectedState, c.State())
			m.AssertExpectations(t)
		})
	}
}

func TestCoordinator_RecoversFromFailedStateRead(t *testing.T) {
	ctx := context.Background()
	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	m := &MockThresholdKey{}
	m.On("KeyDetails", mock.Anything).Return(interfaces.ThresholdState{Threshold: 1, TotalShares: 2, RequiredShares: 1}, nil).Once()
	m.On("InputShare", mock.Anything, share(1)).Return(interfaces.ThresholdState{Threshold: 1, TotalShares: 2}, nil).Once()
	m.On("KeyDetails", mock.Anything).Return(interfaces.ThresholdState{}, errors.New("lost connection")).Once()
	m.On("KeyDetails", mock.Anything).Return(interfaces.ThresholdState{Threshold: 1, TotalShares: 2}, nil).Once()
	m.On("ReconstructKey", mock.Anything).Return(crypto.FromECDSA(privateKey), nil).Once()

	c := NewCoordinator(m, testLogger())
	_, err = c.Start(ctx)
	require.NoError(t, err)

	_, err = c.SubmitShare(ctx, share(1))
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.Equal(t, StateAwaitingShares, c.State())

	// The key already holds enough shares; the next submission reads the
	// state again and reconstructs instead of submitting
	st, err := c.SubmitShare(ctx, share(2))
	require.NoError(t, err)
	assert.Equal(t, 0, st.RequiredShares)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, c.Status().Reconstructions)

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "InputShare", mock.Anything, share(2))
}

func TestCoordinator_Refresh(t *testing.T) {
	ctx := context.Background()
	key := newFakeThresholdKey(t, 2, 3)
	c := NewCoordinator(key, testLogger())

	st, err := c.Refresh(ctx)
	require.NoError(t, err, "refresh before start is a no-op")
	assert.Equal(t, StateStart, c.State())
	assert.Equal(t, 0, st.Threshold)

	_, err = c.Start(ctx)
	require.NoError(t, err)

	// Shares reach the key behind the coordinator's back
	key.received[1] = true
	key.received[2] = true

	st, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.RequiredShares)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, key.reconstructed)
}

func TestCoordinator_RejectsMalformedShareLocally(t *testing.T) {
	m := &MockThresholdKey{}
	m.On("KeyDetails", mock.Anything).Return(interfaces.ThresholdState{Threshold: 2, RequiredShares: 2}, nil).Once()
	c := NewCoordinator(m, testLogger())

	_, err := c.Start(context.Background())
	require.NoError(t, err)

	st, err := c.SubmitShare(context.Background(), interfaces.Share{Index: 0, Material: []byte{1}})
	assert.ErrorIs(t, err, interfaces.ErrShareRejected)
	assert.Equal(t, 2, st.RequiredShares)
	m.AssertNotCalled(t, "InputShare", mock.Anything, mock.Anything)
}

func TestCoordinator_SubmitBeforeStart(t *testing.T) {
	c := NewCoordinator(newFakeThresholdKey(t, 2, 3), testLogger())
	_, err := c.SubmitShare(context.Background(), share(1))
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
}

func TestCoordinator_ConcurrentSubmissions(t *testing.T) {
	key := newFakeThresholdKey(t, 5, 10)
	c := NewCoordinator(key, testLogger())
	ctx := context.Background()
	_, err := c.Start(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c.SubmitShare(ctx, share(idx))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, key.reconstructed)
}

func TestCoordinator_GenerateShare(t *testing.T) {
	key := newFakeThresholdKey(t, 1, 1)
	c := NewCoordinator(key, testLogger())
	ctx := context.Background()

	_, err := c.GenerateShare(ctx)
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)

	_, err = c.Start(ctx)
	require.NoError(t, err)
	_, err = c.SubmitShare(ctx, share(1))
	require.NoError(t, err)

	s, err := c.GenerateShare(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Index)
	assert.Equal(t, 2, c.Status().Threshold.TotalShares)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_shares", StateAwaitingShares.String())
	text, err := StateReady.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(text))
	assert.Equal(t, "state(42)", State(42).String())
}
