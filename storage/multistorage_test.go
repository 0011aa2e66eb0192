package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockMetadataStore implements interfaces.MetadataStore for testing
type MockMetadataStore struct {
	mock.Mock
	name string
}

func (m *MockMetadataStore) Get(ctx context.Context, userID string) ([]byte, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockMetadataStore) Put(ctx context.Context, userID string, data []byte) error {
	args := m.Called(ctx, userID, data)
	return args.Error(0)
}

func (m *MockMetadataStore) Delete(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockMetadataStore) Name() string {
	return m.name
}

func TestMultiMetadataStore_Get(t *testing.T) {
	testData := []byte(`{"threshold":2}`)
	testErr := errors.New("connection refused")
	notFound := fmt.Errorf("%w: missing", interfaces.ErrNotFound)

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.MetadataStore
		expectedData  []byte
		expectedError error
	}{
		{
			name: "first store successful",
			setupMocks: func() []interfaces.MetadataStore {
				mock1 := &MockMetadataStore{name: "mock-A"}
				mock1.On("Get", mock.Anything, "alice").Return(testData, nil)

				mock2 := &MockMetadataStore{name: "mock-B"}
				// Not called as the first one succeeds

				return []interfaces.MetadataStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first store fails, second succeeds",
			setupMocks: func() []interfaces.MetadataStore {
				mock1 := &MockMetadataStore{name: "mock-A"}
				mock1.On("Get", mock.Anything, "alice").Return(nil, testErr)

				mock2 := &MockMetadataStore{name: "mock-B"}
				mock2.On("Get", mock.Anything, "alice").Return(testData, nil)

				return []interfaces.MetadataStore{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "missing everywhere is not found",
			setupMocks: func() []interfaces.MetadataStore {
				mock1 := &MockMetadataStore{name: "mock-A"}
				mock1.On("Get", mock.Anything, "alice").Return(nil, notFound)

				mock2 := &MockMetadataStore{name: "mock-B"}
				mock2.On("Get", mock.Anything, "alice").Return(nil, notFound)

				return []interfaces.MetadataStore{mock1, mock2}
			},
			expectedError: interfaces.ErrNotFound,
		},
		{
			name: "failure anywhere is unavailable",
			setupMocks: func() []interfaces.MetadataStore {
				mock1 := &MockMetadataStore{name: "mock-A"}
				mock1.On("Get", mock.Anything, "alice").Return(nil, notFound)

				mock2 := &MockMetadataStore{name: "mock-B"}
				mock2.On("Get", mock.Anything, "alice").Return(nil, testErr)

				return []interfaces.MetadataStore{mock1, mock2}
			},
			expectedError: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiMetadataStore(stores, logger)

			data, err := multi.Get(context.Background(), "alice")

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, store := range stores {
				store.(*MockMetadataStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiMetadataStore_Put(t *testing.T) {
	testData := []byte("metadata")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		results       []error
		expectedError bool
	}{
		{"all stores successful", []error{nil, nil}, false},
		{"some stores fail", []error{testErr, nil}, false},
		{"all stores fail", []error{testErr, testErr}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stores []interfaces.MetadataStore
			for i, result := range tt.results {
				m := &MockMetadataStore{name: fmt.Sprintf("mock-%d", i)}
				m.On("Put", mock.Anything, "alice", testData).Return(result)
				stores = append(stores, m)
			}

			multi := NewMultiMetadataStore(stores, slog.New(slog.NewTextHandler(io.Discard, nil)))
			err := multi.Put(context.Background(), "alice", testData)

			if tt.expectedError {
				assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
			} else {
				assert.NoError(t, err)
			}
			for _, store := range stores {
				store.(*MockMetadataStore).AssertExpectations(t)
			}
		})
	}
}

func TestMultiMetadataStore_Delete(t *testing.T) {
	mock1 := &MockMetadataStore{name: "mock-A"}
	mock1.On("Delete", mock.Anything, "alice").Return(nil)
	mock2 := &MockMetadataStore{name: "mock-B"}
	mock2.On("Delete", mock.Anything, "alice").Return(errors.New("boom"))

	multi := NewMultiMetadataStore([]interfaces.MetadataStore{mock1, mock2}, nil)
	err := multi.Delete(context.Background(), "alice")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	mock1.AssertExpectations(t)
	mock2.AssertExpectations(t)
	assert.Equal(t, "multi:[mock-A,mock-B]", multi.Name())
}
