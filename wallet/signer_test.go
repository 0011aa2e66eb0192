package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBalanceReader struct {
	balances map[common.Address]*big.Int
	err      error
}

func (f *fakeBalanceReader) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.balances[account]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func newTestSigner(t *testing.T) *Signer {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(crypto.FromECDSA(key))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())
	return signer
}

func TestNewSigner_InvalidKey(t *testing.T) {
	_, err := NewSigner(make([]byte, 32))
	assert.ErrorIs(t, err, interfaces.ErrAssemblyFailure)

	_, err = NewSigner([]byte{1, 2, 3})
	assert.ErrorIs(t, err, interfaces.ErrAssemblyFailure)
}

func TestSigner_SignAndRecover(t *testing.T) {
	signer := newTestSigner(t)
	msg := []byte("recovered wallet ownership proof")

	sig, err := signer.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

	addr, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	other, err := RecoverAddress([]byte("another message"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), other)

	_, err = RecoverAddress(msg, sig[:64])
	assert.Error(t, err)
}

func TestSigner_Balance(t *testing.T) {
	signer := newTestSigner(t)
	reader := &fakeBalanceReader{balances: map[common.Address]*big.Int{
		signer.Address(): big.NewInt(1500000000000000000),
	}}

	balance, err := signer.Balance(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, "1.5", FormatEther(balance))

	_, err = signer.Balance(context.Background(), &fakeBalanceReader{err: errors.New("dial tcp: connection refused")})
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei      string
		expected string
	}{
		{"0", "0"},
		{"1", "0.000000000000000001"},
		{"1000000000000000000", "1"},
		{"123450000000000000000", "123.45"},
		{"-250000000000000000", "-0.25"},
	}

	for _, tt := range tests {
		t.Run(tt.wei, func(t *testing.T) {
			wei, ok := new(big.Int).SetString(tt.wei, 10)
			require.True(t, ok)
			assert.Equal(t, tt.expected, FormatEther(wei))
		})
	}
	assert.Equal(t, "0", FormatEther(nil))
}
