package cryptoutils

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/ruteri/share-recovery/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomShare(t *testing.T, index int) interfaces.Share {
	material := make([]byte, 33)
	_, err := rand.Read(material)
	require.NoError(t, err)
	return interfaces.Share{Index: index, Material: material}
}

func TestShareMnemonic_RoundTrip(t *testing.T) {
	for _, index := range []int{1, 2, 7, 255} {
		share := randomShare(t, index)

		mnemonic, err := ShareToMnemonic(share)
		require.NoError(t, err)
		assert.Len(t, strings.Fields(mnemonic), 26)

		decoded, err := MnemonicToShare(mnemonic)
		require.NoError(t, err)
		assert.Equal(t, share.Index, decoded.Index)
		assert.True(t, bytes.Equal(share.Material, decoded.Material))
	}
}

func TestShareMnemonic_Tolerant(t *testing.T) {
	share := randomShare(t, 3)
	mnemonic, err := ShareToMnemonic(share)
	require.NoError(t, err)

	messy := "  " + strings.ToUpper(strings.ReplaceAll(mnemonic, " ", "   ")) + "\n"
	decoded, err := MnemonicToShare(messy)
	require.NoError(t, err)
	assert.Equal(t, share, decoded)
}

func TestMnemonicToShare_Rejects(t *testing.T) {
	share := randomShare(t, 1)
	mnemonic, err := ShareToMnemonic(share)
	require.NoError(t, err)
	words := strings.Fields(mnemonic)

	testCases := []struct {
		name     string
		mnemonic string
	}{
		{"too short", "abandon ability"},
		{"unknown word", strings.Join(append([]string{"notaword"}, words[1:]...), " ")},
		{"bad trailer", strings.Join(append(append([]string{}, words[:25]...), "notaword"), " ")},
		{"truncated phrase", strings.Join(words[1:], " ")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := MnemonicToShare(tc.mnemonic)
			assert.ErrorIs(t, err, interfaces.ErrShareRejected)
		})
	}
}

func TestShareToMnemonic_InvalidMaterial(t *testing.T) {
	_, err := ShareToMnemonic(interfaces.Share{Index: 1, Material: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, interfaces.ErrShareRejected)

	_, err = ShareToMnemonic(interfaces.Share{Index: 0, Material: make([]byte, 33)})
	assert.ErrorIs(t, err, interfaces.ErrShareRejected)
}

func TestParseShare(t *testing.T) {
	share := randomShare(t, 4)

	parsed, err := ParseShare(FormatShareHex(share))
	require.NoError(t, err)
	assert.Equal(t, share, parsed)

	mnemonic, err := ShareToMnemonic(share)
	require.NoError(t, err)
	parsed, err = ParseShare(mnemonic)
	require.NoError(t, err)
	assert.Equal(t, share, parsed)

	for _, bad := range []string{"", "   ", "x:abcd", "2:zz", "0:abcd", "3:"} {
		_, err := ParseShare(bad)
		assert.ErrorIs(t, err, interfaces.ErrShareRejected, "input %q", bad)
	}
}
