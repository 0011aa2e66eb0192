package cryptoutils

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ruteri/share-recovery/interfaces"
	"github.com/tyler-smith/go-bip39"
)

// A share mnemonic is the BIP-39 phrase of the share value followed by two
// words from the same list: the share index and the trailing coordinate
// byte of the material.
const trailerWords = 2

var (
	wordIndexOnce sync.Once
	wordIndex     map[string]int
)

func lookupWord(word string) (int, bool) {
	wordIndexOnce.Do(func() {
		list := bip39.GetWordList()
		wordIndex = make(map[string]int, len(list))
		for i, w := range list {
			wordIndex[w] = i
		}
	})
	i, ok := wordIndex[word]
	return i, ok
}

// ShareToMnemonic encodes a share as words. Material must be a valid BIP-39
// entropy length plus one coordinate byte.
func ShareToMnemonic(share interfaces.Share) (string, error) {
	if err := share.Valid(); err != nil {
		return "", err
	}

	wordList := bip39.GetWordList()
	if share.Index >= len(wordList) {
		return "", fmt.Errorf("%w: index %d cannot be encoded", interfaces.ErrShareRejected, share.Index)
	}

	value := share.Material[:len(share.Material)-1]
	coord := share.Material[len(share.Material)-1]

	phrase, err := bip39.NewMnemonic(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrShareRejected, err)
	}

	return strings.Join([]string{phrase, wordList[share.Index], wordList[coord]}, " "), nil
}

// MnemonicToShare decodes the output of ShareToMnemonic. Unknown words and
// checksum mismatches are rejected with ErrShareRejected.
func MnemonicToShare(mnemonic string) (interfaces.Share, error) {
	words := strings.Fields(strings.ToLower(mnemonic))
	if len(words) <= trailerWords {
		return interfaces.Share{}, fmt.Errorf("%w: mnemonic too short", interfaces.ErrShareRejected)
	}

	phrase := strings.Join(words[:len(words)-trailerWords], " ")
	value, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return interfaces.Share{}, fmt.Errorf("%w: %v", interfaces.ErrShareRejected, err)
	}

	index, ok := lookupWord(words[len(words)-2])
	if !ok {
		return interfaces.Share{}, fmt.Errorf("%w: unknown index word %q", interfaces.ErrShareRejected, words[len(words)-2])
	}
	coord, ok := lookupWord(words[len(words)-1])
	if !ok || coord > 0xff {
		return interfaces.Share{}, fmt.Errorf("%w: invalid coordinate word %q", interfaces.ErrShareRejected, words[len(words)-1])
	}

	share := interfaces.Share{
		Index:    index,
		Material: append(value, byte(coord)),
	}
	return share, share.Valid()
}

// FormatShareHex renders a share as "<index>:<hex material>".
func FormatShareHex(share interfaces.Share) string {
	return fmt.Sprintf("%d:%s", share.Index, hex.EncodeToString(share.Material))
}

// ParseShare accepts either a share mnemonic or the FormatShareHex form.
func ParseShare(text string) (interfaces.Share, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return interfaces.Share{}, fmt.Errorf("%w: empty share", interfaces.ErrShareRejected)
	}

	indexStr, materialHex, found := strings.Cut(text, ":")
	if !found {
		return MnemonicToShare(text)
	}

	index, err := strconv.Atoi(strings.TrimSpace(indexStr))
	if err != nil {
		return interfaces.Share{}, fmt.Errorf("%w: invalid index: %v", interfaces.ErrShareRejected, err)
	}
	material, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(materialHex), "0x"))
	if err != nil {
		return interfaces.Share{}, fmt.Errorf("%w: invalid hex material: %v", interfaces.ErrShareRejected, err)
	}

	share := interfaces.Share{Index: index, Material: material}
	return share, share.Valid()
}
