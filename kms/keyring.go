package kms

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/share-recovery/cryptoutils"
	"github.com/ruteri/share-recovery/interfaces"
)

const (
	metadataVersion = 1
	secretLen       = 32
	shareLen        = secretLen + 1
	poolKeyInfo     = "share-recovery/share-pool/v1"

	// DefaultSpareShares is how many shares beyond the initial set are split
	// up front so that new shares can be issued later.
	DefaultSpareShares = 8
)

// KeyMetadata is the persisted, non-secret state of a user's threshold key.
// Issued maps each share index to the x-coordinate tag of its material. The
// unissued part of the split is sealed under a key derived from the secret,
// so it is only usable after reconstruction.
type KeyMetadata struct {
	Version   int          `json:"version"`
	Threshold int          `json:"threshold"`
	Address   string       `json:"address"`
	Issued    map[int]byte `json:"issued"`
	NextIndex int          `json:"next_index"`
	PoolSalt  []byte       `json:"pool_salt"`
	Pool      []byte       `json:"pool"`
}

// ShamirKeyring is the threshold key of one user. Shares are collected one at
// a time and combined once the threshold is met.
//
// The reconstructed secret is a secp256k1 private key. Its address is kept in
// the metadata and checked after combining, so a wrong combination is
// detected instead of silently yielding a different key.
type ShamirKeyring struct {
	mu             sync.Mutex
	userID         string
	meta           *KeyMetadata
	store          interfaces.MetadataStore
	log            *slog.Logger
	receivedShares map[int][]byte
	secret         []byte
}

var _ interfaces.ThresholdKey = (*ShamirKeyring)(nil)

// KeyringService creates, opens and resets per-user keyrings backed by a
// metadata store.
type KeyringService struct {
	store       interfaces.MetadataStore
	log         *slog.Logger
	spareShares int
}

func NewKeyringService(store interfaces.MetadataStore, log *slog.Logger) *KeyringService {
	return &KeyringService{store: store, log: log, spareShares: DefaultSpareShares}
}

// WithSpareShares sets how many extra shares are split at creation.
func (s *KeyringService) WithSpareShares(n int) *KeyringService {
	s.spareShares = n
	return s
}

// Create generates a new key for userID, splits it and returns the initial
// shares for distribution. It fails if the user already has a key.
func (s *KeyringService) Create(ctx context.Context, userID string, threshold, shares int) (*ShamirKeyring, []interfaces.Share, error) {
	if threshold < 2 {
		return nil, nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, nil, errors.New("total shares must be at least equal to threshold")
	}
	poolSize := shares + s.spareShares
	if poolSize > 255 {
		return nil, nil, errors.New("at most 255 shares can be split")
	}

	if _, err := s.store.Get(ctx, userID); err == nil {
		return nil, nil, fmt.Errorf("%w: key already exists for user", interfaces.ErrInvalidState)
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil, interfaces.Typed(err)
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	secret := crypto.FromECDSA(privateKey)
	defer cryptoutils.WipeBytes(secret)

	parts, err := shamir.Split(secret, poolSize, threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split key: %w", err)
	}

	meta := &KeyMetadata{
		Version:   metadataVersion,
		Threshold: threshold,
		Address:   crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		Issued:    make(map[int]byte),
		NextIndex: 1,
	}

	issued := make([]interfaces.Share, 0, shares)
	for _, part := range parts[:shares] {
		issued = append(issued, issueShare(meta, part))
	}

	if err := sealPool(meta, secret, parts[shares:]); err != nil {
		return nil, nil, err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.Put(ctx, userID, data); err != nil {
		return nil, nil, interfaces.Typed(err)
	}

	s.log.Info("Created threshold key",
		slog.String("address", meta.Address),
		slog.Int("threshold", threshold),
		slog.Int("shares", shares))

	return s.newKeyring(userID, meta), issued, nil
}

// Open loads the keyring of userID in its locked state. Returns ErrNotFound
// if the user has no key.
func (s *KeyringService) Open(ctx context.Context, userID string) (*ShamirKeyring, error) {
	data, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, interfaces.Typed(err)
	}

	var meta KeyMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: corrupted key metadata: %v", interfaces.ErrBackendUnavailable, err)
	}
	if meta.Version != metadataVersion {
		return nil, fmt.Errorf("%w: unsupported key metadata version %d", interfaces.ErrConfiguration, meta.Version)
	}
	if meta.Issued == nil {
		meta.Issued = make(map[int]byte)
	}

	return s.newKeyring(userID, &meta), nil
}

// Reset irreversibly deletes the user's key metadata.
func (s *KeyringService) Reset(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return interfaces.Typed(err)
	}
	s.log.Warn("Threshold key metadata reset")
	return nil
}

func (s *KeyringService) newKeyring(userID string, meta *KeyMetadata) *ShamirKeyring {
	return &ShamirKeyring{
		userID:         userID,
		meta:           meta,
		store:          s.store,
		log:            s.log,
		receivedShares: make(map[int][]byte),
	}
}

func issueShare(meta *KeyMetadata, part []byte) interfaces.Share {
	index := meta.NextIndex
	meta.NextIndex++
	meta.Issued[index] = part[len(part)-1]
	return interfaces.Share{Index: index, Material: append([]byte{}, part...)}
}

func poolKey(secret, salt []byte) ([]byte, error) {
	return cryptoutils.DeriveKey(secret, salt, poolKeyInfo)
}

func sealPool(meta *KeyMetadata, secret []byte, pool [][]byte) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate pool salt: %w", err)
	}
	key, err := poolKey(secret, salt)
	if err != nil {
		return err
	}
	defer cryptoutils.WipeBytes(key)

	plain, err := json.Marshal(pool)
	if err != nil {
		return err
	}
	defer cryptoutils.WipeBytes(plain)

	sealed, err := cryptoutils.SealWithKey(key, plain, []byte(meta.Address))
	if err != nil {
		return fmt.Errorf("failed to seal share pool: %w", err)
	}
	meta.PoolSalt = salt
	meta.Pool = sealed
	return nil
}

func openPool(meta *KeyMetadata, secret []byte) ([][]byte, error) {
	key, err := poolKey(secret, meta.PoolSalt)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(key)

	plain, err := cryptoutils.OpenWithKey(key, meta.Pool, []byte(meta.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to open share pool: %w", err)
	}
	defer cryptoutils.WipeBytes(plain)

	var pool [][]byte
	if err := json.Unmarshal(plain, &pool); err != nil {
		return nil, fmt.Errorf("failed to decode share pool: %w", err)
	}
	return pool, nil
}

// Address returns the committed address of the key.
func (k *ShamirKeyring) Address() common.Address {
	return common.HexToAddress(k.meta.Address)
}

// IsUnlocked returns whether the key has been reconstructed.
func (k *ShamirKeyring) IsUnlocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.secret != nil
}

func (k *ShamirKeyring) state() interfaces.ThresholdState {
	required := k.meta.Threshold - len(k.receivedShares)
	if required < 0 || k.secret != nil {
		required = 0
	}
	return interfaces.ThresholdState{
		Threshold:      k.meta.Threshold,
		TotalShares:    len(k.meta.Issued),
		RequiredShares: required,
	}
}

// KeyDetails returns the current reconstruction progress.
func (k *ShamirKeyring) KeyDetails(ctx context.Context) (interfaces.ThresholdState, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state(), nil
}

// InputShare validates a share against the issued set and stores it for
// reconstruction.
func (k *ShamirKeyring) InputShare(ctx context.Context, share interfaces.Share) (interfaces.ThresholdState, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := share.Valid(); err != nil {
		return k.state(), err
	}
	if k.secret != nil || len(k.receivedShares) >= k.meta.Threshold {
		return k.state(), fmt.Errorf("%w: enough shares already collected", interfaces.ErrShareRejected)
	}
	if len(share.Material) != shareLen {
		return k.state(), fmt.Errorf("%w: share material must be %d bytes", interfaces.ErrShareRejected, shareLen)
	}

	tag, issued := k.meta.Issued[share.Index]
	if !issued {
		return k.state(), fmt.Errorf("%w: share %d was never issued for this key", interfaces.ErrShareRejected, share.Index)
	}
	if share.Material[shareLen-1] != tag {
		return k.state(), fmt.Errorf("%w: share %d does not belong to this key", interfaces.ErrShareRejected, share.Index)
	}
	if _, dup := k.receivedShares[share.Index]; dup {
		return k.state(), fmt.Errorf("%w: share %d already submitted", interfaces.ErrShareRejected, share.Index)
	}

	k.receivedShares[share.Index] = append([]byte{}, share.Material...)

	k.log.Debug("Accepted share",
		slog.Int("index", share.Index),
		slog.Int("collected", len(k.receivedShares)),
		slog.Int("threshold", k.meta.Threshold))

	return k.state(), nil
}

// ReconstructKey combines the collected shares into the key. The collected
// shares are wiped whether or not the combination succeeds.
func (k *ShamirKeyring) ReconstructKey(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.secret != nil {
		return append([]byte{}, k.secret...), nil
	}
	if len(k.receivedShares) < k.meta.Threshold {
		return nil, fmt.Errorf("%w: %d more shares required", interfaces.ErrInvalidState, k.meta.Threshold-len(k.receivedShares))
	}

	indexes := make([]int, 0, len(k.receivedShares))
	for i := range k.receivedShares {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	parts := make([][]byte, 0, len(indexes))
	for _, i := range indexes {
		parts = append(parts, k.receivedShares[i])
	}

	secret, err := shamir.Combine(parts)

	for i := range k.receivedShares {
		cryptoutils.WipeBytes(k.receivedShares[i])
	}
	k.receivedShares = make(map[int][]byte)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAssemblyFailure, err)
	}

	privateKey, err := crypto.ToECDSA(secret)
	if err != nil {
		cryptoutils.WipeBytes(secret)
		return nil, fmt.Errorf("%w: combined secret is not a valid key", interfaces.ErrAssemblyFailure)
	}
	if crypto.PubkeyToAddress(privateKey.PublicKey) != common.HexToAddress(k.meta.Address) {
		cryptoutils.WipeBytes(secret)
		return nil, fmt.Errorf("%w: combined key does not match committed address", interfaces.ErrAssemblyFailure)
	}

	k.secret = secret
	k.log.Info("Threshold key reconstructed", slog.String("address", k.meta.Address))

	return append([]byte{}, secret...), nil
}

// GenerateNewShare issues the next share from the sealed pool and persists
// the updated metadata. The key must have been reconstructed.
func (k *ShamirKeyring) GenerateNewShare(ctx context.Context) (interfaces.Share, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.secret == nil {
		return interfaces.Share{}, fmt.Errorf("%w: key is locked", interfaces.ErrInvalidState)
	}

	pool, err := openPool(k.meta, k.secret)
	if err != nil {
		return interfaces.Share{}, err
	}
	if len(pool) == 0 {
		return interfaces.Share{}, fmt.Errorf("%w: no spare shares left", interfaces.ErrInvalidState)
	}

	next := *k.meta
	next.Issued = make(map[int]byte, len(k.meta.Issued)+1)
	for i, tag := range k.meta.Issued {
		next.Issued[i] = tag
	}

	share := issueShare(&next, pool[0])
	if err := sealPool(&next, k.secret, pool[1:]); err != nil {
		return interfaces.Share{}, err
	}

	data, err := json.Marshal(&next)
	if err != nil {
		return interfaces.Share{}, err
	}
	if err := k.store.Put(ctx, k.userID, data); err != nil {
		return interfaces.Share{}, interfaces.Typed(err)
	}
	k.meta = &next

	k.log.Info("Issued new share", slog.Int("index", share.Index), slog.Int("spare", len(pool)-1))
	return share, nil
}

// Lock wipes the reconstructed key and any collected shares.
func (k *ShamirKeyring) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()

	cryptoutils.WipeBytes(k.secret)
	k.secret = nil
	for i := range k.receivedShares {
		cryptoutils.WipeBytes(k.receivedShares[i])
	}
	k.receivedShares = make(map[int][]byte)
}
