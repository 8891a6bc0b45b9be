package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"io"
	"sync"

	"github.com/go-errors/errors"
	"github.com/multiformats/go-multicodec"
	ssi "github.com/nuts-foundation/go-did"
	"github.com/nuts-foundation/go-did/did"
	"github.com/shengdoushi/base58"
)

// MethodKey is the name of the did:key method.
const MethodKey = "key"

var ErrDIDUnknown = errors.New("no such did in this store")

// DIDs mints and resolves holder DIDs. Created DIDs are remembered together
// with the key they were minted from, so the wallet can sign on their behalf.
type DIDs struct {
	keys *Keys

	mu     sync.RWMutex
	byDID  map[string]string // did -> key id
	sorted []string          // creation order, for List
}

func NewDIDs(keys *Keys) *DIDs {
	return &DIDs{keys: keys, byDID: map[string]string{}}
}

// Create mints a did:key DID from the given stored key. If keyID is empty a
// fresh Ed25519 key is generated first.
func (d *DIDs) Create(method, keyID string) (string, error) {
	if method != MethodKey {
		return "", errors.Errorf("unsupported DID method %q", method)
	}
	var key *Key
	var err error
	if keyID == "" {
		key, err = d.keys.Generate(AlgorithmEd25519)
	} else {
		key, err = d.keys.Load(keyID)
	}
	if err != nil {
		return "", err
	}

	id := encodeKeyDID(key.Public)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byDID[id]; !ok {
		d.byDID[id] = key.ID
		d.sorted = append(d.sorted, id)
	}
	return id, nil
}

// Load resolves a did:key DID into its DID document. Resolution is derived
// from the identifier itself; the DID does not need to be stored here.
func (d *DIDs) Load(didStr string) (*did.Document, error) {
	id, err := did.ParseDID(didStr)
	if err != nil {
		return nil, errors.WrapPrefix(err, "invalid DID", 0)
	}
	if id.Method != MethodKey {
		return nil, errors.Errorf("unsupported DID method: %s", id.Method)
	}
	key, err := PublicKeyOf(didStr)
	if err != nil {
		return nil, err
	}

	document := did.Document{
		Context: []interface{}{did.DIDContextV1URI()},
		ID:      *id,
	}
	keyID := did.DIDURL{DID: *id, Fragment: id.ID}
	vm, err := did.NewVerificationMethod(keyID, ssi.JsonWebKey2020, *id, key)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	document.AddAssertionMethod(vm)
	document.AddAuthenticationMethod(vm)
	return &document, nil
}

// List returns the DIDs created through this store, in creation order.
func (d *DIDs) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.sorted...)
}

// SigningKey returns the key a stored DID was minted from, for signing
// id_token/vp_token material on its behalf.
func (d *DIDs) SigningKey(didStr string) (*Key, error) {
	d.mu.RLock()
	keyID, ok := d.byDID[didStr]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrDIDUnknown
	}
	return d.keys.Load(keyID)
}

// encodeKeyDID encodes an Ed25519 public key as a did:key identifier:
// base58btc of the multicodec ed25519-pub prefix followed by the key bytes.
func encodeKeyDID(key ed25519.PublicKey) string {
	prefix := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(prefix, uint64(multicodec.Ed25519Pub))
	return "did:key:z" + base58.Encode(append(prefix[:n], key...), base58.BitcoinAlphabet)
}

// PublicKeyOf extracts the Ed25519 public key embedded in a did:key
// identifier. Any stateless caller may verify signatures of a did:key holder
// this way.
func PublicKeyOf(didStr string) (ed25519.PublicKey, error) {
	id, err := did.ParseDID(didStr)
	if err != nil {
		return nil, errors.WrapPrefix(err, "invalid DID", 0)
	}
	if id.Method != MethodKey {
		return nil, errors.Errorf("unsupported DID method: %s", id.Method)
	}
	encoded := id.ID
	if len(encoded) == 0 || encoded[0] != 'z' {
		return nil, errors.New("did:key does not start with 'z'")
	}
	mcBytes, err := base58.Decode(encoded[1:], base58.BitcoinAlphabet)
	if err != nil {
		return nil, errors.WrapPrefix(err, "did:key: invalid base58btc", 0)
	}
	reader := bytes.NewReader(mcBytes)
	keyType, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, errors.WrapPrefix(err, "did:key: invalid multicodec value", 0)
	}
	if multicodec.Code(keyType) != multicodec.Ed25519Pub {
		return nil, errors.Errorf("did:key: unsupported public key type: %d", keyType)
	}
	keyBytes, _ := io.ReadAll(reader)
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, errors.New("did:key: invalid public key length")
	}
	return ed25519.PublicKey(keyBytes), nil
}
