package consensus

import (
	"crypto/ed25519"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/pkg/errors"
)

// InvalidConfidantIndex marks a confidant excluded from the real trusted
// set in a stage-3 mask. Any other value is the confidant's writer-choice
// position.
const InvalidConfidantIndex = uint8(255)

// FirstWriterIndex is the position value of the preferred writer.
const FirstWriterIndex = uint8(0)

// ErrBadStage reports a stage message that failed structural decoding or
// signature verification.
var ErrBadStage = errors.New("bad stage message")

// StageOne is the commit stage: a confidant commits to its candidate
// transaction-packet hashes and trusted-candidate list. The commit hash
// covers the whole payload; the signature covers the message hash so peers
// can verify without re-serializing.
type StageOne struct {
	Sender            uint8
	Hash              pool.Hash
	RoundTimeStamp    string
	TrustedCandidates []pool.PublicKey
	HashesCandidates  []pool.Hash
	MessageHash       pool.Hash
	Signature         pool.Signature
}

func (s *StageOne) payload() []byte {
	e := pool.NewEncoder()
	e.PutUint8(s.Sender)
	e.PutString(s.RoundTimeStamp)
	e.PutSize(len(s.TrustedCandidates))
	for _, c := range s.TrustedCandidates {
		e.PutFixed(c[:])
	}
	e.PutSize(len(s.HashesCandidates))
	for _, h := range s.HashesCandidates {
		e.PutFixed(h[:])
	}
	return e.Bytes()
}

// Seal computes the commit hash and signs the message.
func (s *StageOne) Seal(priv ed25519.PrivateKey) {
	body := s.payload()
	s.Hash = pool.HashOf(body)
	s.MessageHash = pool.HashOf(append(body, s.Hash[:]...))
	s.Signature = pool.Sign(priv, s.MessageHash[:])
}

// Verify checks the commit hash and the signature under the sender's key.
func (s *StageOne) Verify(sender pool.PublicKey) error {
	body := s.payload()
	if pool.HashOf(body) != s.Hash {
		return errors.Wrap(ErrBadStage, "stage1 commit hash")
	}
	if pool.HashOf(append(body, s.Hash[:]...)) != s.MessageHash {
		return errors.Wrap(ErrBadStage, "stage1 message hash")
	}
	if !sender.Verify(s.MessageHash[:], s.Signature) {
		return errors.Wrap(ErrBadStage, "stage1 signature")
	}
	return nil
}

// Bytes serializes the stage for transport.
func (s *StageOne) Bytes() []byte {
	e := pool.NewEncoder()
	e.PutFixed(s.payload())
	e.PutFixed(s.Hash[:])
	e.PutFixed(s.MessageHash[:])
	e.PutFixed(s.Signature[:])
	return e.Bytes()
}

// StageOneFromBytes decodes a transported stage-1 message.
func StageOneFromBytes(data []byte) (*StageOne, error) {
	d := pool.NewDecoder(data)

	var s StageOne
	s.Sender = d.GetUint8()
	s.RoundTimeStamp = d.GetString()

	cnt := d.GetSize()
	if d.Err() != nil {
		return nil, errors.Wrap(ErrBadStage, "stage1 trusted count")
	}
	s.TrustedCandidates = make([]pool.PublicKey, cnt)
	for i := range s.TrustedCandidates {
		copy(s.TrustedCandidates[i][:], d.GetFixed(pool.PublicKeySize))
	}

	cnt = d.GetSize()
	if d.Err() != nil {
		return nil, errors.Wrap(ErrBadStage, "stage1 hashes count")
	}
	s.HashesCandidates = make([]pool.Hash, cnt)
	for i := range s.HashesCandidates {
		copy(s.HashesCandidates[i][:], d.GetFixed(pool.HashSize))
	}

	copy(s.Hash[:], d.GetFixed(pool.HashSize))
	copy(s.MessageHash[:], d.GetFixed(pool.HashSize))
	copy(s.Signature[:], d.GetFixed(pool.SignatureSize))

	if d.Err() != nil {
		return nil, errors.Wrap(ErrBadStage, "stage1 decode")
	}
	return &s, nil
}

// =============================================================================

// StageTwo is the reveal stage: the stage-1 hashes a confidant saw, with a
// signature validating each, cross-signed as a whole.
type StageTwo struct {
	Sender     uint8
	Hashes     []pool.Hash
	Signatures []pool.Signature
	Signature  pool.Signature
}

func (s *StageTwo) payload() []byte {
	e := pool.NewEncoder()
	e.PutUint8(s.Sender)
	e.PutSize(len(s.Hashes))
	for _, h := range s.Hashes {
		e.PutFixed(h[:])
	}
	e.PutSize(len(s.Signatures))
	for _, sig := range s.Signatures {
		e.PutFixed(sig[:])
	}
	return e.Bytes()
}

// Seal signs the payload.
func (s *StageTwo) Seal(priv ed25519.PrivateKey) {
	s.Signature = pool.Sign(priv, s.payload())
}

// Verify checks the signature under the sender's key.
func (s *StageTwo) Verify(sender pool.PublicKey) error {
	if !sender.Verify(s.payload(), s.Signature) {
		return errors.Wrap(ErrBadStage, "stage2 signature")
	}
	return nil
}

// Bytes serializes the stage for transport.
func (s *StageTwo) Bytes() []byte {
	e := pool.NewEncoder()
	e.PutFixed(s.payload())
	e.PutFixed(s.Signature[:])
	return e.Bytes()
}

// StageTwoFromBytes decodes a transported stage-2 message.
func StageTwoFromBytes(data []byte) (*StageTwo, error) {
	d := pool.NewDecoder(data)

	var s StageTwo
	s.Sender = d.GetUint8()

	cnt := d.GetSize()
	if d.Err() != nil {
		return nil, errors.Wrap(ErrBadStage, "stage2 hashes count")
	}
	s.Hashes = make([]pool.Hash, cnt)
	for i := range s.Hashes {
		copy(s.Hashes[i][:], d.GetFixed(pool.HashSize))
	}

	cnt = d.GetSize()
	if d.Err() != nil {
		return nil, errors.Wrap(ErrBadStage, "stage2 signatures count")
	}
	s.Signatures = make([]pool.Signature, cnt)
	for i := range s.Signatures {
		copy(s.Signatures[i][:], d.GetFixed(pool.SignatureSize))
	}

	copy(s.Signature[:], d.GetFixed(pool.SignatureSize))

	if d.Err() != nil {
		return nil, errors.Wrap(ErrBadStage, "stage2 decode")
	}
	return &s, nil
}

// =============================================================================

// StageThree is the aggregate stage: the locally derived writer choice, real
// trusted mask and the three hashes, each hash carrying its own signature so
// peers can verify them independently.
type StageThree struct {
	Sender    uint8
	Writer    uint8
	Iteration uint8

	RealTrustedMask []uint8

	BlockHash        pool.Hash
	BlockSignature   pool.Signature
	RoundHash        pool.Hash
	RoundSignature   pool.Signature
	TrustedHash      pool.Hash
	TrustedSignature pool.Signature

	Signature pool.Signature
}

func (s *StageThree) payload() []byte {
	e := pool.NewEncoder()
	e.PutUint8(s.Sender)
	e.PutUint8(s.Writer)
	e.PutUint8(s.Iteration)
	e.PutBytes(s.RealTrustedMask)
	e.PutFixed(s.BlockHash[:])
	e.PutFixed(s.BlockSignature[:])
	e.PutFixed(s.RoundHash[:])
	e.PutFixed(s.RoundSignature[:])
	e.PutFixed(s.TrustedHash[:])
	e.PutFixed(s.TrustedSignature[:])
	return e.Bytes()
}

// Seal signs the three hashes and the whole message.
func (s *StageThree) Seal(priv ed25519.PrivateKey) {
	s.BlockSignature = pool.Sign(priv, s.BlockHash[:])
	s.RoundSignature = pool.Sign(priv, s.RoundHash[:])
	s.TrustedSignature = pool.Sign(priv, s.TrustedHash[:])
	s.Signature = pool.Sign(priv, s.payload())
}

// Verify checks all four signatures under the sender's key. Any mismatch
// clears the sender's trusted bit at the caller.
func (s *StageThree) Verify(sender pool.PublicKey) error {
	if !sender.Verify(s.BlockHash[:], s.BlockSignature) {
		return errors.Wrap(ErrBadStage, "stage3 block signature")
	}
	if !sender.Verify(s.RoundHash[:], s.RoundSignature) {
		return errors.Wrap(ErrBadStage, "stage3 round signature")
	}
	if !sender.Verify(s.TrustedHash[:], s.TrustedSignature) {
		return errors.Wrap(ErrBadStage, "stage3 trusted signature")
	}
	if !sender.Verify(s.payload(), s.Signature) {
		return errors.Wrap(ErrBadStage, "stage3 message signature")
	}
	return nil
}

// Agrees reports whether two stage-3 messages settled on the same outcome.
func (s *StageThree) Agrees(other *StageThree) bool {
	if s.Writer != other.Writer || s.Iteration != other.Iteration {
		return false
	}
	if len(s.RealTrustedMask) != len(other.RealTrustedMask) {
		return false
	}
	for i := range s.RealTrustedMask {
		if s.RealTrustedMask[i] != other.RealTrustedMask[i] {
			return false
		}
	}
	return s.BlockHash == other.BlockHash &&
		s.RoundHash == other.RoundHash &&
		s.TrustedHash == other.TrustedHash
}

// Bytes serializes the stage for transport.
func (s *StageThree) Bytes() []byte {
	e := pool.NewEncoder()
	e.PutFixed(s.payload())
	e.PutFixed(s.Signature[:])
	return e.Bytes()
}

// StageThreeFromBytes decodes a transported stage-3 message.
func StageThreeFromBytes(data []byte) (*StageThree, error) {
	d := pool.NewDecoder(data)

	var s StageThree
	s.Sender = d.GetUint8()
	s.Writer = d.GetUint8()
	s.Iteration = d.GetUint8()
	s.RealTrustedMask = d.GetBytes()
	copy(s.BlockHash[:], d.GetFixed(pool.HashSize))
	copy(s.BlockSignature[:], d.GetFixed(pool.SignatureSize))
	copy(s.RoundHash[:], d.GetFixed(pool.HashSize))
	copy(s.RoundSignature[:], d.GetFixed(pool.SignatureSize))
	copy(s.TrustedHash[:], d.GetFixed(pool.HashSize))
	copy(s.TrustedSignature[:], d.GetFixed(pool.SignatureSize))
	copy(s.Signature[:], d.GetFixed(pool.SignatureSize))

	if d.Err() != nil {
		return nil, errors.Wrap(ErrBadStage, "stage3 decode")
	}
	return &s, nil
}

// MaskBits converts a byte-vector mask to the pool bitmask: bit i set when
// confidant i is not excluded.
func MaskBits(mask []uint8) uint64 {
	var bits uint64
	for i, v := range mask {
		if v != InvalidConfidantIndex {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

// MaskPopulation counts the non-excluded entries.
func MaskPopulation(mask []uint8) int {
	n := 0
	for _, v := range mask {
		if v != InvalidConfidantIndex {
			n++
		}
	}
	return n
}
