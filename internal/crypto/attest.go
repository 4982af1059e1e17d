package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	settlementTypeHash = ethcrypto.Keccak256(
		[]byte("Settlement(string marketId,uint256 seq,bytes32 payloadHash)"),
	)
)

// Attestation is a signature over a settlement payload.
type Attestation struct {
	MarketID    string `json:"market_id"`
	Seq         int64  `json:"seq"`
	PayloadHash string `json:"payload_hash"`
	Signer      string `json:"signer"`
	Signature   string `json:"signature"`
}

// Attestor signs settlement payloads with a secp256k1 key so archived
// settlements can be checked against the operator's address.
type Attestor struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	domainSep []byte
}

// NewAttestor builds an Attestor from a hex-encoded private key.
func NewAttestor(privateKeyHex string, chainID int64) (*Attestor, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/attest: invalid private key: %w", err)
	}
	return &Attestor{
		key:       pk,
		address:   ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep: domainSeparator(chainID),
	}, nil
}

// Address is the signer address.
func (a *Attestor) Address() common.Address {
	return a.address
}

// Attest signs payload as the settlement of marketID at seq.
func (a *Attestor) Attest(marketID string, seq int64, payload []byte) (Attestation, error) {
	payloadHash := ethcrypto.Keccak256(payload)
	digest := typedDigest(a.domainSep, marketID, seq, payloadHash)
	sig, err := ethcrypto.Sign(digest, a.key)
	if err != nil {
		return Attestation{}, fmt.Errorf("crypto/attest: signing: %w", err)
	}
	return Attestation{
		MarketID:    marketID,
		Seq:         seq,
		PayloadHash: "0x" + hex.EncodeToString(payloadHash),
		Signer:      a.address.Hex(),
		Signature:   "0x" + hex.EncodeToString(sig),
	}, nil
}

// VerifyAttestation checks that att was produced over payload by att.Signer.
func VerifyAttestation(att Attestation, payload []byte, chainID int64) error {
	payloadHash := ethcrypto.Keccak256(payload)
	if "0x"+hex.EncodeToString(payloadHash) != att.PayloadHash {
		return fmt.Errorf("crypto/attest: payload hash mismatch: %w", ErrBadSignature)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(att.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("crypto/attest: malformed signature: %w", ErrBadSignature)
	}
	digest := typedDigest(domainSeparator(chainID), att.MarketID, att.Seq, payloadHash)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("crypto/attest: recover: %w", ErrBadSignature)
	}
	if ethcrypto.PubkeyToAddress(*pub) != common.HexToAddress(att.Signer) {
		return fmt.Errorf("crypto/attest: signer mismatch: %w", ErrBadSignature)
	}
	return nil
}

func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte("NarrativeBet")),
			ethcrypto.Keccak256([]byte("1")),
			common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		),
	)
}

// typedDigest is keccak256("\x19\x01" || domainSeparator || structHash).
func typedDigest(domainSep []byte, marketID string, seq int64, payloadHash []byte) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			settlementTypeHash,
			ethcrypto.Keccak256([]byte(marketID)),
			common.LeftPadBytes(big.NewInt(seq).Bytes(), 32),
			payloadHash,
		),
	)
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
