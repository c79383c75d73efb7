package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits kept when an amount is
// encoded as an integer of base units.
const AmountDecimals = 6

var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	transferTypeHash = ethcrypto.Keccak256(
		[]byte("Transfer(string from,string to,uint256 amount,string memo,string idempotencyKey)"),
	)
)

// TransferPayload is the signed form of a settlement transfer.
type TransferPayload struct {
	From           string
	To             string
	Amount         decimal.Decimal
	Memo           string
	IdempotencyKey string
}

// Signer signs transfers with a secp256k1 key using EIP-712 typed hashing
// under the "Klio Settlement" domain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex key for the given chain id.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep: ethcrypto.Keccak256(
			domainTypeHash,
			ethcrypto.Keccak256([]byte("Klio Settlement")),
			ethcrypto.Keccak256([]byte("1")),
			word(big.NewInt(chainID)),
		),
	}, nil
}

// Address is the account derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Digest returns the 32-byte EIP-712 digest of p.
func (s *Signer) Digest(p TransferPayload) ([]byte, error) {
	if p.Amount.IsNegative() {
		return nil, fmt.Errorf("crypto: negative amount %s", p.Amount)
	}
	units := p.Amount.Shift(AmountDecimals).Truncate(0).BigInt()
	structHash := ethcrypto.Keccak256(
		transferTypeHash,
		ethcrypto.Keccak256([]byte(p.From)),
		ethcrypto.Keccak256([]byte(p.To)),
		word(units),
		ethcrypto.Keccak256([]byte(p.Memo)),
		ethcrypto.Keccak256([]byte(p.IdempotencyKey)),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domainSep, structHash), nil
}

// SignTransfer returns the 0x-prefixed 65-byte signature (r||s||v, v in
// {27,28}) over Digest(p).
func (s *Signer) SignTransfer(p TransferPayload) (string, error) {
	digest, err := s.Digest(p)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign transfer: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced signature over digest.
func RecoverSigner(digest []byte, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// word left-pads n to a 32-byte big-endian word.
func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
