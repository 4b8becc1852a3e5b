package database

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
)

// CoinbaseSender is the sentinel sender address used by reward paying
// transactions. These carry no signature and are created only during
// block assembly.
const CoinbaseSender = "0000000000000000000000000000000000"

// =============================================================================

// Tx represents a transfer of value between two addresses.
type Tx struct {
	TxID      string  `json:"txid"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Fee       float64 `json:"fee"`
	Timestamp int64   `json:"timestamp"`
	Signature string  `json:"signature"`
	PublicKey string  `json:"public_key"`
}

// NewTx constructs a signed transaction paying the receiver from the
// account owning the private key.
func NewTx(privateKey *ecdsa.PrivateKey, receiver string, amount float64, fee float64) (Tx, error) {
	if err := signature.ValidateAddress(receiver); err != nil {
		return Tx{}, fmt.Errorf("%w: receiver address: %v", ErrInvalidFormat, err)
	}

	publicKey := signature.PublicKeyString(&privateKey.PublicKey)
	sender, err := signature.DeriveAddress(publicKey)
	if err != nil {
		return Tx{}, err
	}

	tx := Tx{
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Fee:       fee,
		Timestamp: time.Now().UTC().Unix(),
		PublicKey: publicKey,
	}

	sig, err := signature.Sign(tx.signable(), privateKey)
	if err != nil {
		return Tx{}, err
	}
	tx.Signature = sig
	tx.TxID = tx.HashID()

	return tx, nil
}

// NewCoinbaseTx constructs the reward transaction a miner includes when
// assembling a block.
func NewCoinbaseTx(receiver string, amount float64, timestamp int64) Tx {
	tx := Tx{
		Sender:    CoinbaseSender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: timestamp,
	}
	tx.TxID = tx.HashID()

	return tx
}

// IsCoinbase reports whether this is a reward paying transaction.
func (tx Tx) IsCoinbase() bool {
	return tx.Sender == CoinbaseSender
}

// HashID recomputes the transaction id from the signable fields. The id
// stored on a transaction received from the wire is never trusted.
func (tx Tx) HashID() string {
	return signature.Hash(tx.signable())
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	id := tx.TxID
	if len(id) > 16 {
		id = id[:16]
	}
	return fmt.Sprintf("%s:%s->%s", id, tx.Sender, tx.Receiver)
}

// signable returns the canonical document covered by the id and the
// signature. Maps marshal with sorted keys, which keeps the encoding
// deterministic across nodes.
func (tx Tx) signable() map[string]any {
	return map[string]any{
		"sender":     tx.Sender,
		"receiver":   tx.Receiver,
		"amount":     tx.Amount,
		"fee":        tx.Fee,
		"timestamp":  tx.Timestamp,
		"public_key": tx.PublicKey,
	}
}

// =============================================================================

// VerifyIntegrity applies the self-contained validation rules: field
// format, id recomputation, sender/public key ownership and the signature.
// Balance checks are applied separately since they need chain state.
func (tx Tx) VerifyIntegrity() error {
	if tx.IsCoinbase() {
		if tx.Amount < 0 || tx.Fee != 0 {
			return fmt.Errorf("%w: coinbase amount or fee out of range", ErrInvalidFormat)
		}
		if tx.TxID != tx.HashID() {
			return fmt.Errorf("%w: coinbase txid does not match recomputation", ErrInvalidFormat)
		}
		return nil
	}

	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidFormat)
	}
	if tx.Fee < 0 {
		return fmt.Errorf("%w: fee must not be negative", ErrInvalidFormat)
	}

	if tx.TxID != tx.HashID() {
		return fmt.Errorf("%w: txid does not match recomputation", ErrInvalidFormat)
	}

	if err := signature.ValidateAddress(tx.Sender); err != nil {
		return fmt.Errorf("%w: sender address: %v", ErrInvalidFormat, err)
	}
	if err := signature.ValidateAddress(tx.Receiver); err != nil {
		return fmt.Errorf("%w: receiver address: %v", ErrInvalidFormat, err)
	}

	derived, err := signature.DeriveAddress(tx.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrInvalidFormat, err)
	}
	if derived != tx.Sender {
		return fmt.Errorf("%w: public key does not belong to sender", ErrInvalidSignature)
	}

	if err := signature.Verify(tx.signable(), tx.Signature, tx.PublicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return nil
}

// ValidateTx applies the full validation rules for admitting a transaction
// into the mempool. The balance is the sender's chain-confirmed balance and
// reserved is the amount already spoken for by that sender's pending
// transactions.
func ValidateTx(tx Tx, balance float64, reserved float64) error {
	if tx.IsCoinbase() {
		return fmt.Errorf("%w: coinbase transactions cannot be submitted", ErrInvalidFormat)
	}

	if err := tx.VerifyIntegrity(); err != nil {
		return err
	}

	needed := tx.Amount + tx.Fee
	if balance < needed {
		return fmt.Errorf("%w: balance %v, needed %v", ErrInsufficientFunds, balance, needed)
	}
	if balance-reserved < needed {
		return fmt.Errorf("%w: balance %v, reserved %v, needed %v", ErrDoubleSpend, balance, reserved, needed)
	}

	return nil
}
