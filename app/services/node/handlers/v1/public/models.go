package public

import "github.com/CalfCrusher/Annalink/foundation/blockchain/database"

// submitTx is what a wallet submits. The document carries everything the
// node needs to verify it without trusting the submitter.
type submitTx struct {
	TxID      string  `json:"txid" validate:"required"`
	Sender    string  `json:"sender" validate:"required"`
	Receiver  string  `json:"receiver" validate:"required"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Fee       float64 `json:"fee" validate:"gte=0"`
	Timestamp int64   `json:"timestamp" validate:"required"`
	Signature string  `json:"signature" validate:"required"`
	PublicKey string  `json:"public_key" validate:"required"`
}

func (st submitTx) toDatabaseTx() database.Tx {
	return database.Tx{
		TxID:      st.TxID,
		Sender:    st.Sender,
		Receiver:  st.Receiver,
		Amount:    st.Amount,
		Fee:       st.Fee,
		Timestamp: st.Timestamp,
		Signature: st.Signature,
		PublicKey: st.PublicKey,
	}
}

// balance is the response document for the balance endpoint.
type balance struct {
	Address   string  `json:"address"`
	Confirmed float64 `json:"confirmed"`
}
