package database

// ComputeBalances folds every transaction in every block into a map of
// address to net balance. Senders are debited amount plus fee, receivers
// are credited the amount, and coinbase transactions credit the miner.
func ComputeBalances(blocks []Block) map[string]float64 {
	balances := make(map[string]float64)
	for _, block := range blocks {
		ApplyBlockBalances(balances, block)
	}

	return balances
}

// ApplyBlockBalances folds one block's transactions into the balances map.
func ApplyBlockBalances(balances map[string]float64, block Block) {
	for _, tx := range block.Transactions {
		ApplyTxBalances(balances, tx)
	}
}

// ApplyTxBalances folds one transaction into the balances map.
func ApplyTxBalances(balances map[string]float64, tx Tx) {
	if !tx.IsCoinbase() {
		balances[tx.Sender] -= tx.Amount + tx.Fee
	}
	balances[tx.Receiver] += tx.Amount
}
