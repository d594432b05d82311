package ledger

// Total sums the balances of accounts.
func Total(accounts []Account) int64 {
	var sum int64
	for _, a := range accounts {
		sum += a.Balance
	}
	return sum
}

// ExpectedTotal is the money in play for n accounts that each started with
// startBalance, given the transaction log: bank credits add, bank payments
// subtract, player transfers net to zero.
func ExpectedTotal(n int, startBalance int64, txs []Transaction) int64 {
	sum := int64(n) * startBalance
	for _, t := range txs {
		switch {
		case t.From().IsBank() && t.To().IsAccount():
			sum += t.Amount()
		case t.From().IsAccount() && t.To().IsBank():
			sum -= t.Amount()
		}
	}
	return sum
}

func Conserved(accounts []Account, startBalance int64, txs []Transaction) bool {
	return Total(accounts) == ExpectedTotal(len(accounts), startBalance, txs)
}
