package domain

import "github.com/shopspring/decimal"

// ChannelStatementLine is one parsed row of a downloaded channel statement
type ChannelStatementLine struct {
	TxnNo     string
	Status    string
	Amount    decimal.Decimal
	TradeTime string
}

// PlatformTxn is the platform side of the statement comparison
type PlatformTxn struct {
	TxnNo  string
	Result string
}

// StatementComparison holds both comparison tables for one channel and date
type StatementComparison struct {
	ChannelCode string
	BillDate    string
	Channel     map[string]ChannelStatementLine
	Platform    map[string]string
}
