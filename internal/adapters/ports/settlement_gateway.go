package ports

import "context"

// SettlementGateway is the channel call surface the settlement core drives.
// Requests and responses are flat wire field maps; the gateway adds identity
// fields, a nonce and the signature.
type SettlementGateway interface {
	UnifiedOrder(ctx context.Context, req map[string]string) (map[string]string, error)

	// MicroPayWithPos submits a card-present payment and retries ambiguous
	// outcomes within a bounded wall-clock budget
	MicroPayWithPos(ctx context.Context, req map[string]string) (map[string]string, error)

	OrderQuery(ctx context.Context, req map[string]string) (map[string]string, error)
	Refund(ctx context.Context, req map[string]string) (map[string]string, error)
	Reverse(ctx context.Context, req map[string]string) (map[string]string, error)
	CloseOrder(ctx context.Context, req map[string]string) (map[string]string, error)

	// JSAPIPayParams builds the signed bundle an in-app payment page needs
	JSAPIPayParams(prepayID string) (map[string]string, error)
}

// StatementGateway downloads a channel settlement statement
type StatementGateway interface {
	DownloadBill(ctx context.Context, req map[string]string) (map[string]string, error)
}
