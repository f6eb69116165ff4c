package ports

import (
	"context"

	"github.com/kevin07696/cashier-settlement/internal/domain"
)

// TicketRepository persists settlement tickets keyed by transaction number.
// Saves are idempotent on the business key.
type TicketRepository interface {
	// GetTicket returns domain.ErrTxnNotFound when no ticket carries txnNo
	GetTicket(ctx context.Context, txnNo string) (*domain.SettlementTicket, error)

	// SaveTicket inserts the ticket or overwrites the row with the same TxnNo
	SaveTicket(ctx context.Context, ticket *domain.SettlementTicket) error

	// ListTicketsByChannelDate feeds the platform side of statement comparison
	ListTicketsByChannelDate(ctx context.Context, channelCode, settleDate string) ([]*domain.SettlementTicket, error)
}

// DiscrepancyRepository persists discrepancy records keyed by error number
type DiscrepancyRepository interface {
	// GetDiscrepancy returns domain.ErrDiscrepancyNotFound when errNo is unknown
	GetDiscrepancy(ctx context.Context, errNo string) (*domain.DiscrepancyRecord, error)

	SaveDiscrepancy(ctx context.Context, record *domain.DiscrepancyRecord) error

	UpdateDiscrepancyStatus(ctx context.Context, errNo string, status domain.Disposition) error
}

// RemediationRepository keeps the append-only remediation trail
type RemediationRepository interface {
	AppendRemediation(ctx context.Context, entry *domain.RemediationEntry) error
	ListRemediations(ctx context.Context, errNo string) ([]*domain.RemediationEntry, error)
}

// Ledger is the full collaborator surface the settlement core needs
type Ledger interface {
	TicketRepository
	DiscrepancyRepository
	RemediationRepository
}
