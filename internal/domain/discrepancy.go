package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction states which side recorded a transaction and which side did not
type Direction string

const (
	PlatformHasChannelMissing Direction = "plat_have_pmc_not"
	ChannelHasPlatformMissing Direction = "plat_not_pmc_have"
)

// Disposition is the resolution state of a discrepancy
type Disposition string

const (
	DispositionOpen       Disposition = "open"
	DispositionDealt      Disposition = "dealt"
	DispositionDealFailed Disposition = "deal_failed"
)

// HostStatusAccountSuccess is the fixed external status applied by an offline resolution
const HostStatusAccountSuccess = "ACCOUNT_SUCCESS"

// DiscrepancyRecord is a detected mismatch between channel and platform records
type DiscrepancyRecord struct {
	ErrNo       string
	PlatTxnNo   string
	ChannelCode string
	ErrType     Direction
	ErrAmount   decimal.Decimal
	Status      Disposition
}

// Remedy is a remediation an operator can request for a discrepancy
type Remedy int

const (
	RemedyFill Remedy = iota + 1
	RemedyRefund
	RemedyRequest
	RemedyLose
	RemedyCapture
	RemedyOffline
)

var remedyNames = map[Remedy]string{
	RemedyFill:    "FILL",
	RemedyRefund:  "REFUND",
	RemedyRequest: "REQUEST",
	RemedyLose:    "LOSE",
	RemedyCapture: "CATCH",
	RemedyOffline: "OFFLINE",
}

// String returns the wire selector for the remedy
func (r Remedy) String() string {
	if name, ok := remedyNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Remedy(%d)", int(r))
}

// ParseRemedy maps a deal_type selector onto a Remedy
func ParseRemedy(s string) (Remedy, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for r, name := range remedyNames {
		if name == want {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown remedy %q", s)
}

// RemediationEntry is the ledger trail left by every remediation attempt
type RemediationEntry struct {
	ID            string
	ErrNo         string
	Remedy        Remedy
	TxnNo         string
	Amount        decimal.Decimal
	HostFirstTime bool
	Outcome       string
	CreatedAt     time.Time
}
