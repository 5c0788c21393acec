package models

import (
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
)

// ItemStatus is the status of a work item
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemSent     ItemStatus = "sent"
	ItemVerified ItemStatus = "verified"
	ItemFailed   ItemStatus = "failed"
)

// RunStatus is the status of a batch run
type RunStatus string

const (
	RunCreated             RunStatus = "created"
	RunActive              RunStatus = "active"
	RunPendingVerification RunStatus = "pendingVerification"
	RunCompleted           RunStatus = "completed"
	RunFailed              RunStatus = "failed"
)

// BatchKind selects how work items become transactions
type BatchKind string

const (
	KindPayment  BatchKind = "payment"
	KindNFTMint  BatchKind = "nftMint"
	KindNFTOffer BatchKind = "nftOffer"
)

// Payload holds the per item values. Which fields apply depends on the batch kind.
type Payload struct {
	Destination    string         `json:"destination,omitempty"`
	DestinationTag *uint32        `json:"destinationTag,omitempty"`
	Amount         *ledger.Amount `json:"amount,omitempty"`
	URI            string         `json:"uri,omitempty"`
	Taxon          *uint32        `json:"taxon,omitempty"`
	TransferFee    uint16         `json:"transferFee,omitempty"`
	Flags          []string       `json:"flags,omitempty"`
	NFTokenID      string         `json:"nftokenId,omitempty"`
	Memo           string         `json:"memo,omitempty"`
}

// WorkItem is one recipient or asset of a batch run
type WorkItem struct {
	ID                     string     `json:"id"`
	Payload                Payload    `json:"payload"`
	Status                 ItemStatus `json:"status"`
	TxHash                 string     `json:"txHash,omitempty"`
	PreliminaryResult      string     `json:"preliminaryResult,omitempty"`
	FinalResult            string     `json:"finalResult,omitempty"`
	LedgerIndexOfInclusion uint32     `json:"ledgerIndexOfInclusion,omitempty"`

	// SignedHash and SignedLastLedger are written before submission so a crash between
	// submit and the status write can be resolved by lookup instead of a blind resubmit.
	SignedHash       string `json:"signedHash,omitempty"`
	SignedLastLedger uint32 `json:"signedLastLedger,omitempty"`

	// MintedNFTokenID is filled by reconciliation for mint items
	MintedNFTokenID string    `json:"mintedNftokenId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Counters of terminal items
type Counters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BatchRun is the persisted state of one distribution or mint configuration
type BatchRun struct {
	ID                     string      `json:"id"`
	Name                   string      `json:"name"`
	Kind                   BatchKind   `json:"kind"`
	Network                string      `json:"network"`
	Account                string      `json:"account"`
	Status                 RunStatus   `json:"status"`
	LedgerIndexStart       uint32      `json:"ledgerIndexStart,omitempty"`
	LedgerIndexEnd         uint32      `json:"ledgerIndexEnd,omitempty"`
	LastHandledLedgerIndex uint32      `json:"lastHandledLedgerIndex,omitempty"`
	Items                  []*WorkItem `json:"items"`
	Counters               Counters    `json:"counters"`
	CreatedAt              time.Time   `json:"createdAt"`
	UpdatedAt              time.Time   `json:"updatedAt"`
}

// Item returns the work item with the given ID
func (r *BatchRun) Item(id string) *WorkItem {
	for _, item := range r.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// CountByStatus returns the number of items per status
func (r *BatchRun) CountByStatus() map[ItemStatus]int {
	counts := map[ItemStatus]int{
		ItemPending:  0,
		ItemSent:     0,
		ItemVerified: 0,
		ItemFailed:   0,
	}
	for _, item := range r.Items {
		counts[item.Status]++
	}
	return counts
}

// PendingCount returns the number of items still pending
func (r *BatchRun) PendingCount() int {
	return r.CountByStatus()[ItemPending]
}

// RecomputeCounters derives the succeeded and failed counters from item statuses
func (r *BatchRun) RecomputeCounters() {
	counts := r.CountByStatus()
	r.Counters = Counters{Succeeded: counts[ItemVerified], Failed: counts[ItemFailed]}
}

// AllTerminal reports whether every item is verified or failed
func (r *BatchRun) AllTerminal() bool {
	for _, item := range r.Items {
		if item.Status != ItemVerified && item.Status != ItemFailed {
			return false
		}
	}
	return true
}

// Namespace returns the store namespace of a run
func Namespace(runID string) string {
	return "run/" + runID
}
