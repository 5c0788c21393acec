package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/logger"
)

// SequenceStatus represents the status of a tracked sequence number
type SequenceStatus int

const (
	// SeqReserved indicates the sequence was handed to an autofilled transaction
	SeqReserved SequenceStatus = iota
	// SeqSubmitted indicates a transaction using the sequence was accepted by the server
	SeqSubmitted
)

// SequenceRecord tracks details about a transaction holding a sequence number
type SequenceRecord struct {
	Hash      string
	Sequence  uint32
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    SequenceStatus
}

// SequenceSource fetches the next sequence number of an account from the network
type SequenceSource func(ctx context.Context, account string) (uint32, error)

// SequenceManager hands out account sequence numbers so that a lagging server
// cannot return a sequence that this process already used.
type SequenceManager struct {
	accounts map[string]*accountSequenceData
	mu       sync.RWMutex
	logger   logger.Logger
}

// accountSequenceData holds sequence data for a specific account
type accountSequenceData struct {
	pending map[uint32]*SequenceRecord
	mu      sync.Mutex
}

// NewSequenceManager creates a new sequence manager
func NewSequenceManager(log logger.Logger) *SequenceManager {
	return &SequenceManager{
		accounts: make(map[string]*accountSequenceData),
		logger:   log,
	}
}

func (sm *SequenceManager) account(account string) *accountSequenceData {
	sm.mu.RLock()
	data, exists := sm.accounts[account]
	sm.mu.RUnlock()
	if exists {
		return data
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if data, exists = sm.accounts[account]; !exists {
		data = &accountSequenceData{pending: make(map[uint32]*SequenceRecord)}
		sm.accounts[account] = data
	}
	return data
}

// Reserve fetches the network sequence and returns max(network, highest tracked + 1).
// Tracked sequences below the network value are pruned since the ledger has consumed them.
func (sm *SequenceManager) Reserve(ctx context.Context, account string, fetch SequenceSource) (uint32, error) {
	data := sm.account(account)

	data.mu.Lock()
	defer data.mu.Unlock()

	network, err := fetch(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get account sequence: %w", err)
	}

	next := network
	for seq := range data.pending {
		if seq < network {
			delete(data.pending, seq)
			continue
		}
		if seq+1 > next {
			next = seq + 1
		}
	}
	if next != network {
		sm.logger.Debug("Sequence for %s ahead of network: %d -> %d", account, network, next)
	}

	now := time.Now()
	data.pending[next] = &SequenceRecord{
		Sequence:  next,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    SeqReserved,
	}
	return next, nil
}

// MarkSubmitted records that a transaction holding the sequence was accepted by the server
func (sm *SequenceManager) MarkSubmitted(account string, seq uint32, hash string) {
	data := sm.account(account)

	data.mu.Lock()
	defer data.mu.Unlock()

	record, exists := data.pending[seq]
	if !exists {
		record = &SequenceRecord{Sequence: seq, CreatedAt: time.Now()}
		data.pending[seq] = record
	}
	record.Hash = hash
	record.Status = SeqSubmitted
	record.UpdatedAt = time.Now()
}

// Release returns a sequence for reuse. Used when the transaction was never submitted
// or the ledger rejected it without consuming the sequence.
func (sm *SequenceManager) Release(account string, seq uint32) {
	data := sm.account(account)

	data.mu.Lock()
	defer data.mu.Unlock()

	if _, exists := data.pending[seq]; !exists {
		return
	}
	delete(data.pending, seq)
	sm.logger.Debug("Sequence %d for %s released for reuse", seq, account)
}

// PendingCount returns the number of tracked sequences for an account
func (sm *SequenceManager) PendingCount(account string) int {
	data := sm.account(account)

	data.mu.Lock()
	defer data.mu.Unlock()

	return len(data.pending)
}
