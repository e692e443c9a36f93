package store

import (
	"time"

	"github.com/google/uuid"
)

type AccountKind string

const (
	AccountKindPool  AccountKind = "pool"
	AccountKindOwner AccountKind = "owner"
)

// Account is the advisory cached view of an on-ledger account. The ledger is
// the source of truth; SyncedAt records the last authoritative read.
type Account struct {
	Address  string
	Kind     AccountKind
	Balance  int64
	SyncedAt time.Time
}

type CycleStatus string

const (
	CycleStatusPending   CycleStatus = "pending"
	CycleStatusConfirmed CycleStatus = "confirmed"
	CycleStatusFailed    CycleStatus = "failed"
)

// MintCycle is one execution of the scheduled token-creation operation.
// Immutable once confirmed; a failed cycle is never retried automatically.
type MintCycle struct {
	CycleID     int64
	MintedAt    time.Time
	TotalMinted int64
	OwnerShare  int64
	PoolShare   int64
	Status      CycleStatus
	OwnerTxRef  *string
	PoolTxRef   *string
	FailReason  *string
}

type EarnReason string

const (
	EarnReasonParticleCollected EarnReason = "particle_collected"
	EarnReasonQuestReward       EarnReason = "quest_reward"
	EarnReasonSessionBonus      EarnReason = "session_bonus"
)

// KnownEarnReason reports whether the reason is one the engine accepts.
func KnownEarnReason(r EarnReason) bool {
	switch r {
	case EarnReasonParticleCollected, EarnReasonQuestReward, EarnReasonSessionBonus:
		return true
	}
	return false
}

// EarnEvent is an earned-but-unsettled balance delta recorded off-ledger.
// ClaimID is set while the event is covered by an open or confirmed claim.
type EarnEvent struct {
	EventID   uuid.UUID
	PlayerID  string
	Amount    int64
	Reason    EarnReason
	CreatedAt time.Time
	Settled   bool
	ClaimID   *uuid.UUID
}

type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusSubmitted ClaimStatus = "submitted"
	ClaimStatusConfirmed ClaimStatus = "confirmed"
	ClaimStatusFailed    ClaimStatus = "failed"
)

// Claim converts a set of unsettled earn events into one on-ledger transfer.
type Claim struct {
	ClaimID         uuid.UUID
	PlayerID        string
	RequestedAmount int64
	Status          ClaimStatus
	TxRef           *string
	FailReason      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type BridgeStatus string

const (
	BridgeStatusInitiated    BridgeStatus = "initiated"
	BridgeStatusLockedSource BridgeStatus = "locked_source"
	BridgeStatusMintedDest   BridgeStatus = "minted_dest"
	BridgeStatusFailed       BridgeStatus = "failed"
)

// BridgeTransfer tracks a lock-and-mint move of settled tokens to another
// network.
type BridgeTransfer struct {
	TransferID  uuid.UUID
	PlayerID    string
	SourceChain uint16
	DestChain   uint16
	Amount      int64
	Fee         int64
	Status      BridgeStatus
	LockTxRef   *string
	MintTxRef   *string
	RefundTxRef *string
	FailReason  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
