package coord

import (
	"encoding/binary"
)

var (
	// TaskKeyPrefix is the prefix for task storage
	TaskKeyPrefix = []byte{0x01}

	// NodeKeyPrefix is the prefix for reasoning node storage
	NodeKeyPrefix = []byte{0x02}

	// ChallengeKeyPrefix is the prefix for challenge storage
	ChallengeKeyPrefix = []byte{0x03}

	// AccountKeyPrefix is the prefix for stake ledger accounts
	AccountKeyPrefix = []byte{0x04}

	// OutputKeyPrefix is the prefix for per-node task outputs
	OutputKeyPrefix = []byte{0x05}

	// SlashRecordKeyPrefix is the prefix for slash record storage
	SlashRecordKeyPrefix = []byte{0x06}

	// SlashRecordsByOwnerPrefix is the prefix for indexing slash records by owner
	SlashRecordsByOwnerPrefix = []byte{0x07}

	// BatchKeyPrefix is the prefix for settlement batch storage
	BatchKeyPrefix = []byte{0x08}

	// AuditKeyPrefix is the prefix for audit trail entries
	AuditKeyPrefix = []byte{0x09}

	// DeadlineKeyPrefix is the prefix for the time-ordered deadline index
	DeadlineKeyPrefix = []byte{0x0A}

	// AppliedStagePrefix is the prefix for idempotency markers on
	// externally-delivered callbacks, keyed (task, stage)
	AppliedStagePrefix = []byte{0x0B}

	// TasksByStatusPrefix is the prefix for indexing tasks by status
	TasksByStatusPrefix = []byte{0x0C}

	// ChallengesByTaskPrefix is the prefix for indexing challenges by task
	ChallengesByTaskPrefix = []byte{0x0D}

	// UnsettledTaskPrefix is the prefix for the settlement queue of
	// finalized tasks awaiting an epoch pass
	UnsettledTaskPrefix = []byte{0x0E}

	// NextTaskIDKey is the key for the next task ID counter
	NextTaskIDKey = []byte{0x10}

	// NextChallengeIDKey is the key for the next challenge ID counter
	NextChallengeIDKey = []byte{0x11}

	// NextSlashIDKey is the key for the next slash record ID counter
	NextSlashIDKey = []byte{0x12}

	// NextBatchIDKey is the key for the next settlement batch ID counter
	NextBatchIDKey = []byte{0x13}

	// NextAuditSeqKey is the key for the global audit sequence counter
	NextAuditSeqKey = []byte{0x14}
)

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// TaskKey returns the store key for a task
func TaskKey(taskID uint64) []byte {
	return append(TaskKeyPrefix, uint64ToBytes(taskID)...)
}

// NodeKey returns the store key for a reasoning node
func NodeKey(owner string) []byte {
	return append(NodeKeyPrefix, []byte(owner)...)
}

// ChallengeKey returns the store key for a challenge
func ChallengeKey(challengeID uint64) []byte {
	return append(ChallengeKeyPrefix, uint64ToBytes(challengeID)...)
}

// AccountKey returns the store key for a stake ledger account
func AccountKey(owner string) []byte {
	return append(AccountKeyPrefix, []byte(owner)...)
}

// OutputKey returns the store key for one node's output on a task
func OutputKey(taskID uint64, node string) []byte {
	key := append(OutputKeyPrefix, uint64ToBytes(taskID)...)
	return append(key, []byte(node)...)
}

// OutputsByTaskPrefix returns the iteration prefix over all outputs of a task
func OutputsByTaskPrefix(taskID uint64) []byte {
	return append(OutputKeyPrefix, uint64ToBytes(taskID)...)
}

// SlashRecordKey returns the store key for a slash record
func SlashRecordKey(slashID uint64) []byte {
	return append(SlashRecordKeyPrefix, uint64ToBytes(slashID)...)
}

// SlashRecordByOwnerKey returns the index key for an owner's slash record
func SlashRecordByOwnerKey(owner string, slashID uint64) []byte {
	key := append(SlashRecordsByOwnerPrefix, []byte(owner)...)
	key = append(key, 0x00)
	return append(key, uint64ToBytes(slashID)...)
}

// BatchKey returns the store key for a settlement batch
func BatchKey(batchID uint64) []byte {
	return append(BatchKeyPrefix, uint64ToBytes(batchID)...)
}

// AuditKey returns the store key for one audit entry of a target. The global
// sequence keeps entries ordered within a target's prefix scan.
func AuditKey(target string, seq uint64) []byte {
	key := append(AuditKeyPrefix, []byte(target)...)
	key = append(key, 0x00)
	return append(key, uint64ToBytes(seq)...)
}

// AuditByTargetPrefix returns the iteration prefix over a target's audit trail
func AuditByTargetPrefix(target string) []byte {
	key := append(AuditKeyPrefix, []byte(target)...)
	return append(key, 0x00)
}

// DeadlineKey returns the index key for a scheduled deadline. Keys sort by
// expiry time so a Tick pass scans a single contiguous range.
func DeadlineKey(at int64, kind byte, id uint64) []byte {
	key := append(DeadlineKeyPrefix, uint64ToBytes(uint64(at))...)
	key = append(key, kind)
	return append(key, uint64ToBytes(id)...)
}

// AppliedStageKey returns the idempotency marker key for a callback stage
func AppliedStageKey(taskID uint64, stage string) []byte {
	key := append(AppliedStagePrefix, uint64ToBytes(taskID)...)
	return append(key, []byte(stage)...)
}

// TaskByStatusKey returns the index key for a task under its status
func TaskByStatusKey(status int32, taskID uint64) []byte {
	key := append(TasksByStatusPrefix, byte(status))
	return append(key, uint64ToBytes(taskID)...)
}

// TasksByStatusIterPrefix returns the iteration prefix for one status
func TasksByStatusIterPrefix(status int32) []byte {
	return append(TasksByStatusPrefix, byte(status))
}

// ChallengeByTaskKey returns the index key for a challenge under its task
func ChallengeByTaskKey(taskID, challengeID uint64) []byte {
	key := append(ChallengesByTaskPrefix, uint64ToBytes(taskID)...)
	return append(key, uint64ToBytes(challengeID)...)
}

// UnsettledTaskKey returns the settlement queue key for a finalized task
func UnsettledTaskKey(taskID uint64) []byte {
	return append(UnsettledTaskPrefix, uint64ToBytes(taskID)...)
}
