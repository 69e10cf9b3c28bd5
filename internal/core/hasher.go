package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"
)

const genesisSeed = "PoolLedger:genesis:v1"

// StateHasher chains one hash per sequenced command:
//
//	hash[N] = sha256(hash[N-1] || le64(N) || digest[N])
//
// A replay that produces the same digests reproduces the same tip.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(genesisSeed))}
}

// Advance folds the command digest for sequence into the chain and returns
// the new tip.
func (h *StateHasher) Advance(sequence int64, digest []byte) [32]byte {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(sequence))

	sum := sha256.New()
	sum.Write(h.tip[:])
	sum.Write(seq[:])
	sum.Write(digest)
	copy(h.tip[:], sum.Sum(nil))
	return h.tip
}

func (h *StateHasher) Tip() [32]byte { return h.tip }

// Reset moves the tip, used when restoring from a snapshot.
func (h *StateHasher) Reset(tip [32]byte) { h.tip = tip }

// commandDigest is the canonical encoding of one command's effect: its
// outcome, then the committed balance of every (account, token) the batch
// touched, sorted by account path and token.
func commandDigest(env *event.EventEnvelope, batch *ledger.Batch, balance func(ledger.AccountKey, string) string) []byte {
	type slot struct {
		account ledger.AccountKey
		path    string
		token   string
	}
	seen := make(map[string]slot)
	touch := func(acct ledger.AccountKey, token string) {
		path := acct.AccountPath()
		seen[path+"\x00"+token] = slot{acct, path, token}
	}
	for _, j := range batch.Journals {
		touch(j.DebitAccount, j.Token)
		touch(j.CreditAccount, j.Token)
	}

	slots := make([]slot, 0, len(seen))
	for _, s := range seen {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].path != slots[j].path {
			return slots[i].path < slots[j].path
		}
		return slots[i].token < slots[j].token
	})

	digest := make([]byte, 0, 64+len(env.Result)+len(slots)*64)
	digest = appendField(digest, env.IdempotencyKey)
	digest = append(digest, byte(env.Status))
	digest = appendField(digest, env.Error)
	digest = append(digest, env.Result...)
	for _, s := range slots {
		digest = appendField(digest, s.path)
		digest = appendField(digest, s.token)
		digest = appendField(digest, balance(s.account, s.token))
	}
	return digest
}

// appendField writes a big-endian length prefix so adjacent fields cannot
// run together.
func appendField(buf []byte, s string) []byte {
	n := len(s)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, s...)
}
