// Copyright 2025 Certen Protocol
//
// Block validation: the full rule set run for canon extension and for
// side-chain activation during reorganization.

package consensus

import (
	"github.com/certen/zkpow-node/pkg/types"
)

// chainView is the slice of record-ledger state validation reads. The live
// record ledger satisfies it; reorganizations validate against a staged clone.
type chainView interface {
	ContainsSerialNumber(sn types.Hash) bool
	ContainsCommitment(cm types.Hash) bool
	ContainsMemo(m types.Memo) bool
	ContainsDigest(d types.Hash) bool
}

// validateBlock runs the complete rule set for a non-genesis block at the
// given height. view reflects the chain state the block would extend.
func (e *Engine) validateBlock(block *types.Block, height uint32, parent *types.BlockHeader, view chainView, now int64) error {
	header := &block.Header

	if size := block.Size(); size > e.params.MaxBlockSize {
		return invalidf("block of %d bytes exceeds maximum %d", size, e.params.MaxBlockSize)
	}

	parentHash := parent.Hash()
	if header.PreviousBlockHash != parentHash {
		return invalidf("previous hash %s does not match parent %s", header.PreviousBlockHash.Hex(), parentHash.Hex())
	}
	if header.Time <= parent.Time {
		return invalidf("timestamp %d not after parent timestamp %d", header.Time, parent.Time)
	}
	if header.Time > now+e.params.MaxFutureDrift {
		return invalidf("timestamp %d exceeds future limit %d", header.Time, now+e.params.MaxFutureDrift)
	}
	if expected := BitcoinRetarget(header.Time, parent.Time, e.params.TargetBlockTime, parent.DifficultyTarget); header.DifficultyTarget != expected {
		return invalidf("difficulty target %d, retarget requires %d", header.DifficultyTarget, expected)
	}
	if header.Nonce >= e.params.MaxNonce {
		return invalidf("nonce %d exceeds maximum %d", header.Nonce, e.params.MaxNonce)
	}
	if !e.crypto.VerifyPoW(header, header.DifficultyTarget) {
		return invalidf("proof of work does not meet target %d", header.DifficultyTarget)
	}

	if root := TransactionRoot(block.Transactions); header.TransactionRoot != root {
		return invalidf("transaction root %s does not match %s", header.TransactionRoot.Hex(), root.Hex())
	}

	coinbaseCount := 0
	valueBalance := int64(0)
	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			coinbaseCount++
		}
		valueBalance += tx.ValueBalance
	}
	if coinbaseCount != 1 {
		return invalidf("block has %d coinbase transactions", coinbaseCount)
	}
	if valueBalance+int64(BlockReward(height)) != 0 {
		return invalidf("value balance %d does not offset block reward %d", valueBalance, BlockReward(height))
	}

	for _, tx := range block.Transactions {
		if !e.crypto.IsAuthorizedInnerCircuit(tx.InnerCircuitID) {
			return invalidf("transaction %s declares unauthorized inner circuit %s", tx.ID().Hex(), tx.InnerCircuitID.Hex())
		}
	}

	if !e.crypto.VerifyTransactions(block.Transactions) {
		return invalidf("transaction verification failed")
	}

	seenSN := make(map[types.Hash]struct{})
	seenCM := make(map[types.Hash]struct{})
	seenMemo := make(map[types.Memo]struct{})
	for _, tx := range block.Transactions {
		for _, sn := range tx.OldSerialNumbers {
			if _, dup := seenSN[sn]; dup {
				return invalidf("duplicate serial number %s in block", sn.Hex())
			}
			seenSN[sn] = struct{}{}
			if view.ContainsSerialNumber(sn) {
				return invalidf("serial number %s already spent", sn.Hex())
			}
		}
		for _, cm := range tx.NewCommitments {
			if _, dup := seenCM[cm]; dup {
				return invalidf("duplicate commitment %s in block", cm.Hex())
			}
			seenCM[cm] = struct{}{}
			if view.ContainsCommitment(cm) {
				return invalidf("commitment %s already committed", cm.Hex())
			}
		}
		if _, dup := seenMemo[tx.Memo]; dup {
			return invalidf("duplicate memo in block")
		}
		seenMemo[tx.Memo] = struct{}{}
		if view.ContainsMemo(tx.Memo) {
			return invalidf("memo already used")
		}

		if !view.ContainsDigest(tx.LedgerDigest) {
			return invalidf("transaction %s references unknown ledger digest %s", tx.ID().Hex(), tx.LedgerDigest.Hex())
		}
	}

	return nil
}
