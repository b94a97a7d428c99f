// Copyright 2025 Certen Protocol

package consensus

import (
	"github.com/certen/zkpow-node/pkg/merkle"
	"github.com/certen/zkpow-node/pkg/types"
)

// TransactionRoot is the merkle root over the ordered transaction ids.
func TransactionRoot(txs []*types.Transaction) types.Hash {
	return merkle.Root(types.TransactionIDs(txs))
}

// CommitmentRoot is the auxiliary merkle root over the block's new record
// commitments; the succinct work proof binds to it.
func CommitmentRoot(txs []*types.Transaction) types.Hash {
	var cms []types.Hash
	for _, tx := range txs {
		cms = append(cms, tx.NewCommitments...)
	}
	return merkle.Root(cms)
}
