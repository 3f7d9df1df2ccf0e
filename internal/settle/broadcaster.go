package settle

import "context"

// TxRef is the external ledger's confirmation reference for a broadcast
// plan (e.g. a transaction signature).
type TxRef string

// Broadcaster is the capability interface for external signing and
// broadcast. Consumed, not implemented here: the service hands plans to
// callers for signing, and integrators that hold keys can plug a
// Broadcaster in. The core never depends on a provider's wire shape.
type Broadcaster interface {
	SignAndBroadcast(ctx context.Context, plan *TransferPlan) (TxRef, error)
}
