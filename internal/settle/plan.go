package settle

import (
	"fmt"

	"PotLedger/internal/asset"

	"github.com/google/uuid"
)

// InstructionKind discriminates the instruction types a plan can carry.
type InstructionKind int32

const (
	// InstructionProvisionAccount creates the destination holding account
	// for a token asset if it does not exist yet.
	InstructionProvisionAccount InstructionKind = iota

	// InstructionTransferNative moves base units of the native coin.
	InstructionTransferNative

	// InstructionTransferToken moves raw units of a token between holding
	// accounts.
	InstructionTransferToken
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionProvisionAccount:
		return "provision_account"
	case InstructionTransferNative:
		return "transfer_native"
	case InstructionTransferToken:
		return "transfer_token"
	default:
		return "unknown"
	}
}

// Instruction is one step of an atomic transfer plan.
type Instruction struct {
	Kind        InstructionKind `json:"kind"`
	Mint        string          `json:"mint"`
	Symbol      string          `json:"symbol"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	RawAmount   int64           `json:"raw_amount"` // zero for provisioning
}

// TransferPlan is one atomic submission unit: the external ledger applies
// every instruction or none. Ephemeral; constructed per submission and
// kept only in the audit log.
type TransferPlan struct {
	PlanID       uuid.UUID     `json:"plan_id"`
	Source       string        `json:"source"`
	Destination  string        `json:"destination"`
	Instructions []Instruction `json:"instructions"`
}

// Validate checks the plan is well-formed: non-empty, positive transfer
// amounts, no self-transfers, and every provisioning instruction ordered
// before its asset's transfer.
func (p *TransferPlan) Validate() error {
	if len(p.Instructions) == 0 {
		return fmt.Errorf("plan %s is empty", p.PlanID)
	}

	provisioned := make(map[string]bool)
	for i, ins := range p.Instructions {
		switch ins.Kind {
		case InstructionProvisionAccount:
			if provisioned[ins.Mint] {
				return fmt.Errorf("plan %s: duplicate provisioning for %s", p.PlanID, ins.Mint)
			}
			provisioned[ins.Mint] = true

		case InstructionTransferNative, InstructionTransferToken:
			if ins.RawAmount <= 0 {
				return fmt.Errorf("plan %s: instruction %d has non-positive amount %d", p.PlanID, i, ins.RawAmount)
			}
			if ins.Source == ins.Destination {
				return fmt.Errorf("plan %s: instruction %d transfers to itself", p.PlanID, i)
			}
			if ins.Kind == InstructionTransferNative && ins.Mint != asset.NativeMint {
				return fmt.Errorf("plan %s: instruction %d native transfer of non-native mint %s", p.PlanID, i, ins.Mint)
			}

		default:
			return fmt.Errorf("plan %s: instruction %d has unknown kind", p.PlanID, i)
		}
	}

	return nil
}
