package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

type PlanStatus string

type StepStatus string

type StepType string

const (
	PlanStatusPlanned   PlanStatus = "planned"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	// PlanStatusPartial marks plans whose protocol fee was collected but
	// whose swap did not confirm.
	PlanStatusPartial PlanStatus = "partial"
	PlanStatusFailed  PlanStatus = "failed"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSimulated StepStatus = "simulated"
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusFailed    StepStatus = "failed"
)

const (
	StepTypeApproval    StepType = "approval"
	StepTypeFeeTransfer StepType = "fee_transfer"
	StepTypeSwap        StepType = "swap"
)

type PlanStep struct {
	StepID      string     `json:"step_id"`
	Type        StepType   `json:"type"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	Target      string     `json:"target"`
	Data        string     `json:"data"`
	Value       string     `json:"value"`
	GasLimit    uint64     `json:"gas_limit,omitempty"`
	TxHash      string     `json:"tx_hash,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Plan is the fully-ordered transaction sequence for one swap: optional
// allowance steps, the protocol fee transfer, then the venue call.
type Plan struct {
	PlanID              string     `json:"plan_id"`
	Status              PlanStatus `json:"status"`
	ChainID             int64      `json:"chain_id"`
	Wallet              string     `json:"wallet"`
	FromSymbol          string     `json:"from_symbol"`
	ToSymbol            string     `json:"to_symbol"`
	FromTokenAddress    string     `json:"from_token_address"`
	NativeInput         bool       `json:"native_input"`
	InputAmount         string     `json:"input_amount"`
	FeeAmount           string     `json:"fee_amount"`
	AmountAfterFee      string     `json:"amount_after_fee"`
	ExpectedOutput      string     `json:"expected_output"`
	MinOutput           string     `json:"min_output"`
	SlippageBps         int64      `json:"slippage_bps"`
	RouterAddress       string     `json:"router_address"`
	VenueName           string     `json:"venue_name"`
	DeadlineUnixSeconds int64      `json:"deadline_unix"`
	CreatedAt           string     `json:"created_at"`
	UpdatedAt           string     `json:"updated_at"`
	Steps               []PlanStep `json:"steps"`
}

func (p *Plan) Touch() {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// NewPlanID returns a random identifier of the form plan-<16 hex chars>.
func NewPlanID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("plan-%d", time.Now().UTC().UnixNano())
	}
	return "plan-" + hex.EncodeToString(buf)
}
