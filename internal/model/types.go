package model

import "time"

const EnvelopeVersion = "v1"

// Envelope is the stable wrapper around every command result.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

type ChainView struct {
	ChainID      int64  `json:"chain_id"`
	Name         string `json:"name"`
	NativeSymbol string `json:"native_symbol"`
	V2Venue      string `json:"v2_venue,omitempty"`
	SupportsV3   bool   `json:"supports_v3"`
	DefaultRPC   string `json:"default_rpc"`
}

type TokenView struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name,omitempty"`
	Imported bool   `json:"imported,omitempty"`
}

type QuoteView struct {
	ChainID        int64  `json:"chain_id"`
	Venue          string `json:"venue"`
	Route          string `json:"route"`
	FeeTier        uint32 `json:"fee_tier,omitempty"`
	Direction      string `json:"direction"`
	FromSymbol     string `json:"from_symbol"`
	ToSymbol       string `json:"to_symbol"`
	InputAmount    string `json:"input_amount"`
	FeeAmount      string `json:"fee_amount"`
	AmountAfterFee string `json:"amount_after_fee"`
	OutputAmount   string `json:"output_amount"`
	MinOutput      string `json:"min_output,omitempty"`
	WalletBalance  string `json:"wallet_balance,omitempty"`
	SlippageBps    int64  `json:"slippage_bps,omitempty"`
	Deadline       int64  `json:"deadline_unix"`
}

type PlanView struct {
	PlanID     string         `json:"plan_id"`
	Status     string         `json:"status"`
	ChainID    int64          `json:"chain_id"`
	FromSymbol string         `json:"from_symbol"`
	ToSymbol   string         `json:"to_symbol"`
	Venue      string         `json:"venue"`
	Steps      []PlanStepView `json:"steps"`
	UpdatedAt  string         `json:"updated_at"`
}

type PlanStepView struct {
	StepID      string `json:"step_id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Error       string `json:"error,omitempty"`
}
