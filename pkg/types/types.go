// Package types holds the chain-agnostic primitives shared by the domain
// entities and the storage layer: chain identifiers and the closed enums
// persisted as text columns. Parse functions reject unknown values instead
// of defaulting so stored data can never silently change meaning.
package types

import (
	"encoding/json"
	"fmt"
)

// Chain names a supported blockchain. The storage layer interns chains into
// the chain table and scopes block-number lookups by it.
type Chain string

const (
	Ethereum Chain = "ethereum"
	Starknet Chain = "starknet"
	ZkSync   Chain = "zksync"
	Arbitrum Chain = "arbitrum"
)

func (c Chain) String() string {
	return string(c)
}

func ParseChain(s string) (Chain, error) {
	switch Chain(s) {
	case Ethereum, Starknet, ZkSync, Arbitrum:
		return Chain(s), nil
	default:
		return "", fmt.Errorf("unknown chain %q", s)
	}
}

// ChangeType classifies a state delta: whether it creates, updates or
// removes the entity it applies to.
type ChangeType string

const (
	ChangeCreation ChangeType = "creation"
	ChangeUpdate   ChangeType = "update"
	ChangeDeletion ChangeType = "deletion"
)

func (c ChangeType) String() string {
	return string(c)
}

func ParseChangeType(s string) (ChangeType, error) {
	switch ChangeType(s) {
	case ChangeCreation, ChangeUpdate, ChangeDeletion:
		return ChangeType(s), nil
	default:
		return "", fmt.Errorf("unknown change type %q", s)
	}
}

// FinancialType is the financial classification of a protocol type.
type FinancialType string

const (
	FinancialSwap     FinancialType = "swap"
	FinancialPSM      FinancialType = "psm"
	FinancialDebt     FinancialType = "debt"
	FinancialLeverage FinancialType = "leverage"
)

func (f FinancialType) String() string {
	return string(f)
}

func ParseFinancialType(s string) (FinancialType, error) {
	switch FinancialType(s) {
	case FinancialSwap, FinancialPSM, FinancialDebt, FinancialLeverage:
		return FinancialType(s), nil
	default:
		return "", fmt.Errorf("unknown financial type %q", s)
	}
}

// ImplementationType records how a protocol's behavior is integrated:
// a custom native implementation or a simulated VM one.
type ImplementationType string

const (
	ImplementationCustom ImplementationType = "custom"
	ImplementationVM     ImplementationType = "vm"
)

func (i ImplementationType) String() string {
	return string(i)
}

func ParseImplementationType(s string) (ImplementationType, error) {
	switch ImplementationType(s) {
	case ImplementationCustom, ImplementationVM:
		return ImplementationType(s), nil
	default:
		return "", fmt.Errorf("unknown implementation type %q", s)
	}
}

// TokenQuality flags how well a token behaves for accounting purposes.
type TokenQuality string

const (
	QualityNormal TokenQuality = "normal"
	QualityRebase TokenQuality = "rebase"
	QualityTax    TokenQuality = "tax"
	QualityScam   TokenQuality = "scam"
)

func (q TokenQuality) String() string {
	return string(q)
}

func ParseTokenQuality(s string) (TokenQuality, error) {
	switch TokenQuality(s) {
	case QualityNormal, QualityRebase, QualityTax, QualityScam:
		return TokenQuality(s), nil
	default:
		return "", fmt.Errorf("unknown token quality %q", s)
	}
}

// ProtocolType describes a family of protocol components sharing financial
// semantics and an optional JSON schema its state attributes conform to.
type ProtocolType struct {
	Name            string             `json:"name"`
	Financial       FinancialType      `json:"financial_type"`
	AttributeSchema json.RawMessage    `json:"attribute_schema,omitempty"`
	Implementation  ImplementationType `json:"implementation"`
}
