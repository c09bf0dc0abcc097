package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChain(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Chain
		wantErr bool
	}{
		{name: "ethereum", input: "ethereum", want: Ethereum},
		{name: "starknet", input: "starknet", want: Starknet},
		{name: "zksync", input: "zksync", want: ZkSync},
		{name: "arbitrum", input: "arbitrum", want: Arbitrum},
		{name: "unknown chain", input: "dogechain", wantErr: true},
		{name: "wrong case", input: "Ethereum", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChain(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnumRoundTrips(t *testing.T) {
	for _, c := range []ChangeType{ChangeCreation, ChangeUpdate, ChangeDeletion} {
		got, err := ParseChangeType(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	for _, f := range []FinancialType{FinancialSwap, FinancialPSM, FinancialDebt, FinancialLeverage} {
		got, err := ParseFinancialType(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	for _, i := range []ImplementationType{ImplementationCustom, ImplementationVM} {
		got, err := ParseImplementationType(i.String())
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	for _, q := range []TokenQuality{QualityNormal, QualityRebase, QualityTax, QualityScam} {
		got, err := ParseTokenQuality(q.String())
		require.NoError(t, err)
		assert.Equal(t, q, got)
	}
}

func TestParseRejectsUnmappedValues(t *testing.T) {
	_, err := ParseChangeType("upsert")
	assert.Error(t, err)

	_, err = ParseFinancialType("lending")
	assert.Error(t, err)

	_, err = ParseImplementationType("native")
	assert.Error(t, err)

	_, err = ParseTokenQuality("good")
	assert.Error(t, err)
}
