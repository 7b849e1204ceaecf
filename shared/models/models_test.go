package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_Add(t *testing.T) {
	tests := []struct {
		name          string
		left, right   Money
		expected      Money
		expectedError error
	}{
		{
			name:     "same currency",
			left:     NewMoney(150, "USD"),
			right:    NewMoney(50, "USD"),
			expected: NewMoney(200, "USD"),
		},
		{
			name:          "currency mismatch",
			left:          NewMoney(150, "USD"),
			right:         NewMoney(50, "EUR"),
			expectedError: ErrCurrencyMismatch,
		},
		{
			name:          "positive overflow",
			left:          NewMoney(math.MaxInt64, "USD"),
			right:         NewMoney(1, "USD"),
			expectedError: ErrAmountOverflow,
		},
		{
			name:          "negative overflow",
			left:          NewMoney(math.MinInt64, "USD"),
			right:         NewMoney(-1, "USD"),
			expectedError: ErrAmountOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.left.Add(tt.right)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMoney_Multiply(t *testing.T) {
	tests := []struct {
		name          string
		money         Money
		factor        int64
		expected      Money
		expectedError error
	}{
		{
			name:     "quantity times unit price",
			money:    NewMoney(250, "USD"),
			factor:   4,
			expected: NewMoney(1000, "USD"),
		},
		{
			name:     "zero factor",
			money:    NewMoney(250, "USD"),
			factor:   0,
			expected: NewMoney(0, "USD"),
		},
		{
			name:          "overflow",
			money:         NewMoney(1<<62, "USD"),
			factor:        4,
			expectedError: ErrAmountOverflow,
		},
		{
			name:          "min int times minus one",
			money:         NewMoney(math.MinInt64, "USD"),
			factor:        -1,
			expectedError: ErrAmountOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.money.Multiply(tt.factor)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
