package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyAdd(t *testing.T) {
	sum, err := Money{Amount: 1000, Currency: "INR"}.Add(Money{Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, Money{Amount: 1250, Currency: "INR"}, sum)

	sum, err = Money{}.Add(Money{Amount: 5, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "USD", sum.Currency)

	_, err = Money{Amount: 1, Currency: "INR"}.Add(Money{Amount: 1, Currency: "USD"})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoneyCovers(t *testing.T) {
	total := Money{Amount: 4500, Currency: "INR"}

	assert.True(t, Money{Amount: 4500, Currency: "INR"}.Covers(total))
	assert.True(t, Money{Amount: 5000}.Covers(total))
	assert.False(t, Money{Amount: 4499, Currency: "INR"}.Covers(total))
	assert.False(t, Money{Amount: 4500, Currency: "USD"}.Covers(total))
}
