package units

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBalance(t *testing.T) {
	b, err := ParseBalance("1820000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "1820000000000000000000", b.String())

	_, err = ParseBalance("")
	require.Error(t, err)

	_, err = ParseBalance("-5")
	require.Error(t, err)

	_, err = ParseBalance("340282366920938463463374607431768211456") // 2^128
	require.ErrorIs(t, err, ErrExceedsU128)

	max, err := ParseBalance("340282366920938463463374607431768211455")
	require.NoError(t, err)
	_, err = max.Add(NewBalance(1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestBalanceArithmetic(t *testing.T) {
	a := NewBalance(1000)
	b := NewBalance(400)

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.True(t, sum.Equal(NewBalance(1400)))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, "600", diff.String())

	_, err = b.Sub(a)
	require.ErrorIs(t, err, ErrUnderflow)

	require.True(t, b.LessThan(a))
	require.Equal(t, 1, a.Cmp(b))
	require.True(t, Balance{}.IsZero())
}

func TestBalanceJSON(t *testing.T) {
	var payload struct {
		Amount Balance `json:"amount"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"amount":"20000000000000000000000"}`), &payload))
	require.Equal(t, "20000000000000000000000", payload.Amount.String())

	require.NoError(t, json.Unmarshal([]byte(`{"amount":1000}`), &payload))
	require.Equal(t, "1000", payload.Amount.String())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"1000"}`, string(out))
}

func TestBalanceScan(t *testing.T) {
	var b Balance
	require.NoError(t, b.Scan("1000000000000000000000"))
	require.Equal(t, "1000000000000000000000", b.String())

	require.NoError(t, b.Scan([]byte("42")))
	require.Equal(t, "42", b.String())

	require.NoError(t, b.Scan(int64(7)))
	require.Equal(t, "7", b.String())

	require.NoError(t, b.Scan(nil))
	require.True(t, b.IsZero())

	require.Error(t, b.Scan(3.14))

	v, err := NewBalance(9).Value()
	require.NoError(t, err)
	require.Equal(t, "9", v)
}
