package keypath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseAndString checks the textual keypath notation in both directions.
func TestParseAndString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Keypath
		str  string
		err  bool
	}{
		{
			name: "master",
			in:   "m",
			want: Keypath{},
			str:  "m",
		},
		{
			name: "bip84 account",
			in:   "m/84'/0'/0'",
			want: Keypath{Hardened(84), Hardened(0), Hardened(0)},
			str:  "m/84'/0'/0'",
		},
		{
			name: "h suffix",
			in:   "m/48h/1h/0h/2h/1/7",
			want: Keypath{
				Hardened(48), Hardened(1), Hardened(0),
				Hardened(2), 1, 7,
			},
			str: "m/48'/1'/0'/2'/1/7",
		},
		{
			name: "missing m",
			in:   "84'/0'",
			err:  true,
		},
		{
			name: "index too large",
			in:   "m/2147483648",
			err:  true,
		},
		{
			name: "garbage",
			in:   "m/x",
			err:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			k, err := Parse(tc.in)
			if tc.err {
				require.ErrorIs(t, err, ErrInvalidKeypath)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, k)
			require.Equal(t, tc.str, k.String())
		})
	}
}

// TestAccount checks account extraction from the third element.
func TestAccount(t *testing.T) {
	t.Parallel()

	account, err := Keypath{Hardened(84), Hardened(0), Hardened(7)}.Account()
	require.NoError(t, err)
	require.EqualValues(t, 7, account)

	// Too short.
	_, err = Keypath{Hardened(84), Hardened(0)}.Account()
	require.ErrorIs(t, err, ErrInvalidKeypath)

	// Not hardened.
	_, err = Keypath{Hardened(84), Hardened(0), 0}.Account()
	require.ErrorIs(t, err, ErrInvalidKeypath)
}

// TestBytesRoundTrip checks the binary form and the prefix helpers.
func TestBytesRoundTrip(t *testing.T) {
	t.Parallel()

	k := Keypath{Hardened(48), Hardened(0), Hardened(0), Hardened(2), 0, 5}
	decoded, err := FromBytes(k.Bytes())
	require.NoError(t, err)
	require.True(t, k.Equal(decoded))
	require.True(t, k.HasPrefix(k[:4]))
	require.False(t, k[:4].HasPrefix(k))

	_, err = FromBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidKeypath)
}
