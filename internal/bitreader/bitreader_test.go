package bitreader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUEBasic(t *testing.T) {
	// 0b1_010_011_0: exp-golomb "1" -> 0, "010" -> 1, "011" -> 2
	r := New([]byte{0b1_010_011_0})
	v, err := r.UE()
	require.NoError(t, err)
	require.EqualValues(t, 0, v)
	v, err = r.UE()
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

func TestUFieldWidth(t *testing.T) {
	r := New([]byte{0xAB})
	v, err := r.U(8)
	require.NoError(t, err)
	require.EqualValues(t, 0xAB, v)
}

func TestUnescapeRBSP(t *testing.T) {
	in := []byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x02}
	out := unescapeRBSP(in)
	require.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x02}, out)
}
