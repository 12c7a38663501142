package token

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOTP_LengthAndDigits(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 500; i++ {
		code, err := GenerateOTP(6)
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestGenerateOTP_OtherLengths(t *testing.T) {
	for _, n := range []int{1, 4, 8, 10} {
		code, err := GenerateOTP(n)
		require.NoError(t, err)
		assert.Len(t, code, n)
	}
}

func TestGenerateOTP_ZeroPadded(t *testing.T) {
	// With one digit every value 0..9 shows up quickly, including "0".
	seen := map[string]bool{}
	for i := 0; i < 2000 && len(seen) < 10; i++ {
		code, err := GenerateOTP(1)
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Len(t, seen, 10)
	assert.True(t, seen["0"])
}

func TestGenerateOTP_RejectsNonPositiveLength(t *testing.T) {
	_, err := GenerateOTP(0)
	assert.Error(t, err)
}

func TestHashOTP_KnownVector(t *testing.T) {
	// sha256("123456")
	assert.Equal(t, "8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92", HashOTP("123456"))
}

func TestHashOTP_Deterministic(t *testing.T) {
	assert.Equal(t, HashOTP("000001"), HashOTP("000001"))
	assert.NotEqual(t, HashOTP("000001"), HashOTP("000002"))
}
