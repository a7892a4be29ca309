package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDHShared_Commutes(t *testing.T) {
	var secretA uint16 = 0x1234
	var secretB uint16 = 0x5678

	pubA := DHPublic(secretA)
	pubB := DHPublic(secretB)

	sharedFromA := DHShared(pubB, secretA)
	sharedFromB := DHShared(pubA, secretB)

	assert.Equal(t, sharedFromA, sharedFromB)
}

func TestHash_Sanity(t *testing.T) {
	assert.Equal(t, uint32(1), Hash([]byte{0x01}))
	assert.Equal(t, uint32(33), Hash([]byte{0x01, 0x02}))
}

func TestMAC_Sanity(t *testing.T) {
	zeros := make([]byte, 16)
	assert.Equal(t, uint32(0xFEED5EED), MAC(0xFEED5EED, zeros))
}

func TestAuthTag_OrderMatters(t *testing.T) {
	a := AuthTag(0x11111111, 0x22222222, 0x0102030405060708)
	b := AuthTag(0x22222222, 0x11111111, 0x0102030405060708)
	assert.NotEqual(t, a, b)
}
