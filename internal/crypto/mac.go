package crypto

// Hash folds b into a 32-bit accumulator: acc = (31*acc + byte) mod 2^32
// for each byte, starting from 0. This is a plain multiplicative hash with
// no cryptographic properties — it is not a substitute for a real MAC on
// its own, only the building block the keyed MAC below wraps.
func Hash(b []byte) uint32 {
	var acc uint32
	for _, c := range b {
		acc = 31*acc + uint32(c)
	}
	return acc
}

// MAC computes the keyed, non-cryptographic MAC used throughout the device
// protocol: the polynomial hash of b, XORed with key.
func MAC(key uint32, b []byte) uint32 {
	return Hash(b) ^ key
}

// AuthTag builds the 16-byte handshake authenticator block
// pubFirst[4] ++ pubSecond[4] ++ nonce[8] (all big-endian) and returns its
// MAC under PSK. Order matters: the server computes
// AuthTag(serverPub, clientPub, nonce) and the client computes
// AuthTag(clientPub, serverPub, nonce) — the first argument is always the
// public key of whoever is producing this particular tag.
func AuthTag(pubFirst, pubSecond uint32, nonce uint64) uint32 {
	block := make([]byte, 16)
	putUint32BE(block[0:4], pubFirst)
	putUint32BE(block[4:8], pubSecond)
	putUint64BE(block[8:16], nonce)
	return MAC(PSK, block)
}

// AuthenticatedHMAC computes the session HMAC carried on all post-handshake
// traffic: the MAC of the presentation-layer bytes under the connection's
// shared secret.
func AuthenticatedHMAC(sharedSecret uint32, presentationBytes []byte) uint32 {
	return MAC(sharedSecret, presentationBytes)
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putUint64BE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
