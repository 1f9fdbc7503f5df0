package tcpb

import "golang.org/x/crypto/blake2b"

// checksum is an optional integrity net the tcp backend offers (and the
// in-process local backend has no need for): a 256-bit digest of the
// pre-compression payload of a put or accumulate, verified by the
// receiver before the bytes are applied to a window. Off by default
// (config.VerifyChecksum); enabling it trades a hash pass on every
// put/accumulate for detection of wire corruption the TCP checksum alone
// might miss. CAS and fetch-and-op requests carry no digest.
func checksum(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func verifyChecksum(data, want []byte) bool {
	if len(want) == 0 {
		return true
	}
	got := checksum(data)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
