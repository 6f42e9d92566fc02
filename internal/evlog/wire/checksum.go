package wire

import "github.com/julianstephens/go-utils/checksum"

// ComputeChecksum computes the CRC32-C (Castagnoli) checksum of data.
func ComputeChecksum(data []byte) uint32 {
	return checksum.CRC32C(data)
}

// VerifyChecksum reports whether ev's data matches its CRC. A zero CRC means
// the server did not compute one and always verifies.
func VerifyChecksum(ev Event) bool {
	if ev.CRC32 == 0 {
		return true
	}
	return checksum.VerifyCRC32C(ev.Data, ev.CRC32)
}
