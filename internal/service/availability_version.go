package service

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/noah-isme/instructor-availability-api/pkg/bitset"
)

// versionDomainKey separates week version hashes from any other use of the
// hash function. Changing it invalidates every outstanding token.
var versionDomainKey = [32]byte{'i', 'n', 's', 't', 'r', 'u', 'c', 't', 'o', 'r', '-', 'a', 'v', 'a', 'i', 'l',
	'a', 'b', 'i', 'l', 'i', 't', 'y', '/', 'v', 'e', 'r', 's', 'i', 'o', 'n', '1'}

const versionTokenBytes = 16

// versionToken fingerprints the ordered (date, bits) sequence starting at
// start. days[i] belongs to start+i; nil or missing days hash as all zero.
func versionToken(instructorID string, start time.Time, days [][]byte) string {
	hasher, err := blake3.NewKeyed(versionDomainKey[:])
	if err != nil {
		panic("availability: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(instructorID)))
	hasher.Write(length[:])
	hasher.Write([]byte(instructorID))

	zero := bitset.Empty()
	for i, bits := range days {
		hasher.Write([]byte(formatDate(start.AddDate(0, 0, i))))
		if len(bits) != bitset.Size {
			bits = zero
		}
		hasher.Write(bits)
	}

	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:versionTokenBytes])
}
