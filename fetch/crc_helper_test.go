package fetch

import (
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
)

func crcOf(s string) string {
	h := crc32.Checksum([]byte(s), crc32.MakeTable(crc32.Castagnoli))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h)
	return base64.StdEncoding.EncodeToString(b[:])
}
