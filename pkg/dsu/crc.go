package dsu

import "hash/crc32"

// Checksum - classic CRC-32 (IEEE 802.3): reflected 0xEDB88320, init and final xor 0xFFFFFFFF
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
