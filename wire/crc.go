package wire

// crc16 implements CRC-16 with polynomial 0x1021, zero init, no
// reflection and no final xor, as used by the panel for frame checksums.
func crc16(buf []byte) uint16 {
	var crc uint16
	for _, b := range buf {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 > 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
