package novacan

// TransferCRC computes the checksum appended to multi-frame transfers.
// It is a configuration parameter rather than a constant so deployments can
// pin a different algorithm; both ends of a bus must agree.
type TransferCRC func([]byte) uint16

// transferCRCSize is the number of trailing bytes a multi-frame transfer
// reserves for the checksum (big-endian).
const transferCRCSize = 2

// CRC16CCITTFalse is the default TransferCRC: CRC-16/CCITT-FALSE
// (polynomial 0x1021, initial value 0xFFFF, no reflection, no final xor).
func CRC16CCITTFalse(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
