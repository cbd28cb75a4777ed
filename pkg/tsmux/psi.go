package tsmux

// PSI section builders for one program. PID values match the ffmpeg
// mpegts muxer defaults (first PMT at 0x1000, elementary streams from
// 0x100) so downstream tooling that assumes that layout stays happy.

// mpegCRC32 computes the MPEG-2 section CRC-32 (polynomial 0x04C11DB7,
// init 0xFFFFFFFF, MSB-first, no reflection, no final XOR) used in
// PAT/PMT/SCTE-35 tables.
func mpegCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc^(uint32(b)<<24))&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
			b <<= 1
		}
	}
	return crc
}

// buildPATSection returns a PAT declaring program 1 at pmtPID, CRC
// included.
//
// Layout:
//
//	s[0]      table_id = 0x00
//	s[1..2]   section_syntax=1, reserved, section_length
//	s[3..4]   transport_stream_id = 1
//	s[5]      reserved, version=0, current_next=1
//	s[6..7]   section_number, last_section_number
//	s[8..9]   program_number = 1
//	s[10..11] reserved + PMT PID
//	s[12..15] CRC-32 (big-endian)
func buildPATSection() []byte {
	s := make([]byte, 16)
	s[0] = 0x00
	s[1] = 0xB0
	s[2] = 0x0D // section_length = 13
	s[3] = 0x00
	s[4] = 0x01 // transport_stream_id
	s[5] = 0xC1
	s[6] = 0x00
	s[7] = 0x00
	s[8] = 0x00
	s[9] = 0x01 // program_number
	s[10] = byte(0xE0 | (pmtPID>>8)&0x1F)
	s[11] = byte(pmtPID & 0xFF)
	crc := mpegCRC32(s[:12])
	s[12] = byte(crc >> 24)
	s[13] = byte(crc >> 16)
	s[14] = byte(crc >> 8)
	s[15] = byte(crc)
	return s
}

// buildPMTSection returns a PMT for program 1 declaring the given
// elementary streams, PCR on the video PID, CRC included. Each stream
// entry is 5 bytes (stream_type, PID, ES_info_length = 0).
func buildPMTSection(streams []pmtStream) []byte {
	sectionLen := 13 + 5*len(streams) // bytes after section_length, CRC included
	s := make([]byte, 3+sectionLen)
	s[0] = 0x02
	s[1] = byte(0xB0 | (sectionLen>>8)&0x0F)
	s[2] = byte(sectionLen & 0xFF)
	s[3] = 0x00
	s[4] = 0x01 // program_number
	s[5] = 0xC1
	s[6] = 0x00
	s[7] = 0x00
	s[8] = byte(0xE0 | (videoPID>>8)&0x1F) // PCR_PID
	s[9] = byte(videoPID & 0xFF)
	s[10] = 0xF0 // program_info_length = 0
	s[11] = 0x00
	idx := 12
	for _, st := range streams {
		s[idx] = st.streamType
		s[idx+1] = byte(0xE0 | (st.pid>>8)&0x1F)
		s[idx+2] = byte(st.pid & 0xFF)
		s[idx+3] = 0xF0 // ES_info_length = 0
		s[idx+4] = 0x00
		idx += 5
	}
	crc := mpegCRC32(s[:idx])
	s[idx] = byte(crc >> 24)
	s[idx+1] = byte(crc >> 16)
	s[idx+2] = byte(crc >> 8)
	s[idx+3] = byte(crc)
	return s
}
