package encoder

// SplitAnnexB scans an Annex-B byte stream for start codes (00 00 01 or
// 00 00 00 01) and returns the NAL unit between each adjacent pair of
// starts (exclusive of the following prefix). A stream with no start
// code yields nil. Both NVENC and the ffmpeg x264 backend emit raw
// Annex-B, so callers split either one's output the same way.
func SplitAnnexB(data []byte) [][]byte {
	type mark struct {
		start, prefixLen int
	}
	var marks []mark

	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			continue
		}
		anchor, prefixLen := i, 3
		if i > 0 && data[i-1] == 0 {
			anchor, prefixLen = i-1, 4
		}
		marks = append(marks, mark{anchor, prefixLen})
		i += 2
	}

	if len(marks) == 0 {
		return nil
	}

	var nalus [][]byte
	for i, m := range marks {
		begin := m.start + m.prefixLen
		end := len(data)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		if end > begin {
			nalus = append(nalus, data[begin:end])
		}
	}
	return nalus
}
