package grammar

// partialUTF8 carries a code point split across token pieces.
type partialUTF8 struct {
	value   uint32
	nRemain int
}

var utf8Lead = [16]int{1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 2, 2, 3, 4}

// decodeUTF8 decodes src after an earlier partial sequence. Complete code
// points are returned along with the state of a trailing incomplete one.
// ok is false when src breaks UTF-8 framing.
func decodeUTF8(src []byte, partial partialUTF8) (cps []uint32, next partialUTF8, ok bool) {
	i := 0
	value := partial.value
	nRemain := partial.nRemain

	for i < len(src) && nRemain > 0 {
		b := src[i]
		if b>>6 != 2 {
			return nil, partialUTF8{nRemain: -1}, false
		}
		value = value<<6 + uint32(b&0x3F)
		i++
		nRemain--
	}
	if partial.nRemain > 0 && nRemain == 0 {
		cps = append(cps, value)
	}

	for i < len(src) {
		first := src[i]
		nRemain = utf8Lead[first>>4] - 1
		if nRemain < 0 {
			return nil, partialUTF8{nRemain: -1}, false
		}
		mask := uint32(1)<<(7-nRemain) - 1
		value = uint32(first) & mask
		i++
		for i < len(src) && nRemain > 0 {
			value = value<<6 + uint32(src[i]&0x3F)
			i++
			nRemain--
		}
		if nRemain == 0 {
			cps = append(cps, value)
		}
	}
	return cps, partialUTF8{value: value, nRemain: nRemain}, true
}
