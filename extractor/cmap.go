package extractor

import (
	"bufio"
	"bytes"
	"sort"
	"strings"
	"unicode/utf16"
)

type toUnicodeMap struct {
	entries map[string]string
	// lengths holds the code lengths in bytes, longest first.
	lengths []int
}

func parseToUnicodeCMap(data []byte) *toUnicodeMap {
	lineScanner := bufio.NewScanner(bytes.NewReader(data))
	lineScanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	result := &toUnicodeMap{entries: make(map[string]string)}
	lengthSet := make(map[int]struct{})
	state := ""
	for lineScanner.Scan() {
		line := strings.TrimSpace(lineScanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		switch {
		case strings.HasSuffix(line, "begincodespacerange"):
			state = "codespace"
			continue
		case strings.HasSuffix(line, "beginbfchar"):
			state = "bfchar"
			continue
		case strings.HasSuffix(line, "beginbfrange"):
			state = "bfrange"
			continue
		case strings.HasPrefix(line, "end"):
			state = ""
			continue
		}
		switch state {
		case "codespace":
			hexes := extractHexTokens(line)
			for i := 0; i+1 < len(hexes); i += 2 {
				if b := hexToBytes(hexes[i]); len(b) > 0 {
					lengthSet[len(b)] = struct{}{}
				}
			}
		case "bfchar":
			hexes := extractHexTokens(line)
			for i := 0; i+1 < len(hexes); i += 2 {
				src := hexToBytes(hexes[i])
				if len(src) == 0 {
					continue
				}
				result.entries[string(src)] = decodeUTF16BE(hexToBytes(hexes[i+1]))
				lengthSet[len(src)] = struct{}{}
			}
		case "bfrange":
			line = accumulateUntil(line, lineScanner)
			hexes := extractHexTokens(line)
			if len(hexes) < 3 {
				continue
			}
			srcStart := hexToBytes(hexes[0])
			srcEnd := hexToBytes(hexes[1])
			length := len(srcStart)
			if length == 0 {
				continue
			}
			lengthSet[length] = struct{}{}
			startVal := bytesToInt(srcStart)
			endVal := bytesToInt(srcEnd)
			if endVal-startVal > 0xFFFF {
				continue
			}
			if strings.Contains(line, "[") {
				for i := 0; i <= endVal-startVal && 2+i < len(hexes); i++ {
					src := intToBytes(startVal+i, length)
					result.entries[string(src)] = decodeUTF16BE(hexToBytes(hexes[2+i]))
				}
				continue
			}
			dstStart := hexToBytes(hexes[2])
			if len(dstStart) == 0 {
				continue
			}
			// The range increments the last byte of the destination.
			for i := 0; i <= endVal-startVal; i++ {
				dst := append([]byte(nil), dstStart...)
				dst[len(dst)-1] += byte(i)
				src := intToBytes(startVal+i, length)
				result.entries[string(src)] = decodeUTF16BE(dst)
			}
		}
	}
	if len(lengthSet) == 0 {
		for k := range result.entries {
			lengthSet[len(k)] = struct{}{}
		}
	}
	for l := range lengthSet {
		result.lengths = append(result.lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(result.lengths)))
	return result
}

func accumulateUntil(line string, lineScanner *bufio.Scanner) string {
	if !strings.Contains(line, "[") || strings.Contains(line, "]") {
		return line
	}
	for lineScanner.Scan() {
		next := strings.TrimSpace(lineScanner.Text())
		line += " " + next
		if strings.Contains(next, "]") {
			break
		}
	}
	return line
}

func extractHexTokens(line string) []string {
	var tokens []string
	for {
		start := strings.Index(line, "<")
		if start == -1 {
			break
		}
		end := strings.Index(line[start+1:], ">")
		if end == -1 {
			break
		}
		segment := line[start+1 : start+1+end]
		tokens = append(tokens, strings.ReplaceAll(segment, " ", ""))
		line = line[start+1+end+1:]
	}
	return tokens
}

func hexToBytes(hex string) []byte {
	if len(hex)%2 == 1 {
		hex += "0"
	}
	out := make([]byte, len(hex)/2)
	for i := 0; i < len(hex); i += 2 {
		out[i/2] = (fromHexChar(hex[i]) << 4) | fromHexChar(hex[i+1])
	}
	return out
}

func fromHexChar(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func bytesToInt(b []byte) int {
	val := 0
	for _, by := range b {
		val = (val << 8) | int(by)
	}
	return val
}

func intToBytes(value int, length int) []byte {
	buf := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		buf[i] = byte(value & 0xFF)
		value >>= 8
	}
	return buf
}

func decodeUTF16BE(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return ""
	}
	buf := make([]uint16, len(data)/2)
	for i := 0; i < len(buf); i++ {
		buf[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return string(utf16.Decode(buf))
}

// next consumes one code from data and returns its text, the code bytes and
// whether the code was mapped.
func (m *toUnicodeMap) next(data []byte) (text string, code []byte, ok bool) {
	for _, l := range m.lengths {
		if len(data) < l {
			continue
		}
		if val, found := m.entries[string(data[:l])]; found {
			return val, data[:l], true
		}
	}
	return "", nil, false
}
