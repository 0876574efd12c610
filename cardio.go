package tilefits

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	cardSize  = 80
	keySize   = 8
	valueSize = 71 // byte after the '=' indicator through end of card
)

// cardKeyName extracts and trims the 8-byte key field of a header record
// without looking at its value at all — the lightweight scan readHeader
// uses to index every card by name and detect END, so that a card whose
// value this package has no opinion about (a float, a long HISTORY line)
// never needs to parse cleanly just to be skipped over.
func cardKeyName(key []byte) string {
	return string(bytes.TrimRight(key, " "))
}

// parseCard parses one 80-byte header record: scan leading blanks in the
// value field, dispatch on the first non-blank byte, then look for a
// trailing '/' comment, restricted to the value grammar this reader
// actually needs to understand: bool, signed int, quoted string, or no
// value.
func parseCard(line []byte) (Card, error) {
	if len(line) != cardSize {
		return Card{}, wrapErrf(KindIllegalSequence, "fitsio: invalid header line length (%d)", len(line))
	}

	var card Card
	card.Name = cardKeyName(line[:keySize])

	switch card.Name {
	case "COMMENT", "HISTORY", "":
		card.Comment = string(bytes.TrimRight(line[keySize:], " "))
		return card, nil
	case "END":
		return card, nil
	}

	if line[keySize] != '=' {
		// no value indicator: treat the remainder as a comment, the
		// standard handling for keyword-only lines.
		card.Comment = string(bytes.TrimRight(line[keySize:], " "))
		return card, nil
	}

	value := line[keySize+1:] // 71-byte value region

	nblanks := 0
	for nblanks < len(value) && value[nblanks] == ' ' {
		nblanks++
	}
	if nblanks == len(value) {
		// undefined value is legal.
		return card, nil
	}

	i := nblanks
	switch value[i] {
	case '\'':
		str, consumed, err := parseCardString(value[i:])
		if err != nil {
			return Card{}, err
		}
		card.Kind = CardString
		card.Str = str
		i += consumed

	case 'T', 'F':
		card.Kind = CardBool
		card.Bool = value[i] == 'T'
		i++

	case '/':
		// empty value, comment follows immediately.

	default:
		n, consumed, err := parseCardInt(value[i:])
		if err != nil {
			return Card{}, err
		}
		card.Kind = CardInt
		card.Int = n
		i += consumed
	}

	if idx := bytes.IndexByte(value[i:], '/'); idx >= 0 {
		card.Comment = string(bytes.TrimSpace(value[i+idx+1:]))
	}

	return card, nil
}

// parseCardInt parses an optionally-signed run of ASCII digits starting
// at s[0], stopping at the first space or '/' (or end of s). It returns
// the parsed value and the number of bytes consumed from s.
func parseCardInt(s []byte) (int64, int, error) {
	i := 0
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	var v int64
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		v = v*10 + int64(s[i]-'0')
		i++
	}
	if i == start {
		return 0, 0, wrapErrf(KindIllegalSequence, "fitsio: invalid integer card value (%q)", string(s))
	}
	// require end-of-field, a space, or a comment introducer next.
	if i < len(s) && s[i] != ' ' && s[i] != '/' {
		return 0, 0, wrapErrf(KindIllegalSequence, "fitsio: malformed integer card value (%q)", string(s))
	}
	if neg {
		v = -v
	}
	return v, i, nil
}

// parseCardString parses a single-quoted FITS string starting at s[0]
// ('\''), decoding '' -> ' and scanning to the matching close quote. It
// returns the decoded string and the number of bytes of s consumed
// (including both quotes).
//
// Trailing spaces are stripped from the decoded string except when doing
// so would remove the very first character — per the FITS standard a
// leading space in a string value is significant and must survive even
// when it's the only character present. See DESIGN.md for why this
// edge case is intentional, not a bug.
func parseCardString(s []byte) (string, int, error) {
	if len(s) == 0 || s[0] != '\'' {
		return "", 0, wrapErrf(KindIllegalSequence, "fitsio: string value does not start with a quote")
	}
	var out []byte
	i := 1
	for i < len(s) {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				out = append(out, '\'')
				i += 2
				continue
			}
			i++ // consume closing quote
			str := string(out)
			if len(str) > 0 {
				first := str[:1]
				rest := stripTrailingSpaces(str[1:])
				str = first + rest
			}
			return str, i, nil
		}
		out = append(out, s[i])
		i++
	}
	return "", 0, wrapErrf(KindIllegalSequence, "fitsio: string value missing closing quote")
}

func stripTrailingSpaces(s string) string {
	end := len(s)
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	return s[:end]
}

// writeCard renders a Card back into an 80-byte header record.
func writeCard(card Card) []byte {
	buf := make([]byte, cardSize)
	for i := range buf {
		buf[i] = ' '
	}

	switch card.Name {
	case "", "COMMENT", "HISTORY":
		name := card.Name
		copy(buf[:keySize], fmt.Sprintf("%-8s", name))
		copy(buf[keySize:], padRight(card.Comment, valueSize))
		return buf
	case "END":
		copy(buf[:3], "END")
		return buf
	}

	copy(buf[:keySize], fmt.Sprintf("%-8s", card.Name))
	buf[keySize] = '='

	value := buf[keySize+1:] // 71 bytes, all spaces so far

	switch card.Kind {
	case CardBool:
		v := byte('F')
		if card.Bool {
			v = 'T'
		}
		value[20] = v // value[20] is FITS column 30 (same slot writeCardInt's last digit lands on)
	case CardInt:
		writeCardInt(value, card.Int)
	case CardString:
		writeCardString(value, card.Str)
	}

	if card.Comment != "" {
		writeCardComment(value, card.Comment)
	}

	return buf
}

// writeCardInt right-justifies the decimal digits of v so the last digit
// lands at value[20] (FITS column 30), sign immediately to its left, rest
// spaces.
func writeCardInt(value []byte, v int64) {
	neg := v < 0
	u := uint64(v)
	if neg {
		u = -u // also exact for math.MinInt64
	}
	digits := fmt.Sprintf("%d", u)
	end := 20 // inclusive index of last digit
	start := end - len(digits) + 1
	copy(value[start:end+1], digits)
	if neg {
		value[start-1] = '-'
	}
}

// writeCardString writes a single-quoted string value: opening quote at
// value[1], content (with embedded quotes doubled) following, closing
// quote no earlier than value[10] (FITS minimum quoted-string width),
// padded with trailing spaces up to that minimum.
func writeCardString(value []byte, s string) {
	escaped := escapeCardString(s)
	if len(escaped) > 68 { // value[1..69) max content before truncation at index 69
		escaped = escaped[:68]
	}
	value[1] = '\''
	copy(value[2:], escaped)
	end := 2 + len(escaped) // index of the closing quote, before padding
	minEnd := 10            // closing quote no earlier than value[10]
	for end < minEnd {
		value[end] = ' '
		end++
	}
	value[end] = '\''
}

func escapeCardString(s string) string {
	if !strings.ContainsRune(s, '\'') {
		return s
	}
	var out []byte
	for i := 0; i < len(s); i++ {
		out = append(out, s[i])
		if s[i] == '\'' {
			out = append(out, '\'')
		}
	}
	return string(out)
}

// writeCardComment appends " / <comment>" after whatever value occupies
// the front of value, truncating to fit the remaining 71-byte field.
func writeCardComment(value []byte, comment string) {
	// find end of written value (first run of trailing spaces, scanning
	// from a value-kind-appropriate start; callers only ever invoke this
	// once after writing exactly one of bool/int/string, or never for
	// CardNone, so a simple last-non-space scan is unambiguous here).
	end := len(value)
	for end > 0 && value[end-1] == ' ' {
		end--
	}
	text := " / " + comment
	avail := len(value) - end
	if avail <= 0 {
		return
	}
	if len(text) > avail {
		text = text[:avail]
	}
	copy(value[end:], text)
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	pad := make([]byte, n-len(s))
	for i := range pad {
		pad[i] = ' '
	}
	return s + string(pad)
}
