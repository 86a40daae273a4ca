package cellfeed

// address.go parses cell location labels.
//
// A label is one-or-more letters followed by one-or-more digits ("B7",
// "aa12"). Letters are case-insensitive and normalized to uppercase; the
// digits are the 1-based row number as labeled by the source feed.

import "strconv"

// ParseAddress splits a cell location label into its column letters and row
// number. The column is uppercased. Returns an *AddressError if the label
// does not match the letters-then-digits pattern or the row number is below 1.
func ParseAddress(label string) (column string, row int, err error) {
	i := 0
	for i < len(label) && isLetter(label[i]) {
		i++
	}
	if i == 0 || i == len(label) {
		return "", 0, &AddressError{Label: label}
	}
	for j := i; j < len(label); j++ {
		if label[j] < '0' || label[j] > '9' {
			return "", 0, &AddressError{Label: label}
		}
	}

	row, convErr := strconv.Atoi(label[i:])
	if convErr != nil || row < 1 {
		return "", 0, &AddressError{Label: label}
	}

	return upper(label[:i]), row, nil
}

// FormatAddress is the inverse of ParseAddress: it joins a column label and a
// row number back into a location label.
func FormatAddress(column string, row int) string {
	return upper(column) + strconv.Itoa(row)
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// upper uppercases ASCII letters. Labels are plain ASCII, so this avoids the
// locale handling of strings.ToUpper.
func upper(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
