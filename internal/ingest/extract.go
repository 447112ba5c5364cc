package ingest

import (
	"regexp"
	"strings"
)

var roomNumberPattern = regexp.MustCompile(`\b\d{3}\b`)

// ExtractRoomNumbers returns every three-digit token in pages whose leading
// digit is one of floors, deduplicated in first-seen order. Pages are joined
// with a space so a number never spans a page break.
func ExtractRoomNumbers(pages []string, floors []int) []string {
	valid := make(map[byte]bool, len(floors))
	for _, level := range floors {
		if level >= 1 && level <= 9 {
			valid[byte('0'+level)] = true
		}
	}

	text := strings.Join(pages, " ")
	seen := make(map[string]bool)
	var numbers []string
	for _, match := range roomNumberPattern.FindAllString(text, -1) {
		if !valid[match[0]] || seen[match] {
			continue
		}
		seen[match] = true
		numbers = append(numbers, match)
	}
	return numbers
}
