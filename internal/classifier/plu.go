package classifier

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bcmk/bkcoupons/internal/coupons"
)

// ErrInvalidID is returned for records whose id is not decimal
var ErrInvalidID = errors.New("invalid coupon id")

var (
	shortPLURegexp = regexp.MustCompile(`^[A-Za-z]+\d+[A-Za-z]?$`)
	pluRegexp      = regexp.MustCompile(`^([A-Za-z]+)(\d+)[A-Za-z]?$`)
)

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FixIDAndPLU swaps id and PLU when upstream mixed them up
// and rejects records with non-decimal ids
func FixIDAndPLU(id, plu string) (string, string, error) {
	id = strings.TrimSpace(id)
	plu = strings.TrimSpace(plu)
	if isDigits(plu) && shortPLURegexp.MatchString(id) {
		id, plu = plu, id
	}
	if !isDigits(id) {
		return "", "", fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return id, plu, nil
}

// PLULetter returns the single leading letter of a PLU and its number.
// It returns an empty letter for PLUs of other shapes.
func PLULetter(plu string) (string, int) {
	m := pluRegexp.FindStringSubmatch(plu)
	if m == nil || len(m[1]) != 1 {
		return "", 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0
	}
	return strings.ToUpper(m[1]), n
}

// ProvisionalType returns the type of a store coupon before paper detection
func ProvisionalType(plu string, appLetters map[string]bool) coupons.Type {
	if plu == "" || isDigits(plu) {
		return coupons.TypeOnlineOnly
	}
	if letter, _ := PLULetter(plu); letter != "" && appLetters[letter] {
		return coupons.TypeAppSameChar
	}
	return coupons.TypePaperUnsafe
}
