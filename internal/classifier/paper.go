package classifier

import (
	"sort"
	"strings"
	"time"

	"github.com/bcmk/bkcoupons/internal/coupons"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

// UnsafeExpiryDescription is attached to paper coupons with a placeholder expiry
const UnsafeExpiryDescription = "Ablaufdatum unbekannt, vorläufig bis heute gültig"

// reservedNumber is missing in most booklets
const reservedNumber = 47

var paperBucketSizes = map[int]bool{46: true, 47: true}

// PaperConfig represents paper coupon settings
type PaperConfig struct {
	// Expiry maps a PLU letter to the last day its booklet is valid
	Expiry map[string]time.Time
	// LetterCorrections relabels buckets, e.g. F to A
	LetterCorrections map[string]string
}

// PaperDetection represents a bucket promoted to paper coupons
type PaperDetection struct {
	Letter        string
	Count         int
	Authoritative bool
	Missing       []int
}

// DetectPaperCoupons promotes buckets of store coupons sharing a PLU letter to paper coupons.
// Candidates are modified in place.
func DetectPaperCoupons(
	candidates []*coupons.Coupon,
	appLetters map[string]bool,
	cfg PaperConfig,
	now time.Time,
	loc *time.Location,
) []PaperDetection {
	buckets := map[string][]*coupons.Coupon{}
	for _, c := range candidates {
		if c.Type == coupons.TypeApp {
			continue
		}
		if letter, _ := PLULetter(c.PLU); letter != "" {
			buckets[letter] = append(buckets[letter], c)
		}
	}

	taken := map[string]bool{}
	for l := range appLetters {
		taken[l] = true
	}
	booklets := map[string][]*coupons.Coupon{}
	for letter, bucket := range buckets {
		taken[letter] = true
		if !paperBucketSizes[len(bucket)] {
			cmdlib.Ldbg("letter %s has %d coupons, not a paper booklet", letter, len(bucket))
			continue
		}
		if appLetters[letter] {
			cmdlib.Ldbg("letter %s is used by app coupons", letter)
			continue
		}
		booklets[letter] = bucket
	}

	applyLetterCorrections(booklets, taken, cfg, now, loc)

	letters := make([]string, 0, len(booklets))
	for l := range booklets {
		letters = append(letters, l)
	}
	sort.Strings(letters)

	var result []PaperDetection
	for _, letter := range letters {
		bucket := booklets[letter]
		detection := PaperDetection{Letter: letter, Count: len(bucket)}
		expiry, authoritative := configuredExpiry(cfg, letter, now, loc)
		detection.Authoritative = authoritative
		for _, c := range bucket {
			c.Type = coupons.TypePaper
			c.TimestampExpire2 = 0
			if authoritative {
				c.TimestampExpire = expiry
				c.IsUnsafeExpiredate = false
				if c.Description == UnsafeExpiryDescription {
					c.Description = ""
				}
			} else {
				c.TimestampExpire = PlaceholderExpiry(now, loc)
				c.IsUnsafeExpiredate = true
				c.Description = UnsafeExpiryDescription
			}
		}
		detection.Missing = missingNumbers(bucket)
		switch {
		case len(detection.Missing) == 0:
		case len(detection.Missing) == 1 && detection.Missing[0] == reservedNumber:
			cmdlib.Ldbg("paper letter %s misses only the reserved number", letter)
		default:
			cmdlib.Linf("paper letter %s misses numbers %v", letter, detection.Missing)
		}
		if !authoritative {
			cmdlib.Linf("paper letter %s has no configured expiry, using a placeholder", letter)
		}
		result = append(result, detection)
	}
	return result
}

// applyLetterCorrections relabels paper booklets,
// taken holds every letter seen among candidates and app coupons
func applyLetterCorrections(
	booklets map[string][]*coupons.Coupon,
	taken map[string]bool,
	cfg PaperConfig,
	now time.Time,
	loc *time.Location,
) {
	froms := make([]string, 0, len(cfg.LetterCorrections))
	for f := range cfg.LetterCorrections {
		froms = append(froms, f)
	}
	sort.Strings(froms)
	for _, from := range froms {
		to := strings.ToUpper(cfg.LetterCorrections[from])
		from = strings.ToUpper(from)
		bucket, ok := booklets[from]
		if !ok || from == to {
			continue
		}
		if taken[to] {
			cmdlib.Linf("cannot relabel letter %s to %s, target exists", from, to)
			continue
		}
		if _, ok := configuredExpiry(cfg, to, now, loc); !ok {
			cmdlib.Linf("cannot relabel letter %s to %s, target has no configured expiry", from, to)
			continue
		}
		for _, c := range bucket {
			c.PLU = to + c.PLU[len(from):]
		}
		booklets[to] = bucket
		delete(booklets, from)
		taken[to] = true
		cmdlib.Linf("relabeled letter %s to %s", from, to)
	}
}

// configuredExpiry returns the configured expiry of a letter if it is in the future
func configuredExpiry(cfg PaperConfig, letter string, now time.Time, loc *time.Location) (int64, bool) {
	date, ok := cfg.Expiry[letter]
	if !ok {
		return 0, false
	}
	expiry := EndOfDay(date, loc)
	if !expiry.After(now) {
		return 0, false
	}
	return expiry.Unix(), true
}

func missingNumbers(bucket []*coupons.Coupon) []int {
	present := map[int]bool{}
	for _, c := range bucket {
		_, n := PLULetter(c.PLU)
		present[n] = true
	}
	var missing []int
	for i := 1; i <= reservedNumber; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
