package transaction

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FallbackPrefix starts every time-based voucher token.
const FallbackPrefix = "V"

// NextVoucher returns the voucher that follows the highest "{year}-NNN"
// number in existing. Vouchers of other years and suffixes that are not
// plain digits are ignored. The sequence is padded to three digits and
// grows past 999 without truncation.
func NextVoucher(year string, existing []string) string {
	return FormatVoucher(year, MaxSequence(year, existing)+1)
}

// MaxSequence returns the highest sequence number used in year, or 0.
func MaxSequence(year string, existing []string) int64 {
	var highest int64
	for _, v := range existing {
		y, seq, ok := ParseVoucher(v)
		if !ok || y != year {
			continue
		}
		highest = max(highest, seq)
	}
	return highest
}

// FormatVoucher renders a year-scoped voucher number.
func FormatVoucher(year string, seq int64) string {
	return fmt.Sprintf("%s-%03d", year, seq)
}

// ParseVoucher splits a "{year}-{seq}" voucher. The year is everything
// before the last dash.
func ParseVoucher(v string) (year string, seq int64, ok bool) {
	i := strings.LastIndexByte(v, '-')
	if i <= 0 || i == len(v)-1 {
		return "", 0, false
	}
	suffix := v[i+1:]
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return "", 0, false
		}
	}
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return v[:i], n, true
}

// FallbackVoucher returns the time-based token used when the ledger cannot
// be scanned. It is very likely unique but not sequential.
func FallbackVoucher(now time.Time) string {
	return FallbackPrefix + strconv.FormatInt(now.UnixMilli(), 10)
}

// IsFallback reports whether v is a time-based token.
func IsFallback(v string) bool {
	if !strings.HasPrefix(v, FallbackPrefix) || len(v) == len(FallbackPrefix) {
		return false
	}
	_, err := strconv.ParseInt(v[len(FallbackPrefix):], 10, 64)
	return err == nil
}

// SequenceName is the counter name used with a store.Sequencer.
func SequenceName(year string) string { return "voucher:" + year }
