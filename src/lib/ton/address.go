package ton

import "regexp"

// user-friendly addresses: bounceable (EQ) or non-bounceable (UQ) prefix + 46 base64url chars
var addressPattern = regexp.MustCompile(`^(UQ|EQ)[A-Za-z0-9_-]{46}$`)

// ValidateAddress reports whether addr is a well-formed TON user-friendly address.
func ValidateAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}
