package enums

import "fmt"

// QuotaType names a rate-limited generation action.
type QuotaType string

const (
	QuotaTypeReply QuotaType = "reply"
	QuotaTypeTweet QuotaType = "tweet"
)

var validQuotaTypes = []QuotaType{
	QuotaTypeReply,
	QuotaTypeTweet,
}

// String implements fmt.Stringer.
func (q QuotaType) String() string {
	return string(q)
}

// IsValid reports whether the value is known.
func (q QuotaType) IsValid() bool {
	for _, candidate := range validQuotaTypes {
		if candidate == q {
			return true
		}
	}
	return false
}

// ParseQuotaType converts raw input into a QuotaType.
func ParseQuotaType(value string) (QuotaType, error) {
	for _, candidate := range validQuotaTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quota type %q", value)
}
