package gateway

import "strings"

var settledStatuses = map[string]struct{}{
	"approved":  {},
	"paid":      {},
	"completed": {},
	"success":   {},
}

var failedStatuses = map[string]struct{}{
	"cancelled": {},
	"canceled":  {},
	"failed":    {},
	"expired":   {},
}

// IsSettled 网关状态是否表示已到账
func IsSettled(status string) bool {
	_, ok := settledStatuses[normalize(status)]
	return ok
}

// IsFailed 网关状态是否表示终止失败
func IsFailed(status string) bool {
	_, ok := failedStatuses[normalize(status)]
	return ok
}

func normalize(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
