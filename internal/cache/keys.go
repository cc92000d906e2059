package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func AccountLeaseKey(accountID uuid.UUID) string {
	return fmt.Sprintf("account:lease:%s", accountID)
}

func ReportStatusKey(reportID uuid.UUID) string {
	return fmt.Sprintf("report:status:%s", reportID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
