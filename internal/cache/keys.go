package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}

func RevokedTokenKey(tokenID string) string {
	return fmt.Sprintf("auth:revoked:%s", tokenID)
}

func DashboardStatsKey(userID uuid.UUID) string {
	return fmt.Sprintf("dashboard:stats:%s", userID)
}

func DashboardQuickStatsKey(userID uuid.UUID) string {
	return fmt.Sprintf("dashboard:quick:%s", userID)
}

// DashboardKeys lists every cached dashboard entry for a user.
func DashboardKeys(userID uuid.UUID) []string {
	return []string{DashboardStatsKey(userID), DashboardQuickStatsKey(userID)}
}
