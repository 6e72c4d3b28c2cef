package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

func parseSnowflakeID(field, value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return parsed, nil
}
