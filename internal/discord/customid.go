package discord

import (
	"fmt"
	"strconv"
	"strings"
)

const customIDPrefix = "giftdrop"

// slotCustomID encodes a drop id and slot index into a button custom id.
func slotCustomID(dropID string, slot int) string {
	return fmt.Sprintf("%s:%s:%d", customIDPrefix, dropID, slot)
}

// parseSlotCustomID decodes a button custom id back into its drop id and
// slot index. The ok result is false for custom ids this bot did not mint.
func parseSlotCustomID(customID string) (dropID string, slot int, ok bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != customIDPrefix || parts[1] == "" {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, false
	}
	return parts[1], n, true
}
