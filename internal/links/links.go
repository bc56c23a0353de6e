package links

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BotLink is the invitation link a user shares; the bot receives the user's
// ID as the /start parameter.
func BotLink(botUsername string, telegramID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", strings.TrimPrefix(botUsername, "@"), telegramID)
}

// WebAppLink opens the game with the user's ID and current balance.
func WebAppLink(baseURL string, telegramID int64, balance int64) string {
	q := url.Values{}
	q.Set("start", strconv.FormatInt(telegramID, 10))
	q.Set("totalCoins", strconv.FormatInt(balance, 10))
	return strings.TrimRight(baseURL, "/") + "/?" + q.Encode()
}

// ParseStartParam extracts a referrer ID from "/start <id>". Anything that is
// not a positive integer means no referrer.
func ParseStartParam(text string) (int64, bool) {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(parts[1], "ref_"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
