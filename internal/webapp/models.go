package webapp

// EarningRequest is posted by the WebApp when a user earns coins in game.
type EarningRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Amount     int64  `json:"amount"`
	EventID    string `json:"event_id,omitempty"`
}

type EarningResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Balance int64  `json:"balance,omitempty"`
}

type BalanceResponse struct {
	TelegramID int64 `json:"telegram_id"`
	Balance    int64 `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
}
