package api

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ID is an identifier the backend sends either as a number or a string.
type ID string

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Page is the backend's pagination envelope.
type Page[T any] struct {
	CurrentPage int     `json:"current_page"`
	Data        []T     `json:"data"`
	LastPage    int     `json:"last_page"`
	PerPage     int     `json:"per_page"`
	Total       int     `json:"total"`
	NextPageURL *string `json:"next_page_url"`
}

// MessageResponse is the minimal acknowledgement most mutations return.
type MessageResponse struct {
	Message string `json:"message"`
}

// Auth

type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type LoginUser struct {
	ID    int64  `json:"id"`
	Phone string `json:"phone"`
}

type LoginResponse struct {
	Message string    `json:"message"`
	User    LoginUser `json:"user"`
	Token   string    `json:"token"`
}

type ChangePasswordRequest struct {
	CurrentPassword         string `json:"current_password"`
	NewPassword             string `json:"new_password"`
	NewPasswordConfirmation string `json:"new_password_confirmation"`
}

// User

type User struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Email           *string         `json:"email"`
	Phone           string          `json:"phone"`
	Type            string          `json:"type"`
	Coins           int64           `json:"coins"`
	MoneyBalance    decimal.Decimal `json:"money_balance"`
	CoinBalance     int64           `json:"coin_balance"`
	MoneyDebt       decimal.Decimal `json:"money_debt"`
	NetMoney        decimal.Decimal `json:"net_money"`
	ProfilePhotoURL *string         `json:"profile_photo_url,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

type GetUserResponse struct {
	OK        bool   `json:"ok"`
	WebCheck  bool   `json:"web_check"`
	WebUserID int64  `json:"web_user_id"`
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
}

// Notifications

type Notification struct {
	ID        ID              `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title,omitempty"`
	Body      string          `json:"body,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ReadAt    *string         `json:"read_at"`
	CreatedAt string          `json:"created_at"`
}

// Chat

type ChatUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type Game struct {
	ID   int64  `json:"id"`
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

type Message struct {
	ID        int64    `json:"id"`
	ChannelID int64    `json:"channel_id"`
	SenderID  int64    `json:"sender_id"`
	Body      string   `json:"body"`
	ReadAt    *string  `json:"read_at"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Sender    ChatUser `json:"sender"`
}

type Channel struct {
	ID          int64    `json:"id"`
	UUID        string   `json:"uuid"`
	GameID      int64    `json:"game_id"`
	UserID      int64    `json:"user_id"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	Game        Game     `json:"game"`
	User        ChatUser `json:"user"`
	LastMessage *Message `json:"last_message"`
}

type ChannelsResponse struct {
	CurrentPage int       `json:"current_page"`
	Data        []Channel `json:"data"`
	Total       int       `json:"total"`
}

type ChannelMessagesResponse struct {
	Channel  Channel `json:"channel"`
	Messages struct {
		CurrentPage int       `json:"current_page"`
		Data        []Message `json:"data"`
		Total       int       `json:"total"`
	} `json:"messages"`
}

type MarkMessageReadResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Wallet

type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type CoinsResponse struct {
	Coins int64 `json:"coins"`
}

type CoinRateResponse struct {
	CoinToMoneyRate decimal.Decimal `json:"coin_to_money_rate"`
}

// HistoryBucket is one aggregated interval of coin or money history.
type HistoryBucket struct {
	Bucket             string          `json:"bucket"`
	NetAmount          decimal.Decimal `json:"net_amount"`
	FirstBalanceBefore decimal.Decimal `json:"first_balance_before"`
	LastBalanceAfter   decimal.Decimal `json:"last_balance_after"`
	TxCount            int             `json:"tx_count"`
}

// HistoryResponse wraps a page of history with the filter the server applied.
type HistoryResponse[T any] struct {
	UserID   int64   `json:"user_id"`
	Interval string  `json:"interval"`
	From     *string `json:"from"`
	To       *string `json:"to"`
	Type     *string `json:"type,omitempty"`
	Data     Page[T] `json:"data"`
}

// MoneyTransaction is one row of the ungrouped money history.
type MoneyTransaction struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Note          string          `json:"note"`
	CreatedAt     string          `json:"created_at"`
}

type RefillRecord struct {
	ID             int64               `json:"id"`
	WalletType     string              `json:"wallet_type"`
	Status         string              `json:"status"`
	RequestedBy    int64               `json:"requested_by"`
	TargetUserID   int64               `json:"target_user_id"`
	CoinsAmount    *int64              `json:"coins_amount"`
	MoneyAmount    decimal.NullDecimal `json:"money_amount"`
	Note           string              `json:"note"`
	IdempotencyKey string              `json:"idempotency_key"`
	ApprovedBy     *int64              `json:"approved_by"`
	ApprovedAt     *string             `json:"approved_at"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

type RefillResponse struct {
	Message string `json:"message"`
	Data    struct {
		Idempotent   bool         `json:"idempotent"`
		AutoApproved bool         `json:"auto_approved"`
		Request      RefillRecord `json:"request"`
	} `json:"data"`
}

type ConvertResponse struct {
	Message string `json:"message"`
	Data    struct {
		OK            bool            `json:"ok"`
		Idempotent    bool            `json:"idempotent"`
		TransactionID int64           `json:"transaction_id"`
		MoneySpent    decimal.Decimal `json:"money_spent"`
		CoinsAdded    decimal.Decimal `json:"coins_added"`
		RateUsed      decimal.Decimal `json:"rate_used"`
		MoneyBefore   decimal.Decimal `json:"money_before"`
		MoneyAfter    decimal.Decimal `json:"money_after"`
		CoinsBefore   decimal.Decimal `json:"coins_before"`
		CoinsAfter    decimal.Decimal `json:"coins_after"`
	} `json:"data"`
}

// DataResponse is a mutation acknowledgement with an opaque payload.
type DataResponse struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}
