package api

import (
	"encoding/json"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet types accepted by the refill endpoint.
const (
	WalletMoney = "money"
	WalletCoins = "coins"
)

// History intervals.
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
)

const dateLayout = "2006-01-02"

var phonePattern = regexp.MustCompile(`^\+?\d+$`)

// pathParamer fills {placeholders} of an endpoint path.
type pathParamer interface {
	pathParams() map[string]string
}

// queryParamer contributes URL query parameters.
type queryParamer interface {
	queryValues() url.Values
}

// jsonBodier overrides the JSON body sent for a payload.
type jsonBodier interface {
	jsonBody() any
}

// multipartBodier writes a multipart/form-data body.
type multipartBodier interface {
	writeMultipart(w *multipart.Writer) error
}

// Validator is implemented by inputs that can be checked before sending.
type Validator interface {
	Validate() error
}

// ParseAmount parses a user-entered amount for field. Non-numeric input is a
// validation error.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ValidationError(field, "must be a number")
	}
	return d, nil
}

func validatePositive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return ValidationError(field, "must be greater than zero")
	}
	return nil
}

// Photo is an image attached to a multipart mutation.
type Photo struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// normalized returns the photo with a default name and a canonical JPEG type.
func (p Photo) normalized(defaultName string) Photo {
	switch p.ContentType {
	case "", "image/jpg":
		p.ContentType = "image/jpeg"
	}
	if p.Filename == "" {
		p.Filename = defaultName
	}
	return p
}

func writePhoto(w *multipart.Writer, p Photo) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="`+escapeQuotes(p.Filename)+`"`)
	h.Set("Content-Type", p.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(p.Data)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func writeFields(w *multipart.Writer, fields [][2]string) error {
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks phone and password format.
func (r LoginRequest) Validate() error {
	if len(r.Phone) < 7 {
		return ValidationError("phone", "phone number is too short")
	}
	if !phonePattern.MatchString(r.Phone) {
		return ValidationError("phone", "phone must contain only digits and optional leading +")
	}
	if len(r.Password) < 6 {
		return ValidationError("password", "password must be at least 6 characters")
	}
	return nil
}

// Validate checks the new password and its confirmation.
func (r ChangePasswordRequest) Validate() error {
	if r.CurrentPassword == "" {
		return ValidationError("current_password", "is required")
	}
	if len(r.NewPassword) < 6 {
		return ValidationError("new_password", "password must be at least 6 characters")
	}
	if r.NewPassword != r.NewPasswordConfirmation {
		return ValidationError("new_password_confirmation", "new passwords do not match")
	}
	return nil
}

// NotificationListParams selects a page of notifications.
type NotificationListParams struct {
	Page    int `json:"page,omitempty"`
	PerPage int `json:"per_page,omitempty"`
}

func (p NotificationListParams) queryValues() url.Values {
	v := url.Values{}
	setInt(v, "page", p.Page)
	setInt(v, "per_page", p.PerPage)
	return v
}

func (p NotificationListParams) withPage(page int) NotificationListParams {
	p.Page = page
	return p
}

// NotificationParams addresses a single notification.
type NotificationParams struct {
	ID ID `json:"id"`
}

func (p NotificationParams) pathParams() map[string]string {
	return map[string]string{"id": string(p.ID)}
}

func (p NotificationParams) jsonBody() any { return nil }

// ChannelParams addresses a chat channel by UUID.
type ChannelParams struct {
	UUID string `json:"uuid"`
}

func (p ChannelParams) pathParams() map[string]string {
	return map[string]string{"uuid": p.UUID}
}

// MessageParams addresses a chat message.
type MessageParams struct {
	ID int64 `json:"id"`
}

func (p MessageParams) pathParams() map[string]string {
	return map[string]string{"id": strconv.FormatInt(p.ID, 10)}
}

func (p MessageParams) jsonBody() any { return nil }

// HistoryParams filters coin and money history. Type only applies to money
// history.
type HistoryParams struct {
	Interval string `json:"interval,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Type     string `json:"type,omitempty"`
	Page     int    `json:"page,omitempty"`
	PerPage  int    `json:"per_page,omitempty"`
}

func (p HistoryParams) queryValues() url.Values {
	v := url.Values{}
	setString(v, "interval", p.Interval)
	setString(v, "from", p.From)
	setString(v, "to", p.To)
	setString(v, "type", p.Type)
	setInt(v, "page", p.Page)
	setInt(v, "per_page", p.PerPage)
	return v
}

func (p HistoryParams) withPage(page int) HistoryParams {
	p.Page = page
	return p
}

// Validate checks the interval and the YYYY-MM-DD date range.
func (p HistoryParams) Validate() error {
	switch p.Interval {
	case "", IntervalDaily, IntervalWeekly, IntervalMonthly:
	default:
		return ValidationError("interval", "must be daily, weekly or monthly")
	}

	var from, to time.Time
	var err error
	if p.From != "" {
		if from, err = time.Parse(dateLayout, p.From); err != nil {
			return ValidationError("from", "must be a YYYY-MM-DD date")
		}
	}
	if p.To != "" {
		if to, err = time.Parse(dateLayout, p.To); err != nil {
			return ValidationError("to", "must be a YYYY-MM-DD date")
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return ValidationError("from", "must not be after to")
	}
	return nil
}

// RefillRequest asks for a money or coins top-up, optionally with a receipt.
type RefillRequest struct {
	WalletType   string          `json:"wallet_type"`
	TargetUserID int64           `json:"target_user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note,omitempty"`
	Photo        *Photo          `json:"photo,omitempty"`
}

// Validate checks wallet type, target and amount.
func (r RefillRequest) Validate() error {
	if r.WalletType != WalletMoney && r.WalletType != WalletCoins {
		return ValidationError("wallet_type", "must be money or coins")
	}
	if r.TargetUserID <= 0 {
		return ValidationError("target_user_id", "is required")
	}
	if err := validatePositive("amount", r.Amount); err != nil {
		return err
	}
	if r.WalletType == WalletCoins && !r.Amount.IsInteger() {
		return ValidationError("amount", "coins must be a whole number")
	}
	return nil
}

func (r RefillRequest) writeMultipart(w *multipart.Writer) error {
	amountField := "money_amount"
	if r.WalletType == WalletCoins {
		amountField = "coins_amount"
	}
	note := r.Note
	if note == "" {
		note = "Refill " + r.WalletType + " from Mobile"
	}
	err := writeFields(w, [][2]string{
		{"wallet_type", r.WalletType},
		{"target_user_id", strconv.FormatInt(r.TargetUserID, 10)},
		{amountField, r.Amount.String()},
		{"note", note},
	})
	if err != nil {
		return err
	}
	if r.Photo != nil {
		return writePhoto(w, r.Photo.normalized("refill.jpg"))
	}
	return nil
}

// LoanRequest asks to borrow money.
type LoanRequest struct {
	BorrowerUserID int64           `json:"borrower_user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note,omitempty"`
}

// Validate checks borrower and amount.
func (r LoanRequest) Validate() error {
	if r.BorrowerUserID <= 0 {
		return ValidationError("borrower_user_id", "is required")
	}
	return validatePositive("amount", r.Amount)
}

func (r LoanRequest) jsonBody() any {
	note := r.Note
	if note == "" {
		note = "Loan request from Mobile"
	}
	return map[string]string{
		"borrower_user_id": strconv.FormatInt(r.BorrowerUserID, 10),
		"amount":           r.Amount.String(),
		"note":             note,
	}
}

// ConvertRequest converts money into coins at the current rate.
type ConvertRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Validate checks the amount.
func (r ConvertRequest) Validate() error {
	return validatePositive("amount", r.Amount)
}

func (r ConvertRequest) jsonBody() any {
	return map[string]json.Number{"amount": json.Number(r.Amount.String())}
}

// RepayRequest submits a loan repayment with its mandatory receipt photo.
type RepayRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
	Photo  *Photo          `json:"photo,omitempty"`
}

// Validate checks the amount and that a receipt photo is attached.
func (r RepayRequest) Validate() error {
	if err := validatePositive("amount", r.Amount); err != nil {
		return err
	}
	if r.Photo == nil || len(r.Photo.Data) == 0 {
		return ValidationError("photo", "a receipt photo is required")
	}
	return nil
}

func (r RepayRequest) writeMultipart(w *multipart.Writer) error {
	note := r.Note
	if note == "" {
		note = "Loan repayment from Mobile"
	}
	err := writeFields(w, [][2]string{
		{"amount", r.Amount.String()},
		{"note", note},
	})
	if err != nil {
		return err
	}
	if r.Photo == nil {
		return ValidationError("photo", "a receipt photo is required")
	}
	return writePhoto(w, r.Photo.normalized("repayment.jpg"))
}

func setString(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func setInt(v url.Values, key string, value int) {
	if value > 0 {
		v.Set(key, strconv.Itoa(value))
	}
}
