package api

import (
	"context"
	"errors"

	"go.trai.ch/zerr"

	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/mutation"
	"github.com/huykn/querysync/session"
)

// QueryCache is the subset of the coordinator the service reads through.
type QueryCache interface {
	Query(ctx context.Context, endpoint string, args any, opts cache.QueryOptions) (*cache.Subscription, error)
	Fetch(ctx context.Context, endpoint string, args any, opts cache.QueryOptions) (any, error)
	Reset(ctx context.Context) error
}

// Mutator is the subset of the executor the service writes through.
type Mutator interface {
	Mutate(ctx context.Context, endpoint string, payload any) (mutation.Record, error)
	Forget(endpoint string)
}

// Credentials stores the session established by Login.
type Credentials interface {
	SetCredentials(ctx context.Context, token string, user session.User) error
	UpdateUser(ctx context.Context, user session.User) error
	Current() session.Session
	Clear(ctx context.Context) error
}

// Service is the typed entry point for every backend operation. Reads go
// through the cache, writes through the mutation executor.
type Service struct {
	cache       QueryCache
	mutator     Mutator
	credentials Credentials
}

// NewService creates a Service.
func NewService(c QueryCache, m Mutator, creds Credentials) *Service {
	return &Service{cache: c, mutator: m, credentials: creds}
}

// Watch subscribes to a query endpoint with the tags it provides.
func (s *Service) Watch(ctx context.Context, endpoint EndpointID, args any, forceRefetch bool) (*cache.Subscription, error) {
	ep, ok := Lookup(endpoint)
	if !ok || ep.Mutation {
		return nil, ErrUnknownEndpoint
	}
	return s.cache.Query(ctx, endpoint, args, cache.QueryOptions{
		Tags:                ep.Provides,
		ForceRefetchOnMount: forceRefetch,
	})
}

// query fetches endpoint and returns its typed value. On a failed refresh
// the last good value is returned alongside the error.
func query[T any](ctx context.Context, s *Service, endpoint EndpointID, args any, forceRefetch bool) (*T, error) {
	if v, ok := args.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	ep, ok := Lookup(endpoint)
	if !ok {
		return nil, ErrUnknownEndpoint
	}
	v, err := s.cache.Fetch(ctx, endpoint, args, cache.QueryOptions{
		Tags:                ep.Provides,
		ForceRefetchOnMount: forceRefetch,
	})
	if err != nil {
		s.endSessionOn401(ctx, ep, err)
	}
	typed, _ := v.(*T)
	if typed == nil && err == nil {
		return nil, zerr.With(ErrUnexpectedResponse, "endpoint", endpoint)
	}
	return typed, err
}

// mutate validates payload and runs it through the executor.
func mutate[T any](ctx context.Context, s *Service, endpoint EndpointID, payload any) (*T, error) {
	if v, ok := payload.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	rec, err := s.mutator.Mutate(ctx, endpoint, payload)
	if err != nil {
		if ep, ok := Lookup(endpoint); ok {
			s.endSessionOn401(ctx, ep, err)
		}
		return nil, err
	}
	typed, _ := rec.Result.(*T)
	return typed, nil
}

// endSessionOn401 logs out locally when the server rejects the token. It runs
// after the failed call has settled, so callers see the 401 rather than a
// reset entry.
func (s *Service) endSessionOn401(ctx context.Context, ep Endpoint, err error) {
	apiErr, ok := AsError(err)
	if !ok || !apiErr.Unauthorized() || ep.Public {
		return
	}
	_ = s.credentials.Clear(ctx)
	_ = s.cache.Reset(ctx)
}

// Login authenticates and stores the session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	resp, err := mutate[LoginResponse](ctx, s, EndpointLogin, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Token == "" {
		return nil, ErrNoToken
	}
	user := session.User{ID: resp.User.ID, Phone: resp.User.Phone}
	if cur := s.credentials.Current(); !cur.LoggedIn() || cur.User == nil || cur.User.ID != user.ID {
		// Whatever is cached belongs to the previous account.
		if err := s.cache.Reset(ctx); err != nil {
			return resp, err
		}
	}
	if err := s.credentials.SetCredentials(ctx, resp.Token, user); err != nil {
		return resp, err
	}
	return resp, nil
}

// Logout ends the session on the server, then locally. The local session and
// cache are cleared even when the server call fails.
func (s *Service) Logout(ctx context.Context) error {
	_, serverErr := mutate[MessageResponse](ctx, s, EndpointLogout, nil)
	clearErr := s.credentials.Clear(ctx)
	resetErr := s.cache.Reset(ctx)
	return errors.Join(serverErr, clearErr, resetErr)
}

// ChangePassword changes the account password.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) (*MessageResponse, error) {
	return mutate[MessageResponse](ctx, s, EndpointChangePassword, req)
}

// Me returns the current user. A changed profile is written back to the
// persisted session.
func (s *Service) Me(ctx context.Context, forceRefetch bool) (*GetUserResponse, error) {
	resp, err := query[GetUserResponse](ctx, s, EndpointMe, nil, forceRefetch)
	if err == nil {
		s.refreshUser(ctx, resp.User)
	}
	return resp, err
}

func (s *Service) refreshUser(ctx context.Context, u User) {
	cur := s.credentials.Current()
	if !cur.LoggedIn() {
		return
	}
	next := session.User{ID: u.ID, Phone: u.Phone, Name: u.Name, Type: u.Type}
	if next.Phone == "" && cur.User != nil {
		next.Phone = cur.User.Phone
	}
	if cur.User != nil && *cur.User == next {
		return
	}
	_ = s.credentials.UpdateUser(ctx, next)
}

// Notifications returns a page of notifications.
func (s *Service) Notifications(ctx context.Context, params NotificationListParams, forceRefetch bool) (*Page[Notification], error) {
	return query[Page[Notification]](ctx, s, EndpointNotifications, params, forceRefetch)
}

// MarkNotificationRead marks one notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, id ID) (*MessageResponse, error) {
	if id == "" {
		return nil, ValidationError("id", "is required")
	}
	return mutate[MessageResponse](ctx, s, EndpointMarkNotificationRead, NotificationParams{ID: id})
}

// MarkAllNotificationsRead marks every notification as read.
func (s *Service) MarkAllNotificationsRead(ctx context.Context) (*MessageResponse, error) {
	return mutate[MessageResponse](ctx, s, EndpointMarkAllNotificationsRead, nil)
}

// Channels lists the user's chat channels.
func (s *Service) Channels(ctx context.Context, forceRefetch bool) (*ChannelsResponse, error) {
	return query[ChannelsResponse](ctx, s, EndpointChannels, nil, forceRefetch)
}

// ChannelMessages returns a channel with its messages.
func (s *Service) ChannelMessages(ctx context.Context, uuid string, forceRefetch bool) (*ChannelMessagesResponse, error) {
	if uuid == "" {
		return nil, ValidationError("uuid", "is required")
	}
	return query[ChannelMessagesResponse](ctx, s, EndpointChannelMessages, ChannelParams{UUID: uuid}, forceRefetch)
}

// MarkMessageRead marks a chat message as read.
func (s *Service) MarkMessageRead(ctx context.Context, id int64) (*MarkMessageReadResponse, error) {
	if id <= 0 {
		return nil, ValidationError("id", "is required")
	}
	return mutate[MarkMessageReadResponse](ctx, s, EndpointMarkMessageRead, MessageParams{ID: id})
}

// Balance returns the money balance.
func (s *Service) Balance(ctx context.Context, forceRefetch bool) (*BalanceResponse, error) {
	return query[BalanceResponse](ctx, s, EndpointBalance, nil, forceRefetch)
}

// Coins returns the coin balance.
func (s *Service) Coins(ctx context.Context, forceRefetch bool) (*CoinsResponse, error) {
	return query[CoinsResponse](ctx, s, EndpointCoins, nil, forceRefetch)
}

// CoinRate returns the current coin to money rate.
func (s *Service) CoinRate(ctx context.Context, forceRefetch bool) (*CoinRateResponse, error) {
	return query[CoinRateResponse](ctx, s, EndpointCoinRate, nil, forceRefetch)
}

// CoinHistory returns a page of grouped coin history.
func (s *Service) CoinHistory(ctx context.Context, params HistoryParams, forceRefetch bool) (*HistoryResponse[HistoryBucket], error) {
	params.Type = ""
	return query[HistoryResponse[HistoryBucket]](ctx, s, EndpointCoinHistory, params, forceRefetch)
}

// MoneyHistoryGrouped returns a page of grouped money history.
func (s *Service) MoneyHistoryGrouped(ctx context.Context, params HistoryParams, forceRefetch bool) (*HistoryResponse[HistoryBucket], error) {
	return query[HistoryResponse[HistoryBucket]](ctx, s, EndpointMoneyHistoryGrouped, params, forceRefetch)
}

// MoneyHistory returns a page of individual money transactions.
func (s *Service) MoneyHistory(ctx context.Context, params HistoryParams, forceRefetch bool) (*Page[MoneyTransaction], error) {
	return query[Page[MoneyTransaction]](ctx, s, EndpointMoneyHistory, params, forceRefetch)
}

// RequestRefill submits a refill. Retrying after a failure with the same
// request reuses its idempotency key.
func (s *Service) RequestRefill(ctx context.Context, req RefillRequest) (*RefillResponse, error) {
	return mutate[RefillResponse](ctx, s, EndpointRefill, req)
}

// RequestLoan submits a loan request.
func (s *Service) RequestLoan(ctx context.Context, req LoanRequest) (*DataResponse, error) {
	return mutate[DataResponse](ctx, s, EndpointLoan, req)
}

// ConvertMoneyToCoins converts money into coins.
func (s *Service) ConvertMoneyToCoins(ctx context.Context, req ConvertRequest) (*ConvertResponse, error) {
	return mutate[ConvertResponse](ctx, s, EndpointConvert, req)
}

// RepayLoan submits a loan repayment.
func (s *Service) RepayLoan(ctx context.Context, req RepayRequest) (*DataResponse, error) {
	return mutate[DataResponse](ctx, s, EndpointRepayLoan, req)
}

// CloseForm discards the retained idempotency key of endpoint, so the next
// submission is treated as new even with identical input.
func (s *Service) CloseForm(endpoint EndpointID) {
	s.mutator.Forget(endpoint)
}

var (
	// ErrNoToken is returned when a login response carries no token.
	ErrNoToken = errors.New("login response has no token")

	// ErrUnexpectedResponse is returned when a cached value has the wrong type.
	ErrUnexpectedResponse = errors.New("unexpected response type")
)
