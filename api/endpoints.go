package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/huykn/querysync/mutation"
)

// EndpointID names a backend operation.
type EndpointID = string

const (
	EndpointLogin                    EndpointID = "login"
	EndpointLogout                   EndpointID = "logout"
	EndpointChangePassword           EndpointID = "changePassword"
	EndpointMe                       EndpointID = "getUserData"
	EndpointNotifications            EndpointID = "getNotificationList"
	EndpointMarkNotificationRead     EndpointID = "markNotificationAsRead"
	EndpointMarkAllNotificationsRead EndpointID = "markAllNotificationsAsRead"
	EndpointChannels                 EndpointID = "getChannels"
	EndpointChannelMessages          EndpointID = "getChannelMessages"
	EndpointMarkMessageRead          EndpointID = "markMessageAsRead"
	EndpointBalance                  EndpointID = "getWalletBalance"
	EndpointCoins                    EndpointID = "getCoinsData"
	EndpointCoinHistory              EndpointID = "getCoinHistory"
	EndpointMoneyHistory             EndpointID = "getMoneyHistory"
	EndpointMoneyHistoryGrouped      EndpointID = "getMoneyHistoryGrouped"
	EndpointRefill                   EndpointID = "requestRefill"
	EndpointLoan                     EndpointID = "requestLoan"
	EndpointConvert                  EndpointID = "convertMoneyToCoin"
	EndpointCoinRate                 EndpointID = "getCoinsRate"
	EndpointRepayLoan                EndpointID = "repayLoan"
)

// Cache tags.
const (
	TagNotifications = "Notifications"
	TagUser          = "User"
	TagWallet        = "Wallet"
	TagCoins         = "Coins"
	TagHistory       = "History"
	TagChat          = "Chat"
)

// Endpoint describes how an operation maps onto HTTP and onto the cache.
type Endpoint struct {
	ID     EndpointID
	Method string
	Path   string // may contain {name} placeholders

	// Mutation endpoints go through the executor; the rest are queries.
	Mutation bool
	// Public endpoints send no token and do not end the session on 401.
	Public      bool
	Provides    []string
	Invalidates []string
	Idempotent  bool
	Multipart   bool

	decode func(body []byte) (any, error)
}

func decodeAs[T any](body []byte) (any, error) {
	v := new(T)
	if len(body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, err
	}
	return v, nil
}

var walletTags = []string{TagWallet, TagCoins, TagUser, TagHistory}

var registry = map[EndpointID]Endpoint{
	EndpointLogin: {
		ID: EndpointLogin, Method: http.MethodPost, Path: "/login",
		Mutation: true, Public: true,
		decode: decodeAs[LoginResponse],
	},
	EndpointLogout: {
		ID: EndpointLogout, Method: http.MethodPost, Path: "/logout",
		Mutation: true,
		decode:   decodeAs[MessageResponse],
	},
	EndpointChangePassword: {
		ID: EndpointChangePassword, Method: http.MethodPost, Path: "/change-password",
		Mutation: true,
		decode:   decodeAs[MessageResponse],
	},
	EndpointMe: {
		ID: EndpointMe, Method: http.MethodGet, Path: "/me",
		Provides: []string{TagUser},
		decode:   decodeAs[GetUserResponse],
	},
	EndpointNotifications: {
		ID: EndpointNotifications, Method: http.MethodGet, Path: "/notifications",
		Provides: []string{TagNotifications},
		decode:   decodeAs[Page[Notification]],
	},
	EndpointMarkNotificationRead: {
		ID: EndpointMarkNotificationRead, Method: http.MethodPost, Path: "/notifications/{id}/read",
		Mutation: true, Invalidates: []string{TagNotifications},
		decode: decodeAs[MessageResponse],
	},
	EndpointMarkAllNotificationsRead: {
		ID: EndpointMarkAllNotificationsRead, Method: http.MethodPost, Path: "/notifications/read-all",
		Mutation: true, Invalidates: []string{TagNotifications},
		decode: decodeAs[MessageResponse],
	},
	EndpointChannels: {
		ID: EndpointChannels, Method: http.MethodGet, Path: "/chat/channels",
		Provides: []string{TagChat},
		decode:   decodeAs[ChannelsResponse],
	},
	EndpointChannelMessages: {
		ID: EndpointChannelMessages, Method: http.MethodGet, Path: "/chat/channels/{uuid}",
		Provides: []string{TagChat},
		decode:   decodeAs[ChannelMessagesResponse],
	},
	EndpointMarkMessageRead: {
		ID: EndpointMarkMessageRead, Method: http.MethodPatch, Path: "/chat/messages/{id}/read",
		Mutation: true, Invalidates: []string{TagChat},
		decode: decodeAs[MarkMessageReadResponse],
	},
	EndpointBalance: {
		ID: EndpointBalance, Method: http.MethodGet, Path: "/money/me",
		Provides: []string{TagWallet},
		decode:   decodeAs[BalanceResponse],
	},
	EndpointCoins: {
		ID: EndpointCoins, Method: http.MethodGet, Path: "/coins/me",
		Provides: []string{TagCoins},
		decode:   decodeAs[CoinsResponse],
	},
	EndpointCoinHistory: {
		ID: EndpointCoinHistory, Method: http.MethodGet, Path: "/coins/history",
		Provides: []string{TagCoins, TagHistory},
		decode:   decodeAs[HistoryResponse[HistoryBucket]],
	},
	EndpointMoneyHistory: {
		ID: EndpointMoneyHistory, Method: http.MethodGet, Path: "/money/history",
		Provides: []string{TagWallet, TagHistory},
		decode:   decodeAs[Page[MoneyTransaction]],
	},
	EndpointMoneyHistoryGrouped: {
		ID: EndpointMoneyHistoryGrouped, Method: http.MethodGet, Path: "/money/historyGrouped",
		Provides: []string{TagWallet, TagHistory},
		decode:   decodeAs[HistoryResponse[HistoryBucket]],
	},
	EndpointRefill: {
		ID: EndpointRefill, Method: http.MethodPost, Path: "/refills/request",
		Mutation: true, Idempotent: true, Multipart: true, Invalidates: walletTags,
		decode: decodeAs[RefillResponse],
	},
	EndpointLoan: {
		ID: EndpointLoan, Method: http.MethodPost, Path: "/money/loan",
		Mutation: true, Idempotent: true, Invalidates: walletTags,
		decode: decodeAs[DataResponse],
	},
	EndpointConvert: {
		ID: EndpointConvert, Method: http.MethodPost, Path: "/money/convert",
		Mutation: true, Idempotent: true, Invalidates: walletTags,
		decode: decodeAs[ConvertResponse],
	},
	EndpointCoinRate: {
		ID: EndpointCoinRate, Method: http.MethodGet, Path: "/coins/rate",
		decode: decodeAs[CoinRateResponse],
	},
	EndpointRepayLoan: {
		ID: EndpointRepayLoan, Method: http.MethodPost, Path: "/money/loan/repay/request",
		Mutation: true, Idempotent: true, Multipart: true, Invalidates: walletTags,
		decode: decodeAs[DataResponse],
	},
}

// Lookup returns the endpoint registered under id.
func Lookup(id EndpointID) (Endpoint, bool) {
	ep, ok := registry[id]
	return ep, ok
}

// Endpoints returns every registered endpoint ordered by ID.
func Endpoints() []Endpoint {
	eps := make([]Endpoint, 0, len(registry))
	for _, ep := range registry {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
	return eps
}

// MutationDefinitions returns the executor definitions of every mutation endpoint.
func MutationDefinitions() []mutation.Definition {
	var defs []mutation.Definition
	for _, ep := range Endpoints() {
		if !ep.Mutation {
			continue
		}
		defs = append(defs, mutation.Definition{
			Endpoint:        ep.ID,
			InvalidatesTags: ep.Invalidates,
			Idempotent:      ep.Idempotent,
		})
	}
	return defs
}

// ExpandPath substitutes {name} placeholders with escaped values from params.
func (ep Endpoint) ExpandPath(params map[string]string) (string, error) {
	path := ep.Path
	for {
		start := strings.IndexByte(path, '{')
		if start < 0 {
			return path, nil
		}
		end := strings.IndexByte(path[start:], '}')
		if end < 0 {
			return "", ErrBadPathTemplate
		}
		name := path[start+1 : start+end]
		value, ok := params[name]
		if !ok || value == "" {
			return "", ValidationError(name, "is required")
		}
		path = path[:start] + url.PathEscape(value) + path[start+end+1:]
	}
}
