package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"github.com/huykn/querysync"
	"github.com/huykn/querysync/api"
)

func (c *CLI) newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the money balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.Balance(ctx, false)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Balance.StringFixed(2))
				return err
			})
		},
	}
}

func (c *CLI) newCoinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coins",
		Short: "Show the coin balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.Coins(ctx, false)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Coins)
				return err
			})
		},
	}
}

func (c *CLI) newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate",
		Short: "Show the coin to money rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.CoinRate(ctx, false)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.CoinToMoneyRate.String())
				return err
			})
		},
	}
}

const (
	historyCoins   = "coins"
	historyMoney   = "money"
	historyGrouped = "grouped"
)

func (c *CLI) newHistoryCmd() *cobra.Command {
	var (
		kind   string
		pages  int
		filter api.HistoryParams
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show coin or money history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := filter.Validate(); err != nil {
				return err
			}
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				switch kind {
				case historyCoins:
					return printPages[api.HistoryBucket](ctx, cmd, client.API.NewCoinHistoryPager(filter), pages)
				case historyGrouped:
					return printPages[api.HistoryBucket](ctx, cmd, client.API.NewMoneyHistoryGroupedPager(filter), pages)
				case historyMoney:
					return printPages[api.MoneyTransaction](ctx, cmd, client.API.NewMoneyHistoryPager(filter), pages)
				default:
					return api.ValidationError("kind", "must be coins, money or grouped")
				}
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", historyCoins, "History kind: coins, money or grouped")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to load")
	cmd.Flags().StringVar(&filter.Interval, "interval", "", "Bucket interval: daily, weekly or monthly")
	cmd.Flags().StringVar(&filter.From, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.To, "to", "", "End date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.Type, "type", "", "Money transaction type")
	cmd.Flags().IntVar(&filter.PerPage, "per-page", 0, "Page size")
	return cmd
}

// pagedList is the part of api.Pager the history command needs.
type pagedList[T any] interface {
	Refresh(ctx context.Context) error
	LoadMore(ctx context.Context) (bool, error)
	Items() []T
}

func printPages[T any](ctx context.Context, cmd *cobra.Command, pager pagedList[T], pages int) error {
	if err := pager.Refresh(ctx); err != nil {
		return err
	}
	for i := 1; i < pages; i++ {
		loaded, err := pager.LoadMore(ctx)
		if err != nil {
			return err
		}
		if !loaded {
			break
		}
	}
	return printJSON(cmd.OutOrStdout(), pager.Items())
}

// submit runs fn up to 1+retries times. A retry after a network failure or
// a 5xx reuses the idempotency key the executor kept for the failed attempt.
func submit[T any](ctx context.Context, cmd *cobra.Command, retries int, fn func(ctx context.Context) (*T, error)) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		var resp *T
		resp, err = fn(ctx)
		if err == nil {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		if !retryable(err) {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "attempt %d failed: %v\n", attempt+1, err)
	}
	return err
}

func retryable(err error) bool {
	apiErr, ok := api.AsError(err)
	if !ok {
		return false
	}
	return apiErr.Kind == api.KindNetwork || (apiErr.Kind == api.KindServer && apiErr.StatusCode >= http.StatusInternalServerError)
}

// readPhoto loads a receipt image from disk.
func readPhoto(path string) (*api.Photo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read photo"), "path", path)
	}
	return &api.Photo{
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

func (c *CLI) newRefillCmd() *cobra.Command {
	var (
		req               api.RefillRequest
		amount, photoPath string
		retries           int
	)
	cmd := &cobra.Command{
		Use:   "refill",
		Short: "Request a money or coins refill",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if req.Amount, err = api.ParseAmount("amount", amount); err != nil {
				return err
			}
			if photoPath != "" {
				if req.Photo, err = readPhoto(photoPath); err != nil {
					return err
				}
			}
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				return submit(ctx, cmd, retries, func(ctx context.Context) (*api.RefillResponse, error) {
					return client.API.RequestRefill(ctx, req)
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.WalletType, "wallet", api.WalletMoney, "Wallet to refill: money or coins")
	cmd.Flags().Int64Var(&req.TargetUserID, "target", 0, "User receiving the refill")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to refill")
	cmd.Flags().StringVar(&req.Note, "note", "", "Note for the reviewer")
	cmd.Flags().StringVar(&photoPath, "photo", "", "Receipt image")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retries after network failures")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *CLI) newLoanCmd() *cobra.Command {
	var (
		req     api.LoanRequest
		amount  string
		retries int
	)
	cmd := &cobra.Command{
		Use:   "loan",
		Short: "Request a loan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if req.Amount, err = api.ParseAmount("amount", amount); err != nil {
				return err
			}
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				return submit(ctx, cmd, retries, func(ctx context.Context) (*api.DataResponse, error) {
					return client.API.RequestLoan(ctx, req)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&req.BorrowerUserID, "borrower", 0, "Borrowing user")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to borrow")
	cmd.Flags().StringVar(&req.Note, "note", "", "Note for the reviewer")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retries after network failures")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *CLI) newConvertCmd() *cobra.Command {
	var (
		amount  string
		retries int
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert money into coins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := api.ParseAmount("amount", amount)
			if err != nil {
				return err
			}
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				return submit(ctx, cmd, retries, func(ctx context.Context) (*api.ConvertResponse, error) {
					return client.API.ConvertMoneyToCoins(ctx, api.ConvertRequest{Amount: value})
				})
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Money to convert")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retries after network failures")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *CLI) newRepayCmd() *cobra.Command {
	var (
		req               api.RepayRequest
		amount, photoPath string
		retries           int
	)
	cmd := &cobra.Command{
		Use:   "repay",
		Short: "Repay a loan with a receipt photo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if req.Amount, err = api.ParseAmount("amount", amount); err != nil {
				return err
			}
			if req.Photo, err = readPhoto(photoPath); err != nil {
				return err
			}
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				return submit(ctx, cmd, retries, func(ctx context.Context) (*api.DataResponse, error) {
					return client.API.RepayLoan(ctx, req)
				})
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Amount repaid")
	cmd.Flags().StringVar(&req.Note, "note", "", "Note for the reviewer")
	cmd.Flags().StringVar(&photoPath, "photo", "", "Receipt image")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retries after network failures")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("photo")
	return cmd
}
