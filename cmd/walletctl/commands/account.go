package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/huykn/querysync"
	"github.com/huykn/querysync/api"
)

func (c *CLI) newLoginCmd() *cobra.Command {
	var req api.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.Login(ctx, req)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (user %d)\n", resp.User.Phone, resp.User.ID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&req.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (c *CLI) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				err := client.API.Logout(ctx)
				// The local session is gone even if the server call failed.
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return err
			})
		},
	}
}

func (c *CLI) newPasswordCmd() *cobra.Command {
	var req api.ChangePasswordRequest
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change the account password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.ChangePassword(ctx, req)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&req.CurrentPassword, "current", "", "Current password")
	cmd.Flags().StringVar(&req.NewPassword, "new", "", "New password")
	cmd.Flags().StringVar(&req.NewPasswordConfirmation, "confirm", "", "New password again")
	return cmd
}

func (c *CLI) newMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.Me(ctx, false)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp.User)
			})
		},
	}
}

func (c *CLI) newNotificationsCmd() *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				pager := client.API.NewNotificationPager(api.NotificationListParams{})
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
			})
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to load")

	cmd.AddCommand(&cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.MarkNotificationRead(ctx, api.ID(args[0]))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.MarkAllNotificationsRead(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return err
			})
		},
	})
	return cmd
}

func (c *CLI) newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "List chat channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.Channels(ctx, false)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp.Data)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "messages <channel-uuid>",
		Short: "Show the messages of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				resp, err := client.API.ChannelMessages(ctx, args[0], false)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp.Messages.Data)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a chat message as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return api.ValidationError("message-id", "must be a number")
			}
			return c.withClient(cmd, func(ctx context.Context, client *querysync.Client) error {
				if _, err := client.API.MarkMessageRead(ctx, id); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Marked as read")
				return err
			})
		},
	})
	return cmd
}
