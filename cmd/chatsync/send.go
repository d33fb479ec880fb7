package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	chatsync "github.com/bizlinkhq/chatsync-go"
	"github.com/spf13/cobra"
)

var (
	sendRoom       bool
	sendAttachment string
	sendWait       time.Duration
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendRoom, "room", false, "treat <thread-id> as a community room and join it first")
	sendCmd.Flags().StringVar(&sendAttachment, "attachment", "", "attachment URL to include")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "how long to wait for delivery confirmation")
}

var sendCmd = &cobra.Command{
	Use:   "send <thread-id> <text...>",
	Short: "Send a single message and wait for delivery",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Default.ServerURL == "" || cfg.Default.Identity == "" {
			return fmt.Errorf("no server configured; run 'chatsync init <server-url> <user-id>' first")
		}

		threadID := args[0]
		text := strings.Join(args[1:], " ")

		sess := chatsync.NewSession(cfg.Default.ServerURL)
		ctx := context.Background()
		if err := sess.Connect(ctx, cfg.Default.Identity); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Disconnect()

		if sendRoom {
			sess.JoinThread(ctx, threadID)
		}

		tempID, err := sess.SendToThread(ctx, threadID, text, chatsync.SendOptions{
			Attachment: sendAttachment,
		})
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}

		// Poll until the optimistic message settles or the wait expires.
		deadline := time.Now().Add(sendWait)
		store := sess.Store()
		for time.Now().Before(deadline) {
			if m, ok := store.Message(tempID); ok {
				if m.Status == chatsync.StatusFailed {
					return fmt.Errorf("send failed")
				}
				time.Sleep(100 * time.Millisecond)
				continue
			}
			// Temp id gone: reconciled to a server id.
			_, msgs, _ := store.Thread(threadID)
			for _, m := range msgs {
				if m.Text == text && !m.Temp {
					fmt.Printf("delivered as %s (%s)\n", m.ID, m.Status)
					return nil
				}
			}
			fmt.Println("delivered")
			return nil
		}
		return fmt.Errorf("no confirmation within %s", sendWait)
	},
}
