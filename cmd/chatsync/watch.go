package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	chatsync "github.com/bizlinkhq/chatsync-go"
	"github.com/spf13/cobra"
)

var (
	watchFocus  string
	watchNotify bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchFocus, "focus", "", "thread to treat as focused (suppresses its notifications)")
	watchCmd.Flags().BoolVar(&watchNotify, "notify", false, "raise desktop notifications for unfocused threads")
}

var watchCmd = &cobra.Command{
	Use:   "watch [room-id...]",
	Short: "Connect and stream incoming messages to the terminal",
	Long:  "Connect as the configured identity, join the given rooms and print every message as it arrives. Ctrl-C to disconnect.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Default.ServerURL == "" || cfg.Default.Identity == "" {
			return fmt.Errorf("no server configured; run 'chatsync init <server-url> <user-id>' first")
		}

		opts := []chatsync.Option{}
		if watchNotify || cfg.Notify.Enabled {
			opts = append(opts, chatsync.WithNotifier(chatsync.DesktopNotifier{AppIcon: cfg.Notify.Icon}))
		}
		sess := chatsync.NewSession(cfg.Default.ServerURL, opts...)
		sess.SetFocusedThread(watchFocus)

		sess.OnStateChange(func(state chatsync.ConnState, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "connection: %s (%v)\n", state, err)
				return
			}
			fmt.Fprintf(os.Stderr, "connection: %s\n", state)
		})

		store := sess.Store()
		store.OnChange(func(threadID string) {
			if threadID == "" {
				return
			}
			_, msgs, ok := store.Thread(threadID)
			if !ok || len(msgs) == 0 {
				return
			}
			m := msgs[len(msgs)-1]
			body := m.Text
			if m.MediaURI != "" {
				body = "[attachment] " + m.MediaURI
			}
			fmt.Printf("[%s] %s: %s (%s)\n", threadID, m.SenderID, body, m.Status)
		})

		ctx := context.Background()
		if err := sess.Connect(ctx, cfg.Default.Identity); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Disconnect()

		for _, room := range args {
			sess.JoinThread(ctx, room)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}
