package cmd

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/grovechat/grove/pkg/branch"
	"github.com/grovechat/grove/pkg/config"
	"github.com/grovechat/grove/pkg/events"
	"github.com/grovechat/grove/pkg/tree"
)

var (
	sendTree     string
	sendParent   string
	sendNoStream bool
)

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send a message and stream the reply",
	Long: `Sends a message on a branch and prints the assistant reply as it
streams. Without --tree a new tree is created; without --parent the message
attaches to the tree's root.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		text := strings.Join(args, " ")

		cfg := config.Get()
		client := newClient()
		bus := events.NewBus()
		defer bus.Close()

		store := tree.NewStore(client, bus)
		cache := branch.NewCache(client, bus)
		unread := tree.NewUnread(bus, cfg.Unread.ScrollEpsilon)
		sessions := branch.NewManager(cache, bus)
		orch := branch.NewOrchestrator(client, store, cache, sessions, unread, bus)

		if sendTree != "" {
			if _, err := store.Refresh(ctx, sendTree); err != nil {
				return err
			}
		}

		req := branch.SendRequest{TreeID: sendTree, ParentID: sendParent, Text: text}

		if sendNoStream {
			key, err := orch.SendBlocking(ctx, req)
			if err != nil {
				return err
			}
			path, err := cache.Ensure(ctx, key)
			if err != nil {
				return err
			}
			if len(path) > 0 {
				fmt.Println(path[len(path)-1].Content)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "tree=%s node=%s\n", key.TreeID, key.NodeID)
			return nil
		}

		// Print each token as the pending assistant entry grows; the handler
		// diffs against what was already written so a missed early frame is
		// recovered on the next one.
		var watched atomic.Value // branch.Key
		var printed atomic.Int64
		bus.Subscribe(events.EventStreamFrame, func(e events.Event) {
			key, ok := watched.Load().(branch.Key)
			if !ok || e.Key != key.String() {
				return
			}
			path, ok := cache.Snapshot(key)
			if !ok || len(path) == 0 {
				return
			}
			content := path[len(path)-1].Content
			if n := int(printed.Load()); len(content) > n {
				fmt.Print(content[n:])
				printed.Store(int64(len(content)))
			}
		})

		send, err := orch.Send(ctx, req)
		if err != nil {
			return err
		}
		watched.Store(send.ProvisionalKey)

		outcome := <-send.Done()
		switch outcome.State {
		case branch.StateCompleted:
			if n := int(printed.Load()); len(outcome.Content) > n {
				fmt.Print(outcome.Content[n:])
			}
			fmt.Println()
			fmt.Fprintf(cmd.ErrOrStderr(), "tree=%s node=%s\n", outcome.Key.TreeID, outcome.Key.NodeID)
			return nil
		case branch.StateCancelled:
			fmt.Println()
			return fmt.Errorf("stream cancelled")
		default:
			fmt.Println()
			return fmt.Errorf("send failed: %w", outcome.Err)
		}
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendTree, "tree", "t", "", "tree to send on (created when omitted)")
	sendCmd.Flags().StringVarP(&sendParent, "parent", "p", "", "parent node id (tree root when omitted)")
	sendCmd.Flags().BoolVar(&sendNoStream, "no-stream", false, "use the blocking endpoint instead of streaming")
	rootCmd.AddCommand(sendCmd)
}
