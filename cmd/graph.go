package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovechat/grove/pkg/config"
	"github.com/grovechat/grove/pkg/events"
	"github.com/grovechat/grove/pkg/layout"
	"github.com/grovechat/grove/pkg/tree"
	"github.com/grovechat/grove/pkg/viewport"
)

var graphFrame string

var graphCmd = &cobra.Command{
	Use:   "graph <tree-id>",
	Short: "Print a tree's nodes with computed layout positions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		cfg := config.Get()

		bus := events.NewBus()
		defer bus.Close()
		store := tree.NewStore(newClient(), bus)
		if _, err := store.Refresh(ctx, args[0]); err != nil {
			return err
		}

		g, ok := store.Graph(args[0])
		if !ok {
			return fmt.Errorf("tree %s has no graph", args[0])
		}

		positions := layout.Compute(g, layout.Options{
			HorizontalGap: cfg.Layout.HorizontalGap,
			VerticalGap:   cfg.Layout.VerticalGap,
			GridColumns:   cfg.Layout.GridColumns,
		})

		for _, n := range g.Nodes {
			p := positions[n.ID]
			fmt.Printf("%s\t%s\t%.0f,%.0f\t%s\n", n.ID, n.Role, p.X, p.Y, n.Label)
		}
		for _, e := range g.Edges {
			fmt.Printf("edge\t%s\n", e.ID)
		}

		if graphFrame != "" {
			var size viewport.Size
			if _, err := fmt.Sscanf(graphFrame, "%fx%f", &size.Width, &size.Height); err != nil {
				return fmt.Errorf("invalid --frame %q, want WxH: %w", graphFrame, err)
			}
			framer := viewport.NewFramer(viewport.Options{
				MinZoom:         cfg.Viewport.MinZoom,
				MaxZoom:         cfg.Viewport.MaxZoom,
				Margin:          cfg.Viewport.Margin,
				FollowAncestors: cfg.Viewport.FollowAncestors,
			})
			tf := framer.FitAll(positions, size)
			fmt.Printf("frame\tcenter=%.0f,%.0f zoom=%.2f\n", tf.X, tf.Y, tf.Zoom)
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().StringVar(&graphFrame, "frame", "", "viewport size WxH; prints the initial fit transform")
	rootCmd.AddCommand(graphCmd)
}
