package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pathCmd = &cobra.Command{
	Use:   "path <node-id>",
	Short: "Print the ancestor path of a node, root to leaf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		path, err := client.Path(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		for _, msg := range path {
			fmt.Printf("%s: %s\n", msg.Role, msg.Content)
			for _, att := range msg.Attachments {
				fmt.Printf("  [attachment %s %s]\n", att.Filename, att.ContentType)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathCmd)
}
