package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var forkCmd = &cobra.Command{
	Use:   "fork <node-id>",
	Short: "Fork a branch into a new tree",
	Long:  `Copies the ancestor path of a node into a fresh tree and prints the new tree id and its active node.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		result, err := client.ForkBranch(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("tree=%s node=%s\n", result.Tree.ID, result.ActiveNodeID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(forkCmd)
}
