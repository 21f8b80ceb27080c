package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var treesCmd = &cobra.Command{
	Use:   "trees",
	Short: "List conversation trees",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		trees, err := client.ListTrees(commandContext(cmd))
		if err != nil {
			return err
		}
		for _, t := range trees {
			title := "(untitled)"
			if t.Title != nil {
				title = *t.Title
			}
			fmt.Printf("%s\t%s\n", t.ID, title)
		}
		return nil
	},
}

var treesCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var title *string
		if len(args) == 1 {
			title = &args[0]
		}
		client := newClient()
		t, err := client.CreateTree(commandContext(cmd), title)
		if err != nil {
			return err
		}
		fmt.Println(t.ID)
		return nil
	},
}

var treesRmCmd = &cobra.Command{
	Use:   "rm <tree-id>",
	Short: "Delete a tree and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		return client.DeleteTree(commandContext(cmd), args[0])
	},
}

var treesRenameClear bool

var treesRenameCmd = &cobra.Command{
	Use:   "rename <tree-id> [title]",
	Short: "Rename a tree (--clear removes the title)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var title *string
		switch {
		case treesRenameClear:
		case len(args) == 2:
			title = &args[1]
		default:
			return fmt.Errorf("a title or --clear is required")
		}
		client := newClient()
		t, err := client.RenameTree(commandContext(cmd), args[0], title)
		if err != nil {
			return err
		}
		if t.Title != nil {
			fmt.Printf("%s\t%s\n", t.ID, *t.Title)
		} else {
			fmt.Printf("%s\t(untitled)\n", t.ID)
		}
		return nil
	},
}

func init() {
	treesRenameCmd.Flags().BoolVar(&treesRenameClear, "clear", false, "clear the title instead of setting one")

	treesCmd.AddCommand(treesCreateCmd)
	treesCmd.AddCommand(treesRmCmd)
	treesCmd.AddCommand(treesRenameCmd)
	rootCmd.AddCommand(treesCmd)
}
