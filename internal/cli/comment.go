package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "append <entity-key> <text>",
		Short: "Append a comment to the end of a chain",
		Example: `  chainctl append global_code_node:kernel32.dll:4096 "Comment 1:" --as alice`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			key, err := parseKey(s.out, args[0])
			if err != nil {
				return err
			}
			id, err := s.engine.Append(cmd.Context(), key, args[1], author)
			if err != nil {
				return s.out.Fail(err)
			}
			return s.out.Success(map[string]string{"id": id, "entityKey": key}, id+"\n")
		},
	}

	cmd.Flags().StringVar(&author, "as", "", "author id")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	var requester string

	cmd := &cobra.Command{
		Use:   "edit <entity-key> <comment-id> <text>",
		Short: "Replace the text of a comment you wrote",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			key, err := parseKey(s.out, args[0])
			if err != nil {
				return err
			}
			if err := s.engine.Edit(cmd.Context(), key, args[1], requester, args[2]); err != nil {
				return s.out.Fail(err)
			}
			return s.out.Success(map[string]string{"id": args[1], "entityKey": key}, fmt.Sprintf("edited %s\n", args[1]))
		},
	}

	cmd.Flags().StringVar(&requester, "as", "", "requester id; must be the author")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var requester string

	cmd := &cobra.Command{
		Use:   "delete <entity-key> <comment-id>",
		Short: "Delete a comment you wrote and close the gap in its chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			key, err := parseKey(s.out, args[0])
			if err != nil {
				return err
			}
			if err := s.engine.Delete(cmd.Context(), key, args[1], requester); err != nil {
				return s.out.Fail(err)
			}
			return s.out.Success(map[string]string{"id": args[1], "entityKey": key}, fmt.Sprintf("deleted %s\n", args[1]))
		},
	}

	cmd.Flags().StringVar(&requester, "as", "", "requester id; must be the author")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}
