package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/UkralStul/codenode-comments/internal/dataloader"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity-key>...",
		Short: "Print the chains of one or more entities, oldest comment first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			keys := make([]string, len(args))
			for i, arg := range args {
				if keys[i], err = parseKey(s.out, arg); err != nil {
					return err
				}
			}

			ctx := dataloader.WithLoaders(cmd.Context(), s.store)
			chains, err := dataloader.For(ctx).LoadChains(ctx, keys)
			if err != nil {
				return s.out.Fail(err)
			}

			views := make([]ChainView, len(keys))
			var b strings.Builder
			for i, key := range keys {
				views[i] = ChainView{EntityKey: key, Comments: chains[i]}
				renderChain(&b, views[i])
			}
			return s.out.Success(views, b.String())
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity-key> <comment-id>",
		Short: "Print the whole chain that contains a comment",
		Long: `Print the whole chain that contains a comment.

A comment that no longer exists prints an empty chain.`,
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
			comments, err := s.engine.LoadByID(cmd.Context(), key, args[1])
			if err != nil {
				return s.out.Fail(err)
			}

			view := ChainView{EntityKey: key, Comments: comments}
			var b strings.Builder
			renderChain(&b, view)
			return s.out.Success(view, b.String())
		},
	}
}

// VerifyResult is the outcome for one entity.
type VerifyResult struct {
	EntityKey string `json:"entityKey"`
	OK        bool   `json:"ok"`
	Length    int    `json:"length"`
	Problem   string `json:"problem,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <entity-key>...",
		Short: "Check that each chain is a single unbroken path",
		Long: `Check that each chain is a single unbroken path.

Exits with status 3 if any chain is corrupt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				results []VerifyResult
				b       strings.Builder
				broken  error
			)
			for _, arg := range args {
				key, err := parseKey(s.out, arg)
				if err != nil {
					return err
				}
				length, err := s.engine.Verify(cmd.Context(), key)
				r := VerifyResult{EntityKey: key, OK: err == nil, Length: length}
				if err != nil {
					if code, _ := classify(err); code != "integrity" {
						return s.out.Fail(err)
					}
					r.Problem = err.Error()
					broken = err
					fmt.Fprintf(&b, "%s: CORRUPT: %s\n", key, r.Problem)
				} else {
					fmt.Fprintf(&b, "%s: ok (%d)\n", key, r.Length)
				}
				results = append(results, r)
			}

			if err := s.out.Success(results, b.String()); err != nil {
				return err
			}
			if broken != nil {
				return WrapExitError(ExitIntegrity, "corrupt chain", broken)
			}
			return nil
		},
	}
}
