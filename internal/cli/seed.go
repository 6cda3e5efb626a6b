package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/UkralStul/codenode-comments/internal/chain"
	"github.com/UkralStul/codenode-comments/internal/domain"
)

type seedComment struct {
	author string
	text   string
}

var seedData = []struct {
	key      domain.EntityKey
	comments []seedComment
}{
	{
		key: domain.EntityKey{Kind: domain.KindFunction, Module: "kernel32.dll", Node: "4096"},
		comments: []seedComment{
			{"alice", "Entry point of the unpacking stub."},
			{"bob", "Calls VirtualAlloc twice, second call is RWX."},
			{"alice", "Confirmed: decrypts the payload in place."},
		},
	},
	{
		key: domain.EntityKey{Kind: domain.KindGlobalInstruction, Module: "kernel32.dll", Node: "4096", Position: "7"},
		comments: []seedComment{
			{"bob", "XOR key lives in ecx here."},
		},
	},
	{
		key: domain.EntityKey{Kind: domain.KindEdge, Module: "kernel32.dll", Node: "4096->4160"},
		comments: []seedComment{
			{"carol", "Only taken when the debugger check fails."},
			{"alice", "Patched to always fall through in the lab build."},
		},
	},
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Append sample chains for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := seed(cmd.Context(), s.engine)
			if err != nil {
				return s.out.Fail(err)
			}
			s.log.Info().Int("chains", len(keys)).Msg("mock data filled")

			var b strings.Builder
			for _, k := range keys {
				fmt.Fprintf(&b, "seeded %s\n", k)
			}
			return s.out.Success(keys, b.String())
		},
	}
}

func seed(ctx context.Context, e *chain.Engine) ([]string, error) {
	keys := make([]string, 0, len(seedData))
	for _, entity := range seedData {
		key := entity.key.String()
		for _, c := range entity.comments {
			if _, err := e.Append(ctx, key, c.text, c.author); err != nil {
				return keys, fmt.Errorf("seed %s: %w", key, err)
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}
