package commands

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"obsidion"
)

// join <connection-string>: join a published bridge and chat.
func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <connection-string>",
		Short: "Join a bridge from its connection string",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts := obsidion.Options{BridgeURL: bridgeURL}
			uri := ""
			if len(args) == 1 {
				uri = args[0]
			}
			if resume {
				rec, err := loadSession("joiner")
				if err != nil {
					return err
				}
				opts.KeyPair = &obsidion.KeyPair{Private: rec.PrivateKey, Public: rec.PublicKey}
				opts.Resume = true
				if uri == "" {
					uri = rec.ConnectionString
				}
			}
			if uri == "" {
				return fmt.Errorf("a connection string is required unless --resume finds one")
			}

			bridge, err := obsidion.Join(ctx, uri, opts)
			if err != nil {
				return err
			}
			defer bridge.Close()

			return chat(ctx, bridge, "joiner")
		},
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
