package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"obsidion"
	"obsidion/internal/store"
)

// create: publish a bridge and chat with whoever joins it.
func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a bridge and print its connection string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts := obsidion.Options{
				Origin:    origin,
				BridgeURL: bridgeURL,
			}
			if resume {
				rec, err := loadSession("creator")
				if err != nil {
					return err
				}
				opts.KeyPair = &obsidion.KeyPair{Private: rec.PrivateKey, Public: rec.PublicKey}
				opts.RemotePublicKey = rec.RemotePublicKey
				opts.Resume = true
			}

			bridge, err := obsidion.Create(ctx, opts)
			if err != nil {
				return err
			}
			defer bridge.Close()

			fmt.Println("Connection string:")
			fmt.Println("  " + bridge.ConnectionString())
			return chat(ctx, bridge, "creator")
		},
	}
}

func loadSession(role string) (store.SessionRecord, error) {
	if sessionFile == "" {
		return store.SessionRecord{}, fmt.Errorf("--resume requires --session")
	}
	rec, err := store.NewFileStore(sessionFile).Load()
	if err != nil {
		return store.SessionRecord{}, err
	}
	if rec.Role != role {
		return store.SessionRecord{}, fmt.Errorf("saved session has role %q, want %q", rec.Role, role)
	}
	return rec, nil
}

func saveSession(bridge *obsidion.Bridge, role string) {
	if sessionFile == "" {
		return
	}
	kp := bridge.KeyPair()
	rec := store.SessionRecord{
		Role:             role,
		PrivateKey:       kp.Private,
		PublicKey:        kp.Public,
		RemotePublicKey:  bridge.RemotePublicKey(),
		ConnectionString: bridge.ConnectionString(),
	}
	if err := store.NewFileStore(sessionFile).Save(rec); err != nil {
		fmt.Println("warning: saving session failed:", err)
	}
}

// chat wires the event surface to the terminal and pumps stdin lines into
// SendMessage until EOF or interrupt.
func chat(ctx context.Context, bridge *obsidion.Bridge, role string) error {
	bridge.OnSecureChannelEstablished(func() {
		fmt.Println("* secure channel established")
		saveSession(bridge, role)
	})
	bridge.OnSecureMessage(func(m obsidion.Message) {
		if params, ok := m.Params.(map[string]any); ok {
			if text, ok := params["text"].(string); ok {
				fmt.Printf("peer> %s\n", text)
				return
			}
		}
		fmt.Printf("peer> [%s] %v\n", m.Method, m.Params)
	})
	bridge.OnError(func(err error) {
		fmt.Println("* error:", err)
	})
	bridge.OnDisconnect(func(d obsidion.Disconnected) {
		if d.WillReconnect {
			fmt.Println("* disconnected, reconnecting...")
		} else {
			fmt.Printf("* disconnected (%d %s)\n", d.Code, d.Reason)
		}
	})
	bridge.OnConnect(func(c obsidion.Connected) {
		if c.Reconnection {
			fmt.Println("* reconnected")
		}
	})

	lines := make(chan string)
	go readLines(lines)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if err := bridge.SendMessage("message", map[string]any{"text": line}); err != nil {
				fmt.Println("* send failed:", err)
			}
		}
	}
}
