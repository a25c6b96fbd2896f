// indrasd is the indranet daemon and operator CLI.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/trumanellis/indranet/internal/identity"
	"github.com/trumanellis/indranet/internal/invite"
	"github.com/trumanellis/indranet/internal/node"
	"github.com/trumanellis/indranet/internal/story"
	"github.com/trumanellis/indranet/internal/transport/p2p"
	"github.com/trumanellis/indranet/internal/wire"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dataDir string
	var verbose bool

	root := &cobra.Command{
		Use:   "indrasd",
		Short: "indranet peer daemon",
		Long:  "indrasd runs an indranet peer: identity-anchored, eventually-consistent messaging over intermittent links.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

			viper.SetConfigName("indrasd")
			viper.SetConfigType("yaml")
			viper.AddConfigPath(dataDir)
			viper.SetEnvPrefix("INDRAS")
			viper.AutomaticEnv()
			if err := viper.ReadInConfig(); err == nil {
				log.WithFields(log.Fields{"config": viper.ConfigFileUsed()}).Debug("loaded config file")
			}
		},
	}

	home, _ := os.UserHomeDir()
	root.PersistentFlags().StringVar(&dataDir, "data-dir", filepath.Join(home, ".indranet"), "data directory")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd(&dataDir))
	root.AddCommand(serveCmd(&dataDir))
	root.AddCommand(inviteCmd(&dataDir))
	root.AddCommand(joinCmd(&dataDir))
	root.AddCommand(sendCmd(&dataDir))
	root.AddCommand(searchCmd(&dataDir))
	return root
}

// promptStory collects the 23 slots stage by stage. Slots are echoed
// (they are narrative, not a password); the confirmation pass is not.
func promptStory(in *bufio.Reader) (*story.PassStory, error) {
	tmpl := story.DefaultTemplate()
	slots := make([]string, 0, story.SlotCount)

	fmt.Println("Tell your story. Each stage asks for one or more words;")
	fmt.Println("rare, personal words make a stronger story.")
	fmt.Println()

	for _, stage := range tmpl.Stages {
		fmt.Printf("-- %s: %s\n", stage.Name, stage.Description)
		for i := 0; i < stage.SlotCount; i++ {
			fmt.Printf("   slot %d/%d: ", len(slots)+1, story.SlotCount)
			line, err := in.ReadString('\n')
			if err != nil {
				return nil, fmt.Errorf("failed to read slot: %w", err)
			}
			slots = append(slots, strings.TrimSpace(line))
		}
	}
	return story.FromRaw(slots)
}

// promptStoryHidden reads all 23 slots without echo, one per line.
func promptStoryHidden() (*story.PassStory, error) {
	fmt.Printf("Enter your %d story slots, one per line (input hidden):\n", story.SlotCount)
	slots := make([]string, 0, story.SlotCount)
	for i := 0; i < story.SlotCount; i++ {
		fmt.Printf("slot %d/%d: ", i+1, story.SlotCount)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read slot: %w", err)
		}
		slots = append(slots, string(raw))
	}
	return story.FromRaw(slots)
}

func initCmd(dataDir *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an account from a pass story",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := promptStory(bufio.NewReader(os.Stdin))
			if err != nil {
				return err
			}

			total, _ := story.StoryEntropy(ps.Slots())
			fmt.Printf("\nStory entropy: %.0f bits\n", total)

			_, id, err := story.CreateAccount(*dataDir, ps, []byte(userID), uint64(time.Now().Unix()))
			if err != nil {
				if ee, ok := err.(*story.EntropyError); ok {
					fmt.Printf("Story too weak (%.0f bits, weak slots %v). Choose rarer words.\n",
						ee.TotalBits, ee.WeakSlots)
				}
				return err
			}

			fmt.Printf("\nAccount created. Identity: %s\n", id.Public().ShortID())
			fmt.Println("Your story is the only way back in. Rehearse it.")
			fmt.Println()
			fmt.Println(ps.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "indras-user", "user identifier mixed into the key salt")
	return cmd
}

// unlock authenticates with the stored account and returns the identity.
func unlock(dataDir string) (*identity.SecretIdentity, error) {
	ps, err := promptStoryHidden()
	if err != nil {
		return nil, err
	}
	_, id, result, err := story.Authenticate(dataDir, ps)
	if err != nil {
		return nil, err
	}
	if result == story.AuthFailed {
		return nil, fmt.Errorf("story does not match this account")
	}
	if result == story.AuthRehearsalDue {
		fmt.Println("(rehearsal recorded — well remembered)")
	}
	return id, nil
}

func openNode(dataDir string, withTransport bool) (*node.Node, *p2p.Service, error) {
	id, err := unlock(dataDir)
	if err != nil {
		return nil, nil, err
	}

	var svc *p2p.Service
	if withTransport {
		cfg := p2p.DefaultConfig()
		if addrs := viper.GetStringSlice("listen_addrs"); len(addrs) > 0 {
			cfg.ListenAddrs = addrs
		}
		cfg.EnableDHT = viper.GetBool("enable_dht")
		cfg.AllowlistPath = filepath.Join(dataDir, "peers.json")
		cfg.StrictAllowlist = viper.GetBool("strict_allowlist")

		svc, err = p2p.NewService(id.Public(), cfg)
		if err != nil {
			return nil, nil, err
		}
	}

	var n *node.Node
	if svc != nil {
		n, err = node.New(node.DefaultConfig(dataDir), id, svc)
	} else {
		n, err = node.New(node.DefaultConfig(dataDir), id, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	return n, svc, nil
}

func serveCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the peer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, svc, err := openNode(*dataDir, true)
			if err != nil {
				return err
			}
			defer n.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Stop()

			// Inbound pump: handle messages and send replies back.
			go func() {
				for in := range svc.Inbound() {
					reply, err := n.HandleInbound(in.From, in.Payload)
					if err != nil {
						log.WithFields(log.Fields{"peer": in.From.ShortID(), "error": err}).Warn("inbound message failed")
						continue
					}
					if reply == nil {
						continue
					}
					data, err := wire.Marshal(reply)
					if err != nil {
						log.WithFields(log.Fields{"error": err}).Warn("failed to encode reply")
						continue
					}
					if err := svc.Send(ctx, in.From, data); err != nil {
						log.WithFields(log.Fields{"peer": in.From.ShortID(), "error": err}).Debug("failed to send reply")
					}
				}
			}()

			// Periodic sync and maintenance.
			syncTicker := time.NewTicker(5 * time.Second)
			defer syncTicker.Stop()
			maintTicker := time.NewTicker(30 * time.Minute)
			defer maintTicker.Stop()

			log.Info("indrasd serving")
			for {
				select {
				case <-ctx.Done():
					log.Info("shutting down")
					return nil
				case <-syncTicker.C:
					for _, peer := range svc.KnownPeers() {
						if err := n.SyncTick(ctx, peer); err != nil {
							log.WithFields(log.Fields{"peer": peer.ShortID(), "error": err}).Debug("sync tick failed")
						}
					}
				case <-maintTicker.C:
					n.MaintenanceTick()
				}
			}
		},
	}
}

func inviteCmd(dataDir *string) *cobra.Command {
	var name string
	var qr bool
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Create an interface and print its invite",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode(*dataDir, false)
			if err != nil {
				return err
			}
			defer n.Close()

			ifaceID, inv, err := n.CreateInterface(name)
			if err != nil {
				return err
			}
			encoded, err := inv.Encode()
			if err != nil {
				return err
			}

			fmt.Printf("Interface %s created.\n\n%s\n", ifaceID.Short(), encoded)
			if qr {
				ascii, err := inv.ToQRString()
				if err != nil {
					return err
				}
				fmt.Println()
				fmt.Println(ascii)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "interface name")
	cmd.Flags().BoolVar(&qr, "qr", false, "print a QR code (minimal form)")
	return cmd
}

func joinCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <invite>",
		Short: "Join an interface from an invite string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := invite.Parse(args[0])
			if err != nil {
				return err
			}

			n, _, err := openNode(*dataDir, false)
			if err != nil {
				return err
			}
			defer n.Close()

			ifaceID, err := n.JoinInterface(inv)
			if err != nil {
				return err
			}
			fmt.Printf("Joined interface %s.\n", ifaceID.Short())
			return nil
		},
	}
}

func sendCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send <interface-hex-prefix> <message>",
		Short: "Append a message to an interface",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode(*dataDir, false)
			if err != nil {
				return err
			}
			defer n.Close()

			for _, ifaceID := range n.Interfaces() {
				if strings.HasPrefix(ifaceID.Hex(), strings.ToLower(args[0])) {
					eventID, err := n.AppendMessage(ifaceID, []byte(args[1]))
					if err != nil {
						return err
					}
					fmt.Printf("Appended %s to %s.\n", eventID, ifaceID.Short())
					return nil
				}
			}
			return fmt.Errorf("no interface matches prefix %q", args[0])
		},
	}
}

func searchCmd(dataDir *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode(*dataDir, false)
			if err != nil {
				return err
			}
			defer n.Close()

			hits, err := n.SearchHistory(args[0], limit)
			if err != nil {
				return err
			}
			for _, hit := range hits {
				fmt.Printf("%.3f  %s\n", hit.Score, hit.ID)
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}
