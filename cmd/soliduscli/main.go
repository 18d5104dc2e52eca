// Command soliduscli is the operator command-line tool for governance,
// authority-node administration, and native-coin bookkeeping against a
// running node's shared state store.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solidus/core"
)

func main() {
	if zl, err := zap.NewProduction(); err == nil {
		zap.ReplaceGlobals(zl)
		defer zl.Sync()
	}

	rootCmd := &cobra.Command{Use: "soliduscli"}
	stateDir := rootCmd.PersistentFlags().String("state-dir", "data/statedb", "path to the node's governance/token state database")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		store, err := core.OpenPebbleKVStore(*stateDir)
		if err != nil {
			return fmt.Errorf("open state store at %s: %w", *stateDir, err)
		}
		core.SetCurrentStore(store)
		zap.L().Sugar().Infow("soliduscli attached to state store", "dir", *stateDir)
		return nil
	}
	rootCmd.AddCommand(daoCmd())
	rootCmd.AddCommand(authorityCmd())
	rootCmd.AddCommand(coinCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseAddr(s string) (core.Address, error) {
	var a core.Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("address %q must be %d bytes", s, len(a))
	}
	copy(a[:], b)
	return a, nil
}

func daoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dao", Short: "manage governance DAOs"}

	create := &cobra.Command{
		Use:  "create [name] [creator]",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			creator, err := parseAddr(args[1])
			if err != nil {
				return err
			}
			d, err := core.CreateDAO(args[0], creator)
			if err != nil {
				return err
			}
			fmt.Println(d.ID)
			return nil
		},
	}

	join := &cobra.Command{
		Use:  "join [dao-id] [member]",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			member, err := parseAddr(args[1])
			if err != nil {
				return err
			}
			return core.JoinDAO(args[0], member)
		},
	}

	list := &cobra.Command{
		Use:  "list",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			daos, err := core.ListDAOs()
			if err != nil {
				return err
			}
			for _, d := range daos {
				fmt.Printf("%s\t%s\tmembers=%d\n", d.ID, d.Name, len(d.Members))
			}
			return nil
		},
	}

	propose := &cobra.Command{
		Use:  "propose [dao-id] [creator] [description] [duration]",
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			creator, err := parseAddr(args[1])
			if err != nil {
				return err
			}
			dur, err := time.ParseDuration(args[3])
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			p, err := core.CreateDAOProposal(args[0], creator, args[2], dur)
			if err != nil {
				return err
			}
			fmt.Println(p.ID)
			return nil
		},
	}

	cmd.AddCommand(create, join, list, propose)
	return cmd
}

func authorityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "authority", Short: "manage authority-node registration"}
	authSet := core.NewAuthoritySet(nil)
	zap.L().Sugar().Infow("authority subsystem initialised for CLI")

	register := &cobra.Command{
		Use:  "register [addr] [role]",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			role, err := parseRole(args[1])
			if err != nil {
				return err
			}
			return authSet.RegisterCandidate(addr, role)
		},
	}

	vote := &cobra.Command{
		Use:  "vote [voter] [candidate]",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			voter, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			candidate, err := parseAddr(args[1])
			if err != nil {
				return err
			}
			return authSet.RecordVote(voter, candidate)
		},
	}

	list := &cobra.Command{
		Use:  "list",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := authSet.ListAuthorities(false)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				fmt.Printf("%s\t%s\tactive=%v\n", n.Addr.Short(), n.Role, n.Active)
			}
			return nil
		},
	}

	cmd.AddCommand(register, vote, list)
	return cmd
}

func parseRole(s string) (core.AuthorityRole, error) {
	switch s {
	case "government":
		return core.GovernmentNode, nil
	case "central-bank":
		return core.CentralBankNode, nil
	case "regulation":
		return core.RegulationNode, nil
	case "standard":
		return core.StandardAuthorityNode, nil
	case "military":
		return core.MilitaryNode, nil
	case "commerce":
		return core.LargeCommerceNode, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func coinCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "coin", Short: "query and move the native coin"}

	balance := &cobra.Command{
		Use:  "balance [addr]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			fmt.Println(core.NativeBalance(addr))
			return nil
		},
	}

	transfer := &cobra.Command{
		Use:  "transfer [from] [to] [amount]",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			to, err := parseAddr(args[1])
			if err != nil {
				return err
			}
			var amount uint64
			if _, err := fmt.Sscanf(args[2], "%d", &amount); err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			return core.NativeTransfer(from, to, amount)
		},
	}

	cmd.AddCommand(balance, transfer)
	return cmd
}
