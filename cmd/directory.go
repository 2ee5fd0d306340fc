package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/clientmail/config"
	"github.com/dhcgn/clientmail/directory"
	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/store"
)

// NewDirectoryCommand manages the client book behind --directory.
func NewDirectoryCommand(newLogger LoggerFactory) *cobra.Command {
	c := &cobra.Command{
		Use:   "directory",
		Short: "List and edit the client directory",
	}
	c.AddCommand(
		newDirectoryListCommand(),
		newDirectoryAddCommand(newLogger),
		newDirectoryImportCommand(newLogger),
		newDirectorySetPrimaryCommand(newLogger),
		newDirectoryConflictsCommand(newLogger),
	)
	return c
}

// withBook opens the book named by --directory for the duration of fn.
func withBook(cmd *cobra.Command, fn func(ctx context.Context, book *directory.Book) error) error {
	path, err := config.LoadDirectoryPath(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	book, closeBook, err := OpenBook(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = closeBook() }()
	return fn(ctx, book)
}

func newDirectoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBook(cmd, func(_ context.Context, book *directory.Book) error {
				data := pterm.TableData{{"UID", "File as", "Status", "Addresses"}}
				for _, client := range book.Clients() {
					data = append(data, []string{client.UID, client.FileAs, client.Status, strings.Join(client.EmailAddresses, ", ")})
				}
				table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
				if err != nil {
					return fmt.Errorf("render client table: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newDirectoryAddCommand(newLogger LoggerFactory) *cobra.Command {
	var record model.ClientRecord

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := commandLogger(cmd, newLogger)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			if strings.TrimSpace(record.Name) == "" {
				return fmt.Errorf("--name is required")
			}
			return withBook(cmd, func(ctx context.Context, book *directory.Book) error {
				added, err := book.Add(ctx, record)
				if err != nil {
					return err
				}
				logger.Info("client added", "uid", added.UID, "fileAs", added.FileAs, "addresses", len(added.EmailAddresses))
				fmt.Fprintln(cmd.OutOrStdout(), added.UID)
				return nil
			})
		},
	}

	flags := c.Flags()
	flags.StringVar(&record.Name, "name", "", "Client name")
	flags.StringVar(&record.FileAs, "file-as", "", "Sort key (defaults to the name)")
	flags.StringVar(&record.Status, "status", "", "Client status")
	flags.StringArrayVar(&record.EmailAddresses, "email", nil, "Email address; repeat for several, the first is the principal address")
	flags.StringVar(&record.Phone, "phone", "", "Phone number")
	flags.StringVar(&record.Description, "description", "", "Free-text description")
	flags.StringVar(&record.ReferralSource, "referral-source", "", "How the client found the firm")
	return c
}

func newDirectoryImportCommand(newLogger LoggerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "import [yaml or db file]",
		Short: "Merge clients from another directory file, keeping their uids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := commandLogger(cmd, newLogger)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			source, closeSource, err := store.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import source: %w", err)
			}
			defer func() { _ = closeSource() }()

			return withBook(cmd, func(ctx context.Context, book *directory.Book) error {
				records, err := source.Load(ctx)
				if err != nil {
					return fmt.Errorf("load import source: %w", err)
				}
				if _, err := directory.NewSnapshot(nonBlankUIDs(records)); err != nil {
					return fmt.Errorf("import source: %w", err)
				}
				added, updated, err := book.Import(ctx, records)
				if err != nil {
					return err
				}
				logger.Info("clients imported", "source", args[0], "added", added, "updated", updated)
				fmt.Fprintf(cmd.OutOrStdout(), "added %d, updated %d\n", added, updated)
				return nil
			})
		},
	}
}

// nonBlankUIDs drops records without uid so duplicate uids in an import can
// be checked with NewSnapshot.
func nonBlankUIDs(records []model.ClientRecord) []model.ClientRecord {
	out := make([]model.ClientRecord, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.UID) != "" {
			out = append(out, r)
		}
	}
	return out
}

func newDirectorySetPrimaryCommand(newLogger LoggerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "set-primary [uid] [address]",
		Short: "Make an address the principal address of a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := commandLogger(cmd, newLogger)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			return withBook(cmd, func(ctx context.Context, book *directory.Book) error {
				if err := book.SetPrimaryAddress(ctx, args[0], args[1]); err != nil {
					return err
				}
				logger.Info("principal address set", "uid", args[0], "address", args[1])
				return nil
			})
		},
	}
}

func newDirectoryConflictsCommand(newLogger LoggerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List addresses that belong to more than one client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := commandLogger(cmd, newLogger)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			return withBook(cmd, func(_ context.Context, book *directory.Book) error {
				snap, err := book.Snapshot()
				if err != nil {
					return err
				}
				index := directory.BuildIndex(snap, logger)
				out := cmd.OutOrStdout()
				conflicts := index.Conflicts()
				if len(conflicts) == 0 {
					fmt.Fprintf(out, "no shared addresses among %d indexed\n", index.Len())
					return nil
				}
				for _, c := range conflicts {
					fmt.Fprintf(out, "%s: owned by %s, also listed for %s\n", c.Address, c.OwnerUID, c.OtherUID)
				}
				return nil
			})
		},
	}
}
