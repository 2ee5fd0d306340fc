package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/clientmail/config"
	"github.com/dhcgn/clientmail/directory"
	"github.com/dhcgn/clientmail/filter"
	"github.com/dhcgn/clientmail/ingest"
	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/normalize"
	"github.com/dhcgn/clientmail/stats"
)

const (
	categoryFrom    = "From"
	categoryTo      = "To"
	categorySubject = "Subject"
)

var trackedCategories = []string{categoryFrom, categoryTo, categorySubject}

// addressCounter tallies senders, recipients and subjects and resolves
// addresses to their owning client.
type addressCounter struct {
	counts   map[string]map[string]int
	index    *directory.AddressIndex
	perUID   map[string]int
	messages int
	skipped  int
}

func newAddressCounter(index *directory.AddressIndex) *addressCounter {
	c := &addressCounter{
		counts: make(map[string]map[string]int),
		index:  index,
		perUID: make(map[string]int),
	}
	for _, category := range trackedCategories {
		c.counts[category] = make(map[string]int)
	}
	return c
}

func (c *addressCounter) add(msg model.RawMessage) {
	c.messages++
	owners := make(map[string]struct{})

	if sender := directory.NormalizeAddress(msg.SenderAddress()); sender != "" {
		c.counts[categoryFrom][sender]++
		if uid, ok := c.index.Lookup(sender); ok {
			owners[uid] = struct{}{}
		}
	}
	for _, rcpt := range msg.To {
		address := directory.NormalizeAddress(rcpt.Address)
		if address == "" {
			continue
		}
		c.counts[categoryTo][address]++
		if uid, ok := c.index.Lookup(address); ok {
			owners[uid] = struct{}{}
		}
	}
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = model.NoSubject
	}
	c.counts[categorySubject][subject]++

	for uid := range owners {
		c.perUID[uid]++
	}
}

func (c *addressCounter) owner(address string) string {
	uid, _ := c.index.Lookup(address)
	return uid
}

// NewAddressStatsCommand reports the most frequent addresses of a mail file
// and which client owns them.
func NewAddressStatsCommand(newLogger LoggerFactory) *cobra.Command {
	var (
		reportDir      string
		topN           int
		includeSubject []string
		includeBody    []string
		excludeSubject []string
		excludeBody    []string
	)

	c := &cobra.Command{
		Use:   "address-stats [mbox or json file]",
		Short: "Show the most frequent senders and recipients and the clients owning them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := commandLogger(cmd, newLogger)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			f, err := filter.New(filter.Options{
				IncludeSubject: includeSubject,
				IncludeBody:    includeBody,
				ExcludeSubject: excludeSubject,
				ExcludeBody:    excludeBody,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			dirPath, err := config.LoadDirectoryPath(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			book, closeBook, err := OpenBook(ctx, dirPath)
			if err != nil {
				return err
			}
			defer func() { _ = closeBook() }()
			snap, err := book.Snapshot()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			path := args[0]
			fmt.Fprintln(out, "Analyzing mail file:", path)

			counter := newAddressCounter(directory.BuildIndex(snap, logger))
			visit := func(msg model.RawMessage) error {
				if f.Active() && !f.Allows(msg.Subject, normalize.Normalize(msg.Body.Content)) {
					counter.skipped++
					return nil
				}
				counter.add(msg)
				return nil
			}

			if err := scanMailFile(ctx, path, logger, visit); err != nil {
				return err
			}

			printAddressStats(out, counter, snap, topN)

			if err := saveCSVReports(counter, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	c.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	c.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	c.Flags().StringArrayVar(&includeSubject, "include-subject", nil, "Regex allow-list applied to subjects (mutually exclusive with exclude flags)")
	c.Flags().StringArrayVar(&includeBody, "include-body", nil, "Regex allow-list applied to normalized bodies (mutually exclusive with exclude flags)")
	c.Flags().StringArrayVar(&excludeSubject, "exclude-subject", nil, "Regex block-list applied to subjects (mutually exclusive with include flags)")
	c.Flags().StringArrayVar(&excludeBody, "exclude-body", nil, "Regex block-list applied to normalized bodies (mutually exclusive with include flags)")
	return c
}

// scanMailFile streams mbox files and decodes JSON files in one go.
func scanMailFile(ctx context.Context, path string, logger *slog.Logger, fn func(model.RawMessage) error) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		msgs, err := ingest.LoadFile(ctx, path, logger)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := fn(msg); err != nil {
				return err
			}
		}
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	if err := ingest.ReadMbox(ctx, file, logger, fn); err != nil {
		return fmt.Errorf("error reading mbox file: %w", err)
	}
	return nil
}

func printAddressStats(out io.Writer, counter *addressCounter, snap *directory.Snapshot, topN int) {
	total := counter.messages + counter.skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(counter.skipped) / float64(total) * 100
	}
	fmt.Fprintf(out, "Processed %d messages (skipped %d by filters, %.2f%%)...\n\n", counter.messages, counter.skipped, filterPercent)

	for _, category := range trackedCategories {
		fmt.Fprintf(out, "Top %d %s:\n", topN, category)
		stats.PrettyPrintTop(out, counter.counts[category], topN)
		fmt.Fprintln(out)
	}

	byClient := make(map[string]int, len(counter.perUID))
	for uid, n := range counter.perUID {
		label := uid
		if client, ok := snap.Lookup(uid); ok && client.FileAs != "" {
			label = fmt.Sprintf("%s (%s)", client.FileAs, uid)
		}
		byClient[label] = n
	}
	fmt.Fprintf(out, "Top %d clients by messages:\n", topN)
	stats.PrettyPrintTop(out, byClient, topN)
}

func saveCSVReports(counter *addressCounter, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, category := range trackedCategories {
		counts := counter.counts[category]
		withOwner := category != categorySubject

		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", strings.ToLower(category)))
		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		header := []string{"Value", "Count"}
		if withOwner {
			header = append(header, "Client")
		}
		if err := writer.Write(header); err != nil {
			file.Close()
			return err
		}

		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].Value != pairs[j].Value {
				return pairs[i].Value > pairs[j].Value
			}
			return pairs[i].Key < pairs[j].Key
		})

		for i := 0; i < limit && i < len(pairs); i++ {
			record := []string{pairs[i].Key, strconv.Itoa(pairs[i].Value)}
			if withOwner {
				record = append(record, counter.owner(pairs[i].Key))
			}
			if err := writer.Write(record); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}
