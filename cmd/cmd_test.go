package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/dhcgn/clientmail/config"
)

func newRoot(t *testing.T) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := &cobra.Command{Use: "clientmail", SilenceUsage: true, SilenceErrors: true}
	if err := config.RegisterPersistentFlags(root); err != nil {
		t.Fatalf("RegisterPersistentFlags() error = %v", err)
	}
	root.AddCommand(NewAddressStatsCommand(nil), NewDirectoryCommand(nil))
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRoot(t)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDirectoryCommands(t *testing.T) {
	dirFile := filepath.Join(t.TempDir(), "clients.yaml")

	uid, err := execute(t, "directory", "add", "--directory", dirFile, "--name", "Alice Client",
		"--email", "alice@client.com", "--email", "dave@client.com")
	if err != nil {
		t.Fatalf("directory add error = %v", err)
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		t.Fatal("directory add printed no uid")
	}

	if _, err := execute(t, "directory", "add", "--directory", dirFile, "--name", "Bob", "--email", "Dave@client.com"); err != nil {
		t.Fatalf("second add error = %v", err)
	}
	if _, err := execute(t, "directory", "add", "--directory", dirFile); err == nil {
		t.Error("directory add without --name expected error")
	}

	out, err := execute(t, "directory", "list", "--directory", dirFile)
	if err != nil {
		t.Fatalf("directory list error = %v", err)
	}
	if !strings.Contains(out, uid) || !strings.Contains(out, "alice@client.com") || !strings.Contains(out, "Bob") {
		t.Errorf("list output = %s", out)
	}

	out, err = execute(t, "directory", "conflicts", "--directory", dirFile)
	if err != nil {
		t.Fatalf("directory conflicts error = %v", err)
	}
	if !strings.Contains(out, "dave@client.com: owned by "+uid) {
		t.Errorf("conflicts output = %s", out)
	}

	if _, err := execute(t, "directory", "set-primary", "--directory", dirFile, uid, "dave@client.com"); err != nil {
		t.Fatalf("set-primary error = %v", err)
	}
	if _, err := execute(t, "directory", "set-primary", "--directory", dirFile, "missing", "x@y.z"); err == nil {
		t.Error("set-primary on unknown uid expected error")
	}

	importDB := filepath.Join(t.TempDir(), "clients.db")
	out, err = execute(t, "directory", "import", "--directory", importDB, dirFile)
	if err != nil {
		t.Fatalf("directory import error = %v", err)
	}
	if !strings.Contains(out, "added 2, updated 0") {
		t.Errorf("import output = %s", out)
	}
	out, err = execute(t, "directory", "list", "--directory", importDB)
	if err != nil {
		t.Fatalf("list imported error = %v", err)
	}
	if !strings.Contains(out, uid) {
		t.Errorf("imported list misses %s: %s", uid, out)
	}
}

func TestAddressStatsCommand(t *testing.T) {
	tmp := t.TempDir()
	dirFile := filepath.Join(tmp, "clients.yaml")
	if err := os.WriteFile(dirFile, []byte("clients:\n  - uid: c1\n    name: Alice\n    fileAs: Alice\n    emails: [alice@client.com]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	reports := filepath.Join(tmp, "reports")

	out, err := execute(t, "address-stats", "--directory", dirFile, "-o", reports, "--top", "3",
		filepath.Join("..", "ingest", "testdata", "sample.mbox"))
	if err != nil {
		t.Fatalf("address-stats error = %v", err)
	}
	if !strings.Contains(out, "Processed 2 messages") || !strings.Contains(out, "Alice (c1) (2)") {
		t.Errorf("output = %s", out)
	}

	data, err := os.ReadFile(filepath.Join(reports, "report_from.csv"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "alice@client.com,1,c1") {
		t.Errorf("report_from.csv = %s", data)
	}
	for _, name := range []string{"report_to.csv", "report_subject.csv"} {
		if _, err := os.Stat(filepath.Join(reports, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestAddressStatsCommand_FilterConflict(t *testing.T) {
	_, err := execute(t, "address-stats", "--include-subject", "a", "--exclude-body", "b", "x.mbox")
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("address-stats error = %v, want mutually exclusive", err)
	}
}
