package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/stats"
)

const longBody = "Please review the attached contract before Friday because the signature deadline moves."

func testPackage() *model.ClientPackage {
	p := model.NewClientPackage(model.ClientRecord{UID: "c/1", EmailAddresses: []string{"a@x.com"}})
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	p.Inbound = []*model.Message{
		{ID: "in-1", Direction: model.Inbound, Subject: "Contract", BodyRaw: longBody, SentAt: day(2)},
		{ID: "in-2", Direction: model.Inbound, Subject: "Lunch", BodyRaw: "ok", SentAt: day(5)},
	}
	p.Outbound = []*model.Message{
		{ID: "out-1", Direction: model.Outbound, Subject: "Re: Contract review and deadline", BodyRaw: longBody, SentAt: day(3)},
	}
	return p
}

func TestCorrespondence(t *testing.T) {
	p := testPackage()

	all, dups := Correspondence(p, false)
	if len(all) != 3 || dups != nil {
		t.Fatalf("Correspondence(no dedup) = %d messages, %v", len(all), dups)
	}
	if all[0].ID != "in-2" || all[1].ID != "out-1" || all[2].ID != "in-1" {
		t.Errorf("order = %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	kept, dups := Correspondence(p, true)
	if len(kept) != 2 || len(dups) != 1 {
		t.Fatalf("Correspondence(dedup) = %d kept, %d dropped", len(kept), len(dups))
	}
	if dups[0].Message.ID != "in-1" || dups[0].Kept.ID != "out-1" {
		t.Errorf("duplicate = %s kept by %s", dups[0].Message.ID, dups[0].Kept.ID)
	}
	if len(p.Inbound) != 2 || p.Inbound[0].ID != "in-1" {
		t.Error("package must not be modified")
	}
}

func TestWriter_Stdout(t *testing.T) {
	var buf bytes.Buffer
	collector := stats.NewCollector()
	w := NewWriter(Options{Dedup: true}, &buf, collector, nil)
	w.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	if err := w.Write([]*model.ClientPackage{testPackage()}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	var docs []Document
	if err := json.Unmarshal(buf.Bytes(), &docs); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(docs) != 1 || docs[0].DuplicatesRemoved != 1 || len(docs[0].Correspondence) != 2 {
		t.Errorf("docs = %+v", docs)
	}
	if docs[0].Correspondence[0].Direction != model.Inbound || docs[0].Package.ClientUID != "c/1" {
		t.Errorf("first entry = %+v", docs[0].Correspondence[0])
	}
	if got := collector.Snapshot().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1", got)
	}
}

func TestWriter_Dir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewWriter(Options{Dir: dir}, nil, nil, nil)
	if err := w.Write([]*model.ClientPackage{testPackage()}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "c_1.json"))
	if err != nil {
		t.Fatalf("read package file: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode package file: %v", err)
	}
	if len(doc.Correspondence) != 3 || doc.DuplicatesRemoved != 0 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"abc-123":  "abc-123.json",
		"a/b\\c d": "a_b_c_d.json",
		"..":       "_.json",
		"":         "_.json",
		"x!?y":     "x_y.json",
	}
	for in, want := range tests {
		if got := FileName(in); got != want {
			t.Errorf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
}
