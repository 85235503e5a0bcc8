package ota

import "testing"

func TestParseArchive_RoundTrip(t *testing.T) {
	files := []File{
		{Name: "main.py", Data: []byte("print('hi')")},
		{Name: "lib/util.py", Data: []byte("x = 1")},
	}
	raw := encodeArchive(12, files)

	got, err := ParseArchive(raw, 12)
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d files, want 2", len(got))
	}
	for i, f := range files {
		if got[i].Name != f.Name || string(got[i].Data) != string(f.Data) {
			t.Fatalf("record %d: got %+v, want %+v", i, got[i], f)
		}
	}
}

func TestParseArchive_VersionMismatch(t *testing.T) {
	raw := encodeArchive(5, nil)
	if _, err := ParseArchive(raw, 6); err == nil {
		t.Fatal("expected an error on version mismatch")
	}
}

func TestParseArchive_TruncatedHeader(t *testing.T) {
	if _, err := ParseArchive([]byte{0x01, 0x02}, 1); err == nil {
		t.Fatal("expected an error on truncated header")
	}
}

func TestParseArchive_EmptyArchiveNoRecords(t *testing.T) {
	raw := encodeArchive(1, nil)
	got, err := ParseArchive(raw, 1)
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records, want 0", len(got))
	}
}
