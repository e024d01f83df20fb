package exports

import (
	"strings"
	"testing"
	"time"

	"nhbmarket/integrations/indexer"
)

func sampleRecords() []indexer.EventRecord {
	return []indexer.EventRecord{
		{
			Sequence:   1,
			Type:       "market.listing.created",
			ListingID:  7,
			Collection: "nft1abc",
			Attributes: `{"listingId":"7","price":"100"}`,
			EmittedAt:  time.Unix(1700, 0).UTC(),
		},
		{
			Sequence:   2,
			Type:       "market.royalty.set",
			Collection: "nft1abc",
			Attributes: `{"bps":"250"}`,
			EmittedAt:  time.Unix(1701, 0).UTC(),
		},
	}
}

func TestEventsCSV(t *testing.T) {
	data, checksum, err := EventsCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.HasPrefix(output, "sequence,type,listing_id,collection,emitted_at,attributes\n") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, "1,market.listing.created,7,nft1abc") {
		t.Fatalf("missing listing row: %s", output)
	}
	if !strings.Contains(output, "2,market.royalty.set,,nft1abc") {
		t.Fatalf("royalty row must leave listing id blank: %s", output)
	}
}

func TestEventsJSONL(t *testing.T) {
	data, checksum, err := EventsJSONL(sampleRecords())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "\"listing_id\":7") || !strings.Contains(lines[0], "\"price\":\"100\"") {
		t.Fatalf("unexpected payload: %s", lines[0])
	}
	if strings.Contains(lines[1], "listing_id") {
		t.Fatalf("royalty line must omit listing id: %s", lines[1])
	}
}

func TestExportChecksumIsStable(t *testing.T) {
	_, first, err := EventsCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	_, second, err := EventsCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if first != second {
		t.Fatalf("checksum changed between runs")
	}
}

func TestEventsParquet(t *testing.T) {
	data, checksum, err := EventsParquet(sampleRecords())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("output is not framed as parquet")
	}
}
