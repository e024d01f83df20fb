package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"nhbmarket/integrations/indexer"
)

// EventsCSV builds a CSV export for the supplied indexed events and returns
// the serialised data alongside a SHA-256 checksum of the payload.
func EventsCSV(records []indexer.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "type", "listing_id", "collection", "emitted_at", "attributes"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		row := []string{
			strconv.FormatInt(record.Sequence, 10),
			record.Type,
			listingColumn(record.ListingID),
			record.Collection,
			record.EmittedAt.UTC().Format(time.RFC3339Nano),
			record.Attributes,
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func listingColumn(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}
