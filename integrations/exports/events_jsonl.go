package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"nhbmarket/integrations/indexer"
)

// EventsJSONL builds a JSON Lines export for the supplied indexed events and
// returns the serialised payload alongside a checksum.
func EventsJSONL(records []indexer.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		payload := map[string]interface{}{
			"sequence":   record.Sequence,
			"type":       record.Type,
			"collection": record.Collection,
			"emitted_at": record.EmittedAt.UTC().Format(time.RFC3339Nano),
			"attributes": record.AttributeMap(),
		}
		if record.ListingID != 0 {
			payload["listing_id"] = record.ListingID
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
