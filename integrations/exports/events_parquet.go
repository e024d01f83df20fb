package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"nhbmarket/integrations/indexer"
)

type eventParquetRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ListingID  int64  `parquet:"name=listing_id, type=INT64"`
	Collection string `parquet:"name=collection, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmittedAt  string `parquet:"name=emitted_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// EventsParquet builds a snappy-compressed Parquet export of the supplied
// indexed events. Listing ids of zero mark events that are not tied to a
// listing.
func EventsParquet(records []indexer.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(buffer), new(eventParquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, record := range records {
		row := &eventParquetRow{
			Sequence:   record.Sequence,
			Type:       record.Type,
			ListingID:  int64(record.ListingID),
			Collection: record.Collection,
			EmittedAt:  record.EmittedAt.UTC().Format(time.RFC3339Nano),
			Attributes: record.Attributes,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
