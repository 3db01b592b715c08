package capture

import (
	"fmt"

	"github.com/nocozen/nocozenbase/internal/doc"
	"github.com/nocozen/nocozenbase/internal/querybson"
	"github.com/nocozen/nocozenbase/internal/rule"
)

// Payload is the body of a DataSync job.
type Payload struct {
	CollName string
	Record   rule.ChangeRecord
}

// EncodePayload serializes p as extended JSON so that dates and numeric
// widths of the snapshots survive the queue.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := querybson.MarshalExtJSON(doc.Document{
		"collName": p.CollName,
		"biLog":    p.Record.ToDocument(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses a payload written by EncodePayload.
func DecodePayload(data []byte) (Payload, error) {
	d, err := querybson.UnmarshalExtJSON(data)
	if err != nil {
		return Payload{}, fmt.Errorf("decode job payload: %w", err)
	}
	coll, _ := d["collName"].(string)
	biLog, ok := doc.AsMap(d["biLog"])
	if !ok {
		return Payload{CollName: coll}, fmt.Errorf("decode job payload: missing change record")
	}
	rec, err := rule.ChangeRecordFromDocument(doc.Document(biLog))
	if err != nil {
		return Payload{}, fmt.Errorf("decode job payload: %w", err)
	}
	if rec.SourceCollection == "" {
		rec.SourceCollection = coll
	}
	return Payload{CollName: coll, Record: rec}, nil
}
