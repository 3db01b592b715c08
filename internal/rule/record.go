package rule

import (
	"fmt"
	"strings"
	"time"

	"github.com/nocozen/nocozenbase/internal/doc"
)

// Collection name prefixes for business data and its log collection.
const (
	CollPrefix = "_mc_"
	LogPrefix  = "_lg_"
)

// Values of the logType discriminator in log collections.
const (
	LogTypeChange = "change"
	LogTypeSync   = "sync"
)

// LogCollection returns the log collection paired with coll: the "_mc_"
// prefix is replaced by "_lg_", and names without the prefix get "_lg_"
// prepended.
func LogCollection(coll string) string {
	if strings.HasPrefix(coll, CollPrefix) {
		return LogPrefix + strings.TrimPrefix(coll, CollPrefix)
	}
	return LogPrefix + coll
}

// Actor is the account that performed a mutation.
type Actor struct {
	ID     string `json:"_id" yaml:"_id"`
	Name   string `json:"name" yaml:"name"`
	Avatar string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

// SystemActor is recorded on writes performed by the sync engine.
var SystemActor = Actor{ID: "system", Name: "System"}

func (a Actor) toDocument() doc.Document {
	d := doc.Document{"_id": a.ID, "name": a.Name}
	if a.Avatar != "" {
		d["avatar"] = a.Avatar
	}
	return d
}

func actorFrom(v any) Actor {
	m, ok := doc.AsMap(v)
	if !ok {
		return Actor{}
	}
	return Actor{
		ID:     stringOf(m["_id"]),
		Name:   stringOf(m["name"]),
		Avatar: stringOf(m["avatar"]),
	}
}

// ChangeRecord is the immutable snapshot of one business mutation.
type ChangeRecord struct {
	ID               string       `json:"_id"`
	EntityID         string       `json:"data_id"`
	SourceCollection string       `json:"collName"`
	TriggerKind      TriggerKind  `json:"triggerType"`
	OldDoc           doc.Document `json:"oldDoc"`
	NewDoc           doc.Document `json:"newDoc"`
	Actor            Actor        `json:"optAccount"`
	TenantID         string       `json:"en_id"`
	OccurredAt       time.Time    `json:"logAt"`
}

// Subject returns the document trigger conditions are evaluated against: the
// old document for deletes, the new document otherwise.
func (r ChangeRecord) Subject() doc.Document {
	if r.TriggerKind == TriggerDelete {
		return r.OldDoc
	}
	return r.NewDoc
}

// ToDocument returns the stored form of the record.
func (r ChangeRecord) ToDocument() doc.Document {
	return doc.Document{
		"_id":         r.ID,
		"logType":     LogTypeChange,
		"data_id":     r.EntityID,
		"collName":    r.SourceCollection,
		"triggerType": string(r.TriggerKind),
		"oldDoc":      nullable(r.OldDoc),
		"newDoc":      nullable(r.NewDoc),
		"optAccount":  r.Actor.toDocument(),
		"execResult":  true,
		"resultMsg":   "Single operation successful",
		"errCode":     nil,
		"logAt":       r.OccurredAt,
		"en_id":       r.TenantID,
	}
}

// ChangeRecordFromDocument decodes a record stored by ToDocument.
func ChangeRecordFromDocument(d doc.Document) (ChangeRecord, error) {
	if t := stringOf(d["logType"]); t != "" && t != LogTypeChange {
		return ChangeRecord{}, fmt.Errorf("decode change record: log type %q", t)
	}
	kind, err := ParseTriggerKind(stringOf(d["triggerType"]))
	if err != nil {
		return ChangeRecord{}, fmt.Errorf("decode change record: %w", err)
	}
	r := ChangeRecord{
		ID:               stringOf(d["_id"]),
		EntityID:         stringOf(d["data_id"]),
		SourceCollection: stringOf(d["collName"]),
		TriggerKind:      kind,
		OldDoc:           documentOf(d["oldDoc"]),
		NewDoc:           documentOf(d["newDoc"]),
		Actor:            actorFrom(d["optAccount"]),
		TenantID:         stringOf(d["en_id"]),
	}
	if t, ok := d["logAt"].(time.Time); ok {
		r.OccurredAt = t
	}
	return r, nil
}

// AuditEntry records one target document touched by a rule execution.
// Delete entries keep the pre-image; edits keep only the applied patch.
type AuditEntry struct {
	ID               string
	TargetCollection string
	Action           Action
	TenantID         string
	AffectedID       any
	CreatedAt        time.Time
	RuleID           string
	SourceRecordID   string
	PreImage         doc.Document
	PostImage        doc.Document
}

// ToDocument returns the stored form of the entry.
func (a AuditEntry) ToDocument() doc.Document {
	return withID(a.ID, doc.Document{
		"logType":     LogTypeSync,
		"data_id":     idString(a.AffectedID),
		"collName":    a.TargetCollection,
		"triggerType": string(a.Action),
		"oldDoc":      nullable(a.PreImage),
		"newDoc":      nullable(a.PostImage),
		"optAccount":  SystemActor.toDocument(),
		"execResult":  true,
		"resultMsg":   "Data sync successful",
		"errCode":     nil,
		"logAt":       a.CreatedAt,
		"en_id":       a.TenantID,
		"rule":        a.RuleID,
		"source_id":   a.SourceRecordID,
	})
}

// RunLog records the outcome of one rule execution in the sync-log
// collection.
type RunLog struct {
	ID             string
	Rule           SyncRule
	TriggerAt      time.Time
	TriggerAccount Actor
	ExecResult     bool
	ResultMsg      string
	Affected       int
	TenantID       string
	SourceRecordID string
}

// ToDocument returns the stored form of the run log.
func (l RunLog) ToDocument() doc.Document {
	return withID(l.ID, doc.Document{
		"triggerAt":      l.TriggerAt,
		"triggerAccount": l.TriggerAccount.toDocument(),
		"execResult":     l.ExecResult,
		"resultMsg":      l.ResultMsg,
		"affected":       l.Affected,
		"dataSyncConfig": doc.Document{
			"collName":     l.Rule.SourceCollection,
			"targetColl":   l.Rule.TargetCollection,
			"dataSyncUid":  l.Rule.UID,
			"dataSyncName": l.Rule.Name,
		},
		"source_id": l.SourceRecordID,
		"logAt":     l.TriggerAt,
		"en_id":     l.TenantID,
	})
}

// withID sets "_id" when id is non-empty; otherwise the store assigns one.
func withID(id string, d doc.Document) doc.Document {
	if id != "" {
		d["_id"] = id
	}
	return d
}

func nullable(d doc.Document) any {
	if d == nil {
		return nil
	}
	return d
}

func documentOf(v any) doc.Document {
	if m, ok := doc.AsMap(v); ok {
		return doc.Document(m)
	}
	return nil
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// idString renders a document id for the data_id field.
func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case interface{ Hex() string }:
		return v.Hex()
	default:
		return fmt.Sprint(v)
	}
}

// EntityID returns the id of the mutated entity: the old document's "_id"
// when present, the new document's otherwise.
func EntityID(oldDoc, newDoc doc.Document) string {
	if id := oldDoc.ID(); id != nil {
		return idString(id)
	}
	return idString(newDoc.ID())
}
