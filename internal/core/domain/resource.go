package domain

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// Resource is an opaque FHIR-like record. Only resourceType and id are
// interpreted by the sync core; everything else is carried as-is.
type Resource map[string]any

// Well-known resource fields.
const (
	FieldResourceType = "resourceType"
	FieldID           = "id"
	FieldMeta         = "meta"
	FieldTempID       = "_tempId"
)

// TempIDPrefix prefixes client-side ids assigned to resources created offline.
const TempIDPrefix = "temp-"

// ResourceType returns the resourceType field, or "" if absent.
func (r Resource) ResourceType() string {
	s, _ := r[FieldResourceType].(string)
	return s
}

// ID returns the id field, or "" if absent.
func (r Resource) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

// IsTemporary reports whether the resource carries a client-side temp id.
func (r Resource) IsTemporary() bool {
	if _, ok := r[FieldTempID]; ok {
		return true
	}
	return IsTempID(r.ID())
}

// IsTempID reports whether id was assigned client-side to an offline create.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Clone returns a deep copy made through a JSON round trip.
// Resources only ever hold JSON-compatible values.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		out := make(Resource, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Resource
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// Merge returns a copy of r with the fields of patch laid over it.
func (r Resource) Merge(patch Resource) Resource {
	out := r.Clone()
	if out == nil {
		out = Resource{}
	}
	for k, v := range patch.Clone() {
		out[k] = v
	}
	return out
}

// Bundle is the subset of a FHIR search bundle the core consumes.
type Bundle struct {
	Entries []Resource
	Total   int
}

// Query holds search parameters for a resource type.
type Query map[string]string

// Key returns a stable serialisation of the query, used as a cache key.
func (q Query) Key() string {
	if len(q) == 0 {
		return "all"
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := url.Values{}
	for _, k := range keys {
		vals.Set(k, q[k])
	}
	return vals.Encode()
}

// Soft-delete markers.
const (
	DeletedTagSystem = "http://medplum.com/fhir/CodeSystem/resource-status"
	DeletedTagCode   = "DELETED"
)

// SoftDeleted returns a copy of r representing its deletion.
// Clinical record types are never hard-deleted; instead:
//
//   - Patient, Practitioner: active=false
//   - Observation: status=entered-in-error
//   - DiagnosticReport, MedicationRequest, Appointment: status=cancelled
//   - anything else: a DELETED tag appended to meta.tag
func (r Resource) SoftDeleted() Resource {
	out := r.Clone()
	if out == nil {
		out = Resource{}
	}

	switch out.ResourceType() {
	case "Patient", "Practitioner":
		out["active"] = false
	case "Observation":
		out["status"] = "entered-in-error"
	case "DiagnosticReport", "MedicationRequest", "Appointment":
		out["status"] = "cancelled"
	default:
		meta, _ := out[FieldMeta].(map[string]any)
		if meta == nil {
			meta = map[string]any{}
		}
		tags, _ := meta["tag"].([]any)
		tags = append(tags, map[string]any{
			"system": DeletedTagSystem,
			"code":   DeletedTagCode,
		})
		meta["tag"] = tags
		out[FieldMeta] = meta
	}
	return out
}
