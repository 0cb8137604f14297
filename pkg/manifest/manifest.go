// Package manifest defines the metadata document carried inside every
// archive: one entry per bundled object, each with its origin metadata and
// the list of destinations it must be delivered to.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is the wire format for creation timestamps.
const TimeFormat = time.RFC3339

// Tag is a single object tag carried through to the destination copy.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TargetSpec names one destination for an object. Backup targets receive
// the archive itself rather than the extracted object.
type TargetSpec struct {
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	StorageClass string `json:"storage_class,omitempty"`
	KMSKeyARN    string `json:"kms_key_arn,omitempty"`
	Backup       bool   `json:"backup,omitempty"`
}

// Entry describes one object inside the archive.
type Entry struct {
	SourceBucket string       `json:"source_bucket"`
	SourcePrefix string       `json:"source_prefix"`
	ObjectName   string       `json:"object_name"`
	Tags         []Tag        `json:"tags"`
	CreationTime string       `json:"creation_time"`
	ETag         string       `json:"etag"`
	Size         int64        `json:"size"`
	StorageClass string       `json:"storage_class,omitempty"`
	Targets      []TargetSpec `json:"targets"`
}

// Manifest is the ordered set of entries for one archive. Written once by
// the source side, read once by each target side.
type Manifest struct {
	Objects []Entry `json:"objects"`
}

// Encode serializes the manifest for embedding in the archive.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// Decode parses a manifest document. A syntactically invalid document is
// an error; an empty object list is not.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// MemberName returns the archive member name for the entry, derived from
// its relative key.
func (e *Entry) MemberName() string {
	return "objects/" + e.ObjectName
}

// DestinationKey returns the key the object is written under in a target
// bucket: the monitored prefix plus the relative key.
func (e *Entry) DestinationKey() string {
	if e.SourcePrefix == "" {
		return e.ObjectName
	}
	return e.SourcePrefix + "/" + e.ObjectName
}

// ParsedCreationTime returns the entry's creation time, or the zero time
// if the field is absent or malformed.
func (e *Entry) ParsedCreationTime() time.Time {
	t, err := time.Parse(TimeFormat, e.CreationTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EffectiveStorageClass resolves the storage class for a delivery: the
// target override wins, otherwise the object's original class.
func (e *Entry) EffectiveStorageClass(t TargetSpec) string {
	if t.StorageClass != "" {
		return t.StorageClass
	}
	return e.StorageClass
}

// TargetsInRegion returns the entry's non-backup targets in the given
// region.
func (e *Entry) TargetsInRegion(region string) []TargetSpec {
	var out []TargetSpec
	for _, t := range e.Targets {
		if t.Backup {
			continue
		}
		if t.Region == region {
			out = append(out, t)
		}
	}
	return out
}

// BackupTargetsInRegion returns the entry's backup-flagged targets in the
// given region.
func (e *Entry) BackupTargetsInRegion(region string) []TargetSpec {
	var out []TargetSpec
	for _, t := range e.Targets {
		if t.Backup && t.Region == region {
			out = append(out, t)
		}
	}
	return out
}

// Partition splits the manifest's entries into those with at least one
// target in the given region and those without. Entries in the second
// slice belong to pipeline instances running elsewhere.
func (m *Manifest) Partition(region string) (local, remote []Entry) {
	for _, e := range m.Objects {
		if len(e.TargetsInRegion(region)) > 0 || len(e.BackupTargetsInRegion(region)) > 0 {
			local = append(local, e)
		} else {
			remote = append(remote, e)
		}
	}
	return local, remote
}

// RegionCount returns the number of distinct target regions across all
// entries, used to scale transfer savings.
func (m *Manifest) RegionCount() int {
	regions := map[string]struct{}{}
	for _, e := range m.Objects {
		for _, t := range e.Targets {
			regions[t.Region] = struct{}{}
		}
	}
	return len(regions)
}
