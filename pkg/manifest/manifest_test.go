package manifest

import (
	"testing"
	"time"
)

func sampleManifest() *Manifest {
	return &Manifest{Objects: []Entry{
		{
			SourceBucket: "src-bucket",
			SourcePrefix: "docs",
			ObjectName:   "2024/report.pdf",
			Tags:         []Tag{{Key: "team", Value: "finance"}},
			CreationTime: "2024-03-01T12:00:00Z",
			ETag:         "abc123",
			Size:         1024,
			StorageClass: "STANDARD",
			Targets: []TargetSpec{
				{Bucket: "dst-west", Region: "us-west-2"},
				{Bucket: "dst-eu", Region: "eu-west-1", StorageClass: "GLACIER"},
			},
		},
		{
			SourceBucket: "src-bucket",
			SourcePrefix: "docs",
			ObjectName:   "2024/summary.txt",
			CreationTime: "2024-03-01T13:00:00Z",
			ETag:         "def456",
			Size:         64,
			Targets: []TargetSpec{
				{Bucket: "dst-eu", Region: "eu-west-1"},
			},
		},
		{
			SourceBucket: "src-bucket",
			SourcePrefix: "docs",
			ObjectName:   "2024/raw.tar",
			Size:         2048,
			Targets: []TargetSpec{
				{Bucket: "backup-west", Region: "us-west-2", Backup: true},
			},
		},
	}}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := sampleManifest()
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Objects) != 3 {
		t.Fatalf("got %d objects, want 3", len(got.Objects))
	}
	e := got.Objects[0]
	if e.ObjectName != "2024/report.pdf" || e.ETag != "abc123" || e.Size != 1024 {
		t.Errorf("first entry mismatch: %+v", e)
	}
	if len(e.Tags) != 1 || e.Tags[0].Key != "team" {
		t.Errorf("tags not preserved: %+v", e.Tags)
	}
	if len(e.Targets) != 2 || e.Targets[1].StorageClass != "GLACIER" {
		t.Errorf("targets not preserved: %+v", e.Targets)
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := Decode([]byte("not json at all")); err == nil {
		t.Fatal("Decode of garbage succeeded, want error")
	}
}

func TestMemberAndDestinationKey(t *testing.T) {
	e := Entry{SourcePrefix: "docs", ObjectName: "2024/report.pdf"}
	if got := e.MemberName(); got != "objects/2024/report.pdf" {
		t.Errorf("MemberName = %q", got)
	}
	if got := e.DestinationKey(); got != "docs/2024/report.pdf" {
		t.Errorf("DestinationKey = %q", got)
	}

	noPrefix := Entry{ObjectName: "a.txt"}
	if got := noPrefix.DestinationKey(); got != "a.txt" {
		t.Errorf("DestinationKey without prefix = %q", got)
	}
}

func TestParsedCreationTime(t *testing.T) {
	e := Entry{CreationTime: "2024-03-01T12:00:00Z"}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := e.ParsedCreationTime(); !got.Equal(want) {
		t.Errorf("ParsedCreationTime = %v, want %v", got, want)
	}
	if got := (&Entry{CreationTime: "bogus"}).ParsedCreationTime(); !got.IsZero() {
		t.Errorf("malformed time parsed to %v, want zero", got)
	}
}

func TestEffectiveStorageClass(t *testing.T) {
	e := Entry{StorageClass: "STANDARD"}
	if got := e.EffectiveStorageClass(TargetSpec{StorageClass: "GLACIER"}); got != "GLACIER" {
		t.Errorf("override: got %q", got)
	}
	if got := e.EffectiveStorageClass(TargetSpec{}); got != "STANDARD" {
		t.Errorf("fallback: got %q", got)
	}
}

func TestPartitionByRegion(t *testing.T) {
	m := sampleManifest()

	local, remote := m.Partition("us-west-2")
	if len(local) != 2 {
		t.Fatalf("us-west-2 local = %d entries, want 2", len(local))
	}
	if len(remote) != 1 || remote[0].ObjectName != "2024/summary.txt" {
		t.Errorf("us-west-2 remote = %+v, want only summary.txt", remote)
	}

	local, remote = m.Partition("eu-west-1")
	if len(local) != 2 || len(remote) != 1 {
		t.Errorf("eu-west-1 partition = %d local / %d remote, want 2/1", len(local), len(remote))
	}

	local, remote = m.Partition("ap-south-1")
	if len(local) != 0 || len(remote) != 3 {
		t.Errorf("unknown region partition = %d local / %d remote, want 0/3", len(local), len(remote))
	}
}

func TestBackupTargets(t *testing.T) {
	e := sampleManifest().Objects[2]
	if got := e.TargetsInRegion("us-west-2"); len(got) != 0 {
		t.Errorf("backup target leaked into extract targets: %+v", got)
	}
	backups := e.BackupTargetsInRegion("us-west-2")
	if len(backups) != 1 || backups[0].Bucket != "backup-west" {
		t.Errorf("BackupTargetsInRegion = %+v", backups)
	}
}

func TestRegionCount(t *testing.T) {
	if got := sampleManifest().RegionCount(); got != 2 {
		t.Errorf("RegionCount = %d, want 2", got)
	}
	if got := (&Manifest{}).RegionCount(); got != 0 {
		t.Errorf("empty RegionCount = %d, want 0", got)
	}
}
