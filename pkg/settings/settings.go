// Package settings stores per-key compression statistics: cumulative CPU
// factors, per-level benefit tallies, and a version counter enforcing
// optimistic concurrency across many concurrent writers.
package settings

import (
	"errors"
	"time"
)

// ErrNotFound indicates no record exists for the key.
var ErrNotFound = errors.New("settings record not found")

// ErrVersionConflict indicates a conditional write lost the race: the
// stored version no longer matches the version read.
var ErrVersionConflict = errors.New("settings version conflict")

// ErrAlreadyExists indicates a create raced with another creator.
var ErrAlreadyExists = errors.New("settings record already exists")

// LevelStats accumulates the outcome of trials at one compression level.
// All fields only ever grow.
type LevelStats struct {
	SumBenefit float64 `json:"sum_benefit" dynamodbav:"sum_benefit"`
	Trials     int64   `json:"trials" dynamodbav:"trials"`
	Objects    int64   `json:"objects" dynamodbav:"objects"`
}

// AverageBenefit returns the mean benefit per object at this level, or 0
// when no objects have been processed.
func (s LevelStats) AverageBenefit() float64 {
	if s.Objects == 0 {
		return 0
	}
	return s.SumBenefit / float64(s.Objects)
}

// Record is the stored settings document for one bucket/prefix key.
// Version strictly increases with every successful write.
type Record struct {
	Key                 string             `json:"key" dynamodbav:"key"`
	SumCPUFactor        float64            `json:"sum_cpu_factor" dynamodbav:"sum_cpu_factor"`
	TotalProcessedFiles int64              `json:"total_processed_files" dynamodbav:"total_processed_files"`
	LastUpdated         time.Time          `json:"last_updated" dynamodbav:"last_updated"`
	Version             int64              `json:"version" dynamodbav:"version"`
	LevelStats          map[int]LevelStats `json:"level_stats" dynamodbav:"level_stats"`
}

// NewRecord returns a zeroed record at version 0 for the key.
func NewRecord(key string) *Record {
	return &Record{
		Key:         key,
		LastUpdated: time.Now().UTC(),
		LevelStats:  map[int]LevelStats{},
	}
}

// AverageCPUFactor returns the fleet-average CPU factor observed for this
// key, or 1.0 when no files have been processed yet.
func (r *Record) AverageCPUFactor() float64 {
	if r.TotalProcessedFiles == 0 {
		return 1.0
	}
	return r.SumCPUFactor / float64(r.TotalProcessedFiles)
}

// Clone returns a deep copy safe to mutate independently.
func (r *Record) Clone() *Record {
	cp := *r
	cp.LevelStats = make(map[int]LevelStats, len(r.LevelStats))
	for k, v := range r.LevelStats {
		cp.LevelStats[k] = v
	}
	return &cp
}

// RecordOutcome folds one archive's outcome into the record: the level's
// statistics, the CPU factor sum, and the processed-file total. Counters
// are incremented, never overwritten.
func (r *Record) RecordOutcome(level int, benefitScore, cpuFactor float64, objects int64) {
	stats := r.LevelStats[level]
	stats.SumBenefit += benefitScore
	stats.Trials++
	stats.Objects += objects
	r.LevelStats[level] = stats

	r.SumCPUFactor += cpuFactor
	r.TotalProcessedFiles += objects
	r.LastUpdated = time.Now().UTC()
}
