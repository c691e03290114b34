package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/followup"
)

// CreateJob stores a new job and indexes it. At most one non-terminal job may
// exist per (client, stage).
func (s *Store) CreateJob(ctx context.Context, job *followup.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		pairs := tx.Bucket(bucketJobsByPair)
		pk := pairKey(job.ClientID, string(job.Stage))

		if existingID := pairs.Get(pk); existingID != nil {
			data := jobs.Get(existingID)
			if data != nil {
				var existing followup.Job
				if err := json.Unmarshal(data, &existing); err == nil && !existing.Terminal() {
					return fmt.Errorf("active job %s already exists for client %s stage %s",
						existing.ID, job.ClientID, job.Stage)
				}
			}
		}

		now := time.Now()
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := jobs.Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to store job: %w", err)
		}
		if !job.Terminal() {
			if err := pairs.Put(pk, []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to index job pair: %w", err)
			}
		}
		if job.Status == followup.StatusActive {
			due := tx.Bucket(bucketJobsDue)
			if err := due.Put(makeIndexKey(job.NextSendAt, job.ID), []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to index due job: %w", err)
			}
		}
		return nil
	})
}

// GetJob retrieves a job by id, nil when absent
func (s *Store) GetJob(ctx context.Context, id string) (*followup.Job, error) {
	var job *followup.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return nil
		}
		job = &followup.Job{}
		return json.Unmarshal(data, job)
	})
	return job, err
}

// UpdateJob persists job mutations, moving the due-index entry to match the
// new NextSendAt and releasing the (client, stage) slot on terminal states.
func (s *Store) UpdateJob(ctx context.Context, job *followup.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		due := tx.Bucket(bucketJobsDue)

		stored := jobs.Get([]byte(job.ID))
		if stored == nil {
			return fmt.Errorf("job %s not found", job.ID)
		}
		var prev followup.Job
		if err := json.Unmarshal(stored, &prev); err != nil {
			return fmt.Errorf("failed to unmarshal stored job: %w", err)
		}

		// The index key is derived from (NextSendAt, ID), so the previous
		// entry can be removed without a scan.
		if err := due.Delete(makeIndexKey(prev.NextSendAt, prev.ID)); err != nil {
			return err
		}

		job.UpdatedAt = time.Now()
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := jobs.Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		if job.Status == followup.StatusActive {
			if err := due.Put(makeIndexKey(job.NextSendAt, job.ID), []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to index due job: %w", err)
			}
		}
		if job.Terminal() {
			pairs := tx.Bucket(bucketJobsByPair)
			pk := pairKey(job.ClientID, string(job.Stage))
			if id := pairs.Get(pk); id != nil && string(id) == job.ID {
				if err := pairs.Delete(pk); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DeleteJob removes a job and its index entries
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		data := jobs.Get([]byte(id))
		if data != nil {
			var job followup.Job
			if err := json.Unmarshal(data, &job); err == nil {
				tx.Bucket(bucketJobsDue).Delete(makeIndexKey(job.NextSendAt, job.ID))
				pairs := tx.Bucket(bucketJobsByPair)
				pk := pairKey(job.ClientID, string(job.Stage))
				if existing := pairs.Get(pk); existing != nil && string(existing) == id {
					pairs.Delete(pk)
				}
			}
		}
		return jobs.Delete([]byte(id))
	})
}

// FindDue returns jobs eligible for processing at the given time, oldest
// first. UpdateJob removes non-active jobs from the due index; the
// Eligible re-check below covers the window between index read and record
// read.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]*followup.Job, error) {
	var dueJobs []*followup.Job

	err := s.db.View(func(tx *bolt.Tx) error {
		due := tx.Bucket(bucketJobsDue)
		jobs := tx.Bucket(bucketJobs)

		c := due.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break
			}
			data := jobs.Get(v)
			if data == nil {
				continue
			}
			var job followup.Job
			if err := json.Unmarshal(data, &job); err != nil {
				continue
			}
			if job.Eligible(now) {
				dueJobs = append(dueJobs, &job)
			}
		}
		return nil
	})

	return dueJobs, err
}

// ListJobs returns jobs matching the filter
func (s *Store) ListJobs(ctx context.Context, filter followup.ListFilter) ([]*followup.Job, error) {
	var result []*followup.Job

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()

		count := 0
		skipped := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job followup.Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}
			if filter.ClientID != "" && job.ClientID != filter.ClientID {
				continue
			}
			if filter.Stage != "" && job.Stage != filter.Stage {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			result = append(result, &job)
			count++
			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}
		return nil
	})

	return result, err
}

// JobStats returns population statistics
func (s *Store) JobStats(ctx context.Context) (*followup.Statistics, error) {
	stats := &followup.Statistics{
		Breakdown: make(map[crm.Stage]int64),
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job followup.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return nil
			}
			stats.Total++
			switch job.Status {
			case followup.StatusActive:
				if job.Paused {
					stats.Paused++
				} else {
					stats.Active++
				}
				stats.Breakdown[job.Stage]++
			case followup.StatusPaused:
				stats.Paused++
			case followup.StatusCompleted:
				stats.Completed++
			case followup.StatusFailed:
				stats.Failed++
			}
			return nil
		})
	})

	return stats, err
}

// CleanupTerminal purges completed/failed jobs older than maxAge
func (s *Store) CleanupTerminal(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		due := tx.Bucket(bucketJobsDue)

		var toDelete []*followup.Job
		c := jobs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job followup.Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}
			if job.Terminal() && job.UpdatedAt.Before(cutoff) {
				j := job
				toDelete = append(toDelete, &j)
			}
		}

		for _, job := range toDelete {
			if err := jobs.Delete([]byte(job.ID)); err != nil {
				return err
			}
			if err := due.Delete(makeIndexKey(job.NextSendAt, job.ID)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}
