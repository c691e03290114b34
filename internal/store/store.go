// Package store persists CRM entities, follow-up jobs, and campaigns in
// BoltDB. Values are JSON; due jobs are indexed in a time-ordered bucket.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketClients     = []byte("clients")
	bucketConferences = []byte("conferences")
	bucketTemplates   = []byte("templates")
	bucketAccounts    = []byte("accounts")
	bucketJobs        = []byte("jobs")
	bucketJobsDue     = []byte("jobs_due")
	bucketJobsByPair  = []byte("jobs_by_pair")
	bucketCampaigns   = []byte("campaigns")
)

// Store is the BoltDB-backed repository implementation
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store at path
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketClients, bucketConferences, bucketTemplates, bucketAccounts,
			bucketJobs, bucketJobsDue, bucketJobsByPair, bucketCampaigns,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *Store) DB() *bolt.DB {
	return s.db
}

// indexTimeLayout is fixed-width so index keys sort chronologically
const indexTimeLayout = "2006-01-02T15:04:05.000000000"

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeLayout) + "/" + id)
}

// parseTimestampFromKey extracts the timestamp from an index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	if len(s) < len(indexTimeLayout) {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeLayout, s[:len(indexTimeLayout)])
	return ts
}

// pairKey indexes the single active job per (client, stage)
func pairKey(clientID, stage string) []byte {
	return []byte(clientID + "/" + stage)
}
