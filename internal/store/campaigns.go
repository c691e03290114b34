package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/confra/outreach/internal/campaign"
)

// PutCampaign stores a campaign
func (s *Store) PutCampaign(ctx context.Context, c *campaign.Campaign) error {
	if c.ID == "" {
		return fmt.Errorf("campaign id is required")
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		return tx.Bucket(bucketCampaigns).Put([]byte(c.ID), data)
	})
}

// GetCampaign retrieves a campaign by id, nil when absent
func (s *Store) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	var c *campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCampaigns).Get([]byte(id))
		if data == nil {
			return nil
		}
		c = &campaign.Campaign{}
		return json.Unmarshal(data, c)
	})
	return c, err
}

// ListCampaigns returns all campaigns
func (s *Store) ListCampaigns(ctx context.Context) ([]*campaign.Campaign, error) {
	var campaigns []*campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c campaign.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			campaigns = append(campaigns, &c)
			return nil
		})
	})
	return campaigns, err
}
