package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/confra/outreach/internal/crm"
)

// PutClient stores a client
func (s *Store) PutClient(ctx context.Context, client *crm.Client) error {
	if client.ID == "" {
		return fmt.Errorf("client id is required")
	}
	now := time.Now()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(client)
		if err != nil {
			return fmt.Errorf("failed to marshal client: %w", err)
		}
		return tx.Bucket(bucketClients).Put([]byte(client.ID), data)
	})
}

// GetClient retrieves a client by id, nil when absent
func (s *Store) GetClient(ctx context.Context, id string) (*crm.Client, error) {
	var client *crm.Client
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketClients).Get([]byte(id))
		if data == nil {
			return nil
		}
		client = &crm.Client{}
		return json.Unmarshal(data, client)
	})
	return client, err
}

// UpdateClient applies mutate to the stored client inside one transaction
func (s *Store) UpdateClient(ctx context.Context, id string, mutate func(*crm.Client) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketClients)
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("client %s not found", id)
		}

		var client crm.Client
		if err := json.Unmarshal(data, &client); err != nil {
			return fmt.Errorf("failed to unmarshal client: %w", err)
		}
		if err := mutate(&client); err != nil {
			return err
		}
		client.UpdatedAt = time.Now()

		updated, err := json.Marshal(&client)
		if err != nil {
			return fmt.Errorf("failed to marshal client: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

// PutConference stores a conference
func (s *Store) PutConference(ctx context.Context, conf *crm.Conference) error {
	if conf.ID == "" {
		return fmt.Errorf("conference id is required")
	}
	now := time.Now()
	if conf.CreatedAt.IsZero() {
		conf.CreatedAt = now
	}
	conf.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(conf)
		if err != nil {
			return fmt.Errorf("failed to marshal conference: %w", err)
		}
		return tx.Bucket(bucketConferences).Put([]byte(conf.ID), data)
	})
}

// GetConference retrieves a conference by id, nil when absent
func (s *Store) GetConference(ctx context.Context, id string) (*crm.Conference, error) {
	var conf *crm.Conference
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConferences).Get([]byte(id))
		if data == nil {
			return nil
		}
		conf = &crm.Conference{}
		return json.Unmarshal(data, conf)
	})
	return conf, err
}

// PutTemplate stores an email template
func (s *Store) PutTemplate(ctx context.Context, tmpl *crm.EmailTemplate) error {
	if tmpl.ID == "" {
		return fmt.Errorf("template id is required")
	}
	now := time.Now()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	tmpl.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(tmpl)
		if err != nil {
			return fmt.Errorf("failed to marshal template: %w", err)
		}
		return tx.Bucket(bucketTemplates).Put([]byte(tmpl.ID), data)
	})
}

// GetTemplate retrieves a template by id, nil when absent
func (s *Store) GetTemplate(ctx context.Context, id string) (*crm.EmailTemplate, error) {
	var tmpl *crm.EmailTemplate
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return nil
		}
		tmpl = &crm.EmailTemplate{}
		return json.Unmarshal(data, tmpl)
	})
	return tmpl, err
}

// PutAccount stores a mail account
func (s *Store) PutAccount(ctx context.Context, account *crm.MailAccount) error {
	if account.ID == "" {
		return fmt.Errorf("account id is required")
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		return tx.Bucket(bucketAccounts).Put([]byte(account.ID), data)
	})
}

// ListAccounts returns all mail accounts for an organization
func (s *Store) ListAccounts(ctx context.Context, orgID string) ([]*crm.MailAccount, error) {
	var accounts []*crm.MailAccount
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var account crm.MailAccount
			if err := json.Unmarshal(v, &account); err != nil {
				return nil
			}
			if account.OrganizationID == orgID {
				accounts = append(accounts, &account)
			}
			return nil
		})
	})
	return accounts, err
}
