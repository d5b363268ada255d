package clients

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	redisWrapper "github.com/weftlabs/weft/common/redis"
)

// RedisCASClient stores content-addressed blobs in Redis. Oversized
// execution results are offloaded here and referenced by CAS ID from
// the status records; readers resolve the reference on load.
type RedisCASClient struct {
	redis  *redisWrapper.Client
	ttl    time.Duration
	logger Logger
}

// NewRedisCASClient creates a new Redis-based CAS client. Entries expire
// after ttl; zero means no expiry.
func NewRedisCASClient(redis *redisWrapper.Client, ttl time.Duration, logger Logger) *RedisCASClient {
	return &RedisCASClient{
		redis:  redis,
		ttl:    ttl,
		logger: logger,
	}
}

// Put stores data and returns the CAS ID (SHA256 hash)
func (c *RedisCASClient) Put(ctx context.Context, data []byte) (string, error) {
	hash := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	casKey := fmt.Sprintf("cas:%s", hash)

	err := c.redis.SetWithExpiry(ctx, casKey, string(data), c.ttl)
	if err != nil {
		c.logger.Error("failed to store in CAS", "cas_id", hash, "error", err)
		return "", fmt.Errorf("failed to store in CAS: %w", err)
	}

	c.logger.Debug("stored in CAS", "cas_id", hash, "size", len(data))
	return hash, nil
}

// Get retrieves data by CAS ID
func (c *RedisCASClient) Get(ctx context.Context, casID string) ([]byte, error) {
	casKey := fmt.Sprintf("cas:%s", casID)

	data, err := c.redis.Get(ctx, casKey)
	if err != nil {
		c.logger.Warn("CAS entry not found", "cas_id", casID)
		return nil, fmt.Errorf("CAS entry not found: %s", casID)
	}

	c.logger.Debug("retrieved from CAS", "cas_id", casID, "size", len(data))
	return []byte(data), nil
}

// Store marshals data to JSON and stores it
func (c *RedisCASClient) Store(ctx context.Context, data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}
	return c.Put(ctx, jsonData)
}
