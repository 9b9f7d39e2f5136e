package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/frame/config"
)

type RealtimeConfig struct {
	config.ConfigurationDefault

	// Connection management
	MaxConnections       int `envDefault:"10000" env:"MAX_CONNECTIONS"`
	ConnectionTimeoutSec int `envDefault:"300"   env:"CONNECTION_TIMEOUT_SEC"`
	HeartbeatIntervalSec int `envDefault:"30"    env:"HEARTBEAT_INTERVAL_SEC"`

	// Rate limiting for inbound control frames, per connection
	MaxEventsPerSecond int `envDefault:"100" env:"MAX_EVENTS_PER_SECOND"`

	// Token verification - issuance lives in the identity service
	TokenSigningSecret string `envDefault:""        env:"TOKEN_SIGNING_SECRET"`
	TokenIssuer        string `envDefault:"hausops" env:"TOKEN_ISSUER"`

	// Cache configuration. Connection metadata is mirrored into the cache so
	// multiple realtime instances can observe each other's connections.
	CacheName            string `envDefault:"defaultCache"           env:"CACHE_NAME"`
	CacheURI             string `envDefault:"mem://defaultCache"     env:"CACHE_URI"`
	CacheCredentialsFile string `envDefault:""                       env:"CACHE_CREDENTIALS_FILE"`

	// Queue for events published by sibling CRUD services
	QueueRealtimeEventDeliveryName string `envDefault:"realtime.event.delivery"       env:"QUEUE_REALTIME_EVENT_DELIVERY_NAME"`
	QueueRealtimeEventDeliveryURI  string `envDefault:"mem://realtime.event.delivery" env:"QUEUE_REALTIME_EVENT_DELIVERY_URI"`
}

// Validate checks that the configuration is valid.
// Returns an error if any validation fails.
func (c *RealtimeConfig) Validate() error {
	var errs []error

	if c.MaxConnections < 1 {
		errs = append(errs, errors.New("MaxConnections must be >= 1"))
	}

	if c.ConnectionTimeoutSec <= 0 {
		errs = append(errs, errors.New("ConnectionTimeoutSec must be > 0"))
	}

	if c.HeartbeatIntervalSec <= 0 {
		errs = append(errs, errors.New("HeartbeatIntervalSec must be > 0"))
	}

	if c.ConnectionTimeoutSec <= c.HeartbeatIntervalSec {
		errs = append(errs, fmt.Errorf("ConnectionTimeoutSec (%d) must be > HeartbeatIntervalSec (%d)",
			c.ConnectionTimeoutSec, c.HeartbeatIntervalSec))
	}

	if c.MaxEventsPerSecond <= 0 {
		errs = append(errs, errors.New("MaxEventsPerSecond must be > 0"))
	}

	if c.TokenSigningSecret == "" {
		errs = append(errs, errors.New("TokenSigningSecret cannot be empty"))
	}

	if err := validateCacheURI(c.CacheURI, "CacheURI"); err != nil {
		errs = append(errs, err)
	}

	if err := validateQueueURI(c.QueueRealtimeEventDeliveryURI, "QueueRealtimeEventDeliveryURI"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateCacheURI checks that a cache URI has a valid scheme.
func validateCacheURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"redis://", "nats://", "mem://", "memory://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
