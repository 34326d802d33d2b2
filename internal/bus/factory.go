package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/tsrr/internal/config"
	"github.com/ricesearch/tsrr/internal/pkg/errors"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBus(log), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.ValidationError("kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "tsrr"
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "tsrr-bus",
		}, log)

	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.ValidationError("redis url not configured")
		}
		return NewRedisBus(cfg.RedisURL, log)

	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}
