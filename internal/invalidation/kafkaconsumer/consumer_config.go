package kafkaconsumer

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	ClientID            string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// OpTimeout bounds the cache deletes done for one event.
	OpTimeout time.Duration
}

func FromEnv() Config {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "cutout-invalidation"
	}
	group := os.Getenv("KAFKA_GROUP_ID")
	if group == "" {
		group = "cutout-cache-invalidator"
	}
	return Config{
		Brokers:             splitCSV(brokers),
		Topic:               topic,
		GroupID:             group,
		ClientID:            "cutout-" + uuid.NewString(),
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
		OpTimeout:           5 * time.Second,
	}
}

// SplitCSV turns a comma separated broker list into addresses.
func SplitCSV(s string) []string { return splitCSV(s) }

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
