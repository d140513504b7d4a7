package kafka

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"

	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// eventHubsKafkaPort is the Kafka-protocol port of an Event Hubs namespace.
const eventHubsKafkaPort = "9093"

// Endpoint is a resolved set of brokers and the credentials to reach them.
type Endpoint struct {
	Brokers []string
	SASL    sasl.Mechanism
	TLS     *tls.Config
}

// ResolveEndpoint derives the broker endpoint from an explicit broker list or
// a connection string. A Service Bus style connection string
// ("Endpoint=sb://<ns>.servicebus.windows.net/;SharedAccessKeyName=...")
// resolves to the namespace's Kafka endpoint with SASL PLAIN over TLS. Any
// other connection string is read as a comma-separated broker list.
func ResolveEndpoint(brokers []string, connStr string) (Endpoint, error) {
	if len(brokers) > 0 {
		return Endpoint{Brokers: brokers}, nil
	}
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return Endpoint{}, fmt.Errorf("kafka: no brokers or connection string")
	}

	if host, ok := serviceBusHost(connStr); ok {
		return Endpoint{
			Brokers: []string{host + ":" + eventHubsKafkaPort},
			SASL:    plain.Mechanism{Username: "$ConnectionString", Password: connStr},
			TLS:     &tls.Config{MinVersion: tls.VersionTLS12},
		}, nil
	}

	var out []string
	for _, b := range strings.Split(connStr, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return Endpoint{}, fmt.Errorf("kafka: connection string has no brokers")
	}
	return Endpoint{Brokers: out}, nil
}

func serviceBusHost(connStr string) (string, bool) {
	for _, part := range strings.Split(connStr, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "Endpoint") {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(v))
		if err != nil || u.Host == "" {
			return "", false
		}
		return u.Hostname(), true
	}
	return "", false
}
