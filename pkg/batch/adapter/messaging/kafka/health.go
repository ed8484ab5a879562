package kafka

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/segmentio/kafka-go"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Ping dials the brokers and succeeds as soon as one accepts a connection.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return exception.NewInvalidArgumentError("kafka", "no brokers configured")
	}
	var result *multierror.Error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		return conn.Close()
	}
	return result.ErrorOrNil()
}
