package queue

import (
	"testing"

	"github.com/cuongbtq/dvt-pipeline/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryToMessage(t *testing.T) {
	tests := []struct {
		name      string
		delivery  amqp.Delivery
		wantCount int
		wantAttrs map[string]string
	}{
		{
			name: "first delivery with string headers",
			delivery: amqp.Delivery{
				DeliveryTag: 42,
				Body:        []byte("job-1"),
				Headers:     amqp.Table{"jobid": "job-1", "ignored": int32(3)},
			},
			wantCount: 1,
			wantAttrs: map[string]string{"jobid": "job-1"},
		},
		{
			name:      "classic queue redelivery",
			delivery:  amqp.Delivery{DeliveryTag: 7, Redelivered: true},
			wantCount: 2,
			wantAttrs: map[string]string{},
		},
		{
			name: "quorum queue delivery count",
			delivery: amqp.Delivery{
				DeliveryTag: 8,
				Redelivered: true,
				Headers:     amqp.Table{"x-delivery-count": int64(4)},
			},
			wantCount: 5,
			wantAttrs: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := deliveryToMessage(rabbitmq.Delivery{Delivery: tt.delivery, Generation: 1})
			assert.Equal(t, tt.wantCount, msg.ReceiveCount)
			assert.Equal(t, tt.wantAttrs, msg.Attributes)
			assert.Equal(t, string(tt.delivery.Body), msg.Body)
		})
	}

	msg := deliveryToMessage(rabbitmq.Delivery{Delivery: tests[0].delivery, Generation: 3})
	assert.Equal(t, "3:42", msg.ReceiptHandle)
}

func TestReceiptRoundTrip(t *testing.T) {
	generation, tag, err := parseReceipt(formatReceipt(7, 1234))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), generation)
	assert.Equal(t, uint64(1234), tag)
}

func TestParseReceipt_Malformed(t *testing.T) {
	for _, handle := range []string{"", "42", "a:1", "1:b", "1:2:3", "-1:2"} {
		t.Run(handle, func(t *testing.T) {
			_, _, err := parseReceipt(handle)
			assert.Error(t, err)
		})
	}
}
