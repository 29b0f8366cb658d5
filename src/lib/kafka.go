package lib

import (
	"context"
	"encoding/json"
	"log"
	"thruster/src/types"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// KafkaPublisher keeps a single producer for the life of the process.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(broker, clientId string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  broker,
		"client.id":          clientId,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		log.Printf("Error on producer: %s\n", err.Error())
		return nil, err
	}
	go func() {
		for e := range p.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					log.Printf("[Kafka] Delivery failed for %s: %s\n", string(ev.Key), ev.TopicPartition.Error.Error())
				}
			case kafka.Error:
				log.Printf("[Kafka] Producer error: %s\n", ev.Error())
			}
		}
	}()
	return &KafkaPublisher{producer: p}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload types.JSONB) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil)
}

func (k *KafkaPublisher) Close() {
	remaining := k.producer.Flush(5000)
	if remaining > 0 {
		log.Printf("[Kafka] %d messages not delivered on shutdown\n", remaining)
	}
	k.producer.Close()
}

func KafkaCreateTopics(broker string, topics ...string) ([]kafka.TopicResult, error) {
	a, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": broker,
	})
	if err != nil {
		log.Printf("Error on AdminClient: %s\n", err.Error())
		return nil, err
	}
	defer a.Close()
	topicsDef := []kafka.TopicSpecification{}
	for _, topic := range topics {
		topicsDef = append(topicsDef, kafka.TopicSpecification{
			Topic:             topic,
			NumPartitions:     10,
			ReplicationFactor: 1,
		})
	}
	result, err := a.CreateTopics(context.Background(), topicsDef)
	if err != nil {
		log.Printf("Error creating topics: %s\n", err.Error())
		return nil, err
	}
	return result, nil
}
