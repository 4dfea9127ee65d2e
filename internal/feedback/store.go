package feedback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iaros/recommend-engine/internal/logging"
	"github.com/iaros/recommend-engine/internal/model"
)

// feedbackDoc is the Mongo-sparse representation of model.FeedbackRow:
// ReasonCode and Sentiment are genuinely optional, so they use
// omitempty rather than always writing an empty string field.
type feedbackDoc struct {
	CustomerID   string    `bson:"customer_id"`
	ProductID    string    `bson:"product_id"`
	Rating       string    `bson:"rating"`
	ReasonCode   string    `bson:"reason_code,omitempty"`
	Sentiment    string    `bson:"sentiment,omitempty"`
	FeedbackDate time.Time `bson:"feedback_date,omitempty"`
}

// Store wraps the Mongo feedback collection behind a circuit breaker:
// a down store degrades to "no feedback" rather than failing the run.
type Store struct {
	collection *mongo.Collection
	breaker    *gobreaker.CircuitBreaker
	log        *logging.Logger
}

// NewStore connects to the feedback collection. Connection failures
// are returned to the caller, who may choose to run S5 in
// pass-through mode rather than abort the pipeline.
func NewStore(ctx context.Context, uri, database string, log *logging.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "feedback_store",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
	})
	return &Store{
		collection: client.Database(database).Collection("feedback"),
		breaker:    breaker,
		log:        log,
	}, nil
}

// Load reads all feedback rows. A circuit-open or query error is
// logged and treated as empty feedback, never fatal.
func (s *Store) Load(ctx context.Context) []model.FeedbackRow {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		cur, err := s.collection.Find(ctx, bson.M{})
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)
		var docs []feedbackDoc
		if err := cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	})
	if err != nil {
		s.log.WithError(err).Warn("feedback store unavailable, treating as no feedback")
		return nil
	}
	docs := result.([]feedbackDoc)
	rows := make([]model.FeedbackRow, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, model.FeedbackRow{
			CustomerID:   d.CustomerID,
			ProductID:    d.ProductID,
			Rating:       model.FeedbackRatingType(d.Rating),
			ReasonCode:   d.ReasonCode,
			Sentiment:    model.FeedbackSentiment(d.Sentiment),
			FeedbackDate: d.FeedbackDate,
		})
	}
	return rows
}

// SummaryPublisher publishes the feedback summary as a Kafka event so
// the next cycle's config step can react without polling the artifact
// store.
type SummaryPublisher struct {
	writer  *kafka.Writer
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger
}

// NewSummaryPublisher constructs a publisher for the named topic.
func NewSummaryPublisher(brokers []string, topic string, log *logging.Logger) *SummaryPublisher {
	return &SummaryPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "feedback_summary_publisher",
			Timeout:  10 * time.Second,
			Interval: 30 * time.Second,
		}),
		log: log,
	}
}

// Publish writes the summary to Kafka. A publish failure is logged,
// not fatal — the artifact on disk remains the durable record.
func (p *SummaryPublisher) Publish(ctx context.Context, runID string, summary *Summary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		p.log.WithError(err).Warn("failed to marshal feedback summary")
		return
	}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(runID),
			Value: payload,
		})
	})
	if err != nil {
		p.log.WithError(err).Warn("failed to publish feedback summary")
	}
}

// Close releases the Kafka writer's connections.
func (p *SummaryPublisher) Close() error {
	return p.writer.Close()
}
