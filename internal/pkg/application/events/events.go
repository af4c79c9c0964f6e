package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/logging"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"
)

const eventSource string = "github.com/diwise/facility-mgmt"

type Event interface {
	ContentType() string
	TopicName() string
	EventType() string
}

//go:generate moq -rm -out events_mock.go . EventSender

type EventSender interface {
	Send(ctx context.Context, e Event) error
	Close()
}

// Publisher delivers encoded events to a message broker.
type Publisher interface {
	Publish(ctx context.Context, topic, contentType string, body []byte) error
	Close()
}

type eventSender struct {
	subscribers map[string][]SubscriberConfig
	publishers  []Publisher
}

func New(cfg *Config, publishers ...Publisher) EventSender {
	e := &eventSender{
		subscribers: make(map[string][]SubscriberConfig),
		publishers:  publishers,
	}

	if cfg != nil {
		for _, s := range cfg.Notifications {
			e.subscribers[s.Type] = append(e.subscribers[s.Type], s.Subscribers...)
		}
	}

	return e
}

// Send posts the event as a cloud event to every subscriber of its type and
// hands it to the configured publishers. All targets are attempted.
func (e *eventSender) Send(ctx context.Context, evt Event) error {
	subscribers := e.subscribers[evt.EventType()]
	if len(subscribers) == 0 && len(e.publishers) == 0 {
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx)
	var errs []error

	if len(subscribers) > 0 {
		c, err := cloudevents.NewClientHTTP()
		if err != nil {
			return err
		}

		event := cloudevents.NewEvent()
		event.SetID(uuid.New().String())
		event.SetTime(time.Now().UTC())
		event.SetSource(eventSource)
		event.SetType(evt.EventType())

		err = event.SetData(evt.ContentType(), body)
		if err != nil {
			return err
		}

		for _, s := range subscribers {
			ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

			result := c.Send(ctxWithTarget, event)
			if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
				logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
				errs = append(errs, fmt.Errorf("%s: %w", s.Endpoint, result))
			}
		}
	}

	for _, p := range e.publishers {
		if err := p.Publish(ctx, evt.TopicName(), evt.ContentType(), body); err != nil {
			logger.Error().Err(err).Str("topic", evt.TopicName()).Msg("failed to publish event")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (e *eventSender) Close() {
	for _, p := range e.publishers {
		p.Close()
	}
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type Config struct {
	Notifications []Notification `yaml:"notifications"`
	AMQP          *AMQPConfig    `yaml:"amqp,omitempty"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err == nil {
		return &cfg, nil
	} else {
		return nil, err
	}
}
