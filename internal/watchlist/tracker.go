// Package watchlist turns detected monitoring intent into durable
// watchlist entries.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/antoniostano/govsight/internal/memory"
	"github.com/antoniostano/govsight/internal/nlu"
)

var ErrEmptyTopic = errors.New("watch topic is empty")

// Tracker creates watchlist items from model-detected signals or explicit
// commands. Duplicate topics are allowed on purpose: each entry is a
// record of tracking intent, and pruning is the caller's policy call.
type Tracker struct {
	store    memory.Store
	detector nlu.WatchDetector
}

func NewTracker(store memory.Store, detector nlu.WatchDetector) *Tracker {
	return &Tracker{store: store, detector: detector}
}

// Create resolves or creates the named entity and inserts an active item.
func (t *Tracker) Create(ctx context.Context, topic, entityName string, frequency memory.Frequency) (int64, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return 0, ErrEmptyTopic
	}
	switch frequency {
	case memory.FrequencyDaily, memory.FrequencyWeekly, memory.FrequencyMonthly:
	default:
		frequency = memory.FrequencyWeekly
	}

	id, err := t.store.CreateWatch(ctx, topic, strings.TrimSpace(entityName), frequency)
	if err != nil {
		return 0, fmt.Errorf("create watch: %w", err)
	}
	return id, nil
}

// InspectTurn runs the detector over one exchange and creates a watch when
// it signals. Detector failures are logged and ignored: a flaky model must
// not break turn handling.
func (t *Tracker) InspectTurn(ctx context.Context, userText, assistantText string) (created bool, id int64) {
	if t.detector == nil {
		return false, 0
	}
	sig, err := t.detector.DetectFromTurn(ctx, userText, assistantText)
	if err != nil {
		log.Printf("watchlist: detection failed err=%v", err)
		return false, 0
	}
	if !sig.ShouldCreate {
		return false, 0
	}

	id, err = t.Create(ctx, sig.Topic, sig.EntityName, sig.Frequency)
	if err != nil {
		log.Printf("watchlist: create failed topic=%q err=%v", sig.Topic, err)
		return false, 0
	}
	return true, id
}
