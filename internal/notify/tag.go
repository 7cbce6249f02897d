package notify

import (
	"github.com/i474232898/flight-weather/internal/model"
)

// Tag attaches a message id to a subscription snapshot. It has no side
// effects; the caller supplies a fresh id per emitted update.
func Tag(f model.ForecastSubscription, messageID string) model.UpdateMessage {
	f.Airport = nil
	return model.UpdateMessage{
		ForecastSubscription: f,
		MessageID:            messageID,
	}
}
