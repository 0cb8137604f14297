// Package events receives object-creation notifications from a queue and
// parses the object-store event envelope.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrTestEvent marks the synthetic notification the object store emits
// when event delivery is first configured. Discarded without processing.
var ErrTestEvent = errors.New("synthetic test event")

// ErrNoEvents marks a well-formed envelope whose records carry no
// creation event, such as an ObjectRemoved notification. Discarded
// without processing; leaving it leased would redeliver it forever.
var ErrNoEvents = errors.New("no creation events")

// ObjectCreated is one parsed creation notification.
type ObjectCreated struct {
	EventName string
	Region    string
	Bucket    string
	Key       string
	Size      int64
	ETag      string
}

type envelope struct {
	Event   string `json:"Event"`
	Records []struct {
		EventName string `json:"eventName"`
		AWSRegion string `json:"awsRegion"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
				ETag string `json:"eTag"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseNotification decodes one queue message body into creation events.
// Returns ErrTestEvent for the configuration-time synthetic notification,
// ErrNoEvents for an envelope with no creation records, and an error for
// anything else that is not a creation envelope.
func ParseNotification(body string) ([]ObjectCreated, error) {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("parse notification: %w", err)
	}
	if env.Event == "s3:TestEvent" {
		return nil, ErrTestEvent
	}
	if len(env.Records) == 0 {
		return nil, errors.New("parse notification: no records")
	}

	events := make([]ObjectCreated, 0, len(env.Records))
	for _, r := range env.Records {
		if !strings.HasPrefix(r.EventName, "ObjectCreated") {
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			key = r.S3.Object.Key
		}
		events = append(events, ObjectCreated{
			EventName: r.EventName,
			Region:    r.AWSRegion,
			Bucket:    r.S3.Bucket.Name,
			Key:       key,
			Size:      r.S3.Object.Size,
			ETag:      r.S3.Object.ETag,
		})
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	return events, nil
}
