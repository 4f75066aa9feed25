// Package ingest turns object-created notifications into pending jobs and
// queue messages, and stages source objects for downstream consumers.
package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Notification identifies one newly created source object version
type Notification struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Version string `json:"version"`
}

// Event is the S3-style notification document
type Event struct {
	Records []EventRecord `json:"Records"`
}

// EventRecord is one entry of Event
type EventRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			VersionID string `json:"versionId"`
		} `json:"object"`
	} `json:"s3"`
}

// DecodeEvent parses an event document. Object keys arrive URL-encoded,
// with spaces as '+', and are decoded here.
func DecodeEvent(data []byte) ([]Notification, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid event document: %w", err)
	}

	notes := make([]Notification, 0, len(ev.Records))
	for i, rec := range ev.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid object key %q: %w", i, rec.S3.Object.Key, err)
		}
		if key == "" {
			return nil, fmt.Errorf("record %d: missing object key", i)
		}
		notes = append(notes, Notification{
			Bucket:  rec.S3.Bucket.Name,
			Key:     key,
			Version: rec.S3.Object.VersionID,
		})
	}
	return notes, nil
}
