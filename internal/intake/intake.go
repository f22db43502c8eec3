// Package intake decodes feed batches posted to the API into typed records.
//
// A batch is a JSON envelope holding one or more feeds, each tagged with
// its source table. The envelope is validated against a JSON schema; the
// records themselves are decoded leniently so that numeric identifiers,
// epoch timestamps and comma-separated tag strings from loosely typed
// feeds still map onto the typed record variants.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lvonguyen/threatlens/internal/signals"
	"github.com/valyala/fastjson"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrInvalidPayload marks a body that is not a valid batch envelope.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnknownSource marks a feed tagged with an unrecognized source table.
	ErrUnknownSource = errors.New("unknown source")
)

// Feed is one source's records in arrival order.
type Feed struct {
	Source  signals.SourceTable
	Records []signals.Record
}

// Batch is a decoded envelope.
type Batch struct {
	// Now is the evaluation time supplied by the caller; zero when absent.
	Now   time.Time
	Feeds []Feed
}

// Decoder validates and decodes batch envelopes. It is safe for concurrent
// use.
type Decoder struct {
	schema *gojsonschema.Schema
	parser fastjson.ParserPool
}

// NewDecoder compiles the envelope schema.
func NewDecoder() (*Decoder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode validates body against the envelope schema and decodes its feeds.
func (d *Decoder) Decode(body []byte) (*Batch, error) {
	if err := d.validate(body); err != nil {
		return nil, err
	}

	p := d.parser.Get()
	defer d.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	batch := &Batch{}
	if nowVal := v.Get("now"); nowVal != nil && nowVal.Type() != fastjson.TypeNull {
		now, ok := timestampValue(nowVal)
		if !ok {
			return nil, fmt.Errorf("%w: unparseable now %s", ErrInvalidPayload, nowVal)
		}
		batch.Now = now
	}

	for i, fv := range v.GetArray("feeds") {
		source := signals.SourceTable(fv.GetStringBytes("source"))
		decode, ok := decoders[source]
		if !ok {
			return nil, fmt.Errorf("%w: feed %d has source %q", ErrUnknownSource, i, source)
		}

		raw := fv.GetArray("records")
		feed := Feed{Source: source, Records: make([]signals.Record, 0, len(raw))}
		for _, rv := range raw {
			feed.Records = append(feed.Records, decode(rv))
		}
		batch.Feeds = append(batch.Feeds, feed)
	}

	return batch, nil
}

func (d *Decoder) validate(body []byte) error {
	result, err := d.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(issues, "; "))
}
