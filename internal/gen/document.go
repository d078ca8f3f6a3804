package gen

import (
	"math"
	"math/rand"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Document is one generated time-series record in the persisted shape:
// timestamp, metadata, measurement, fields, padding.
type Document struct {
	Timestamp   time.Time
	Host        *Host
	Measurement string
	Fields      bson.D
	Padding     string

	size int // serialized BSON size, padding included
}

// SizeBytes returns the document's serialized BSON size.
func (d *Document) SizeBytes() int {
	return d.size
}

// BSON returns the ordered document sent to the storage engine.
func (d *Document) BSON() bson.D {
	doc := bson.D{
		{Key: "timestamp", Value: d.Timestamp},
		{Key: "metadata", Value: d.Host.metadata()},
		{Key: "measurement", Value: d.Measurement},
		{Key: "fields", Value: d.Fields},
	}
	if d.Padding != "" {
		doc = append(doc, bson.E{Key: "padding", Value: d.Padding})
	}
	return doc
}

func (h *Host) metadata() bson.D {
	return bson.D{
		{Key: "hostname", Value: h.Hostname},
		{Key: "region", Value: h.Region},
		{Key: "datacenter", Value: h.Datacenter},
		{Key: "rack", Value: h.Rack},
		{Key: "os", Value: h.OS},
		{Key: "arch", Value: h.Arch},
		{Key: "team", Value: h.Team},
		{Key: "service", Value: h.Service},
		{Key: "service_version", Value: h.ServiceVersion},
		{Key: "service_environment", Value: h.ServiceEnvironment},
	}
}

// SeriesKey appends the document's identity triple (hostname,
// measurement, unix timestamp) to buf and returns it. The key feeds
// the cardinality trackers.
func (d *Document) SeriesKey(buf []byte) []byte {
	buf = append(buf, d.Host.Hostname...)
	buf = append(buf, '|')
	buf = append(buf, d.Measurement...)
	buf = append(buf, '|')
	return strconv.AppendInt(buf, d.Timestamp.Unix(), 10)
}

// AppendJSON appends the document as one deterministic JSON object,
// timestamp in RFC3339. Used by the file sink for NDJSON output.
func (d *Document) AppendJSON(buf []byte) []byte {
	buf = append(buf, `{"timestamp":"`...)
	buf = d.Timestamp.UTC().AppendFormat(buf, time.RFC3339)
	buf = append(buf, `","metadata":`...)
	buf = appendJSONObject(buf, d.Host.metadata())
	buf = append(buf, `,"measurement":`...)
	buf = strconv.AppendQuote(buf, d.Measurement)
	buf = append(buf, `,"fields":`...)
	buf = appendJSONObject(buf, d.Fields)
	if d.Padding != "" {
		buf = append(buf, `,"padding":`...)
		buf = strconv.AppendQuote(buf, d.Padding)
	}
	return append(buf, '}')
}

func appendJSONObject(buf []byte, doc bson.D) []byte {
	buf = append(buf, '{')
	for i, e := range doc {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, e.Key)
		buf = append(buf, ':')
		switch v := e.Value.(type) {
		case string:
			buf = strconv.AppendQuote(buf, v)
		case int64:
			buf = strconv.AppendInt(buf, v, 10)
		case float64:
			buf = strconv.AppendFloat(buf, v, 'f', -1, 64)
		default:
			buf = append(buf, `null`...)
		}
	}
	return append(buf, '}')
}

// paddingOverhead is the BSON element cost of the padding field beyond
// the payload itself: type byte, "padding" key with terminator, string
// length prefix and terminator.
const paddingOverhead = 1 + len("padding") + 1 + 4 + 1

// padChars skews toward spaces so the padding compresses like real text.
const padChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789          "

// Builder assembles Documents and pads them toward the target size
// distribution.
type Builder struct {
	syn         *Synthesizer
	seed        int64
	targetBytes int
	variance    float64
}

// NewBuilder creates a document builder. docSizeKB <= 0 disables
// padding. variance must be in [0,1); it is validated upstream.
func NewBuilder(syn *Synthesizer, docSizeKB float64, variance float64, seed int64) *Builder {
	return &Builder{
		syn:         syn,
		seed:        seed,
		targetBytes: int(docSizeKB * 1024),
		variance:    variance,
	}
}

// Build produces one Document for the (host, measurement, timestamp)
// triple. The result is deterministic for a fixed seed.
func (b *Builder) Build(h *Host, m *Measurement, ts time.Time) Document {
	values := b.syn.Synthesize(m, h, ts)
	fields := make(bson.D, len(m.Fields))
	for i := range m.Fields {
		def := &m.Fields[i]
		var v interface{}
		if def.Round > 0 {
			shift := math.Pow(10, float64(def.Round))
			v = math.Round(values[i]*shift) / shift
		} else {
			v = int64(math.Round(values[i]))
		}
		fields[i] = bson.E{Key: def.Name, Value: v}
	}

	doc := Document{
		Timestamp:   ts,
		Host:        h,
		Measurement: m.Name,
		Fields:      fields,
	}

	raw, _ := bson.Marshal(doc.BSON())
	base := len(raw)
	doc.size = base

	if b.targetBytes > 0 {
		rng := rand.New(rand.NewSource(fieldSeed(b.seed, int64(h.ID), m.Name, "padding", b.syn.Step(ts))))
		target := int(float64(b.targetBytes) * (1 + (rng.Float64()*2-1)*b.variance))
		if pad := target - base - paddingOverhead; pad > 0 {
			doc.Padding = randomPadding(rng, pad)
			doc.size = base + paddingOverhead + pad
		}
	}
	return doc
}

func randomPadding(rng *rand.Rand, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = padChars[rng.Intn(len(padChars))]
	}
	return string(buf)
}
