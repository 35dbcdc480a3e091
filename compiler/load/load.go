// Package load reads FHIR definition bundles into raw records.
package load

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"
)

// Result holds the output of a Load call.
type Result struct {
	// Records in source order, then entry order. Duplicates are removed.
	Records []*RawRecord
	// Warnings lists the recoverable problems met while loading.
	Warnings []DuplicateDefinition
}

// Option configures Load.
type Option func(*loader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ld *loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithTimeout bounds the remote archive download.
func WithTimeout(d time.Duration) Option {
	return func(ld *loader) {
		ld.timeout = d
	}
}

// WithRetries sets the number of download retries on transient failures.
func WithRetries(n int) Option {
	return func(ld *loader) {
		ld.retries = n
	}
}

// WithCacheDir overrides the directory used for downloaded archives and
// decoded records. Defaults to the XDG cache directory.
func WithCacheDir(dir string) Option {
	return func(ld *loader) {
		ld.cacheDir = dir
	}
}

// WithRecordCache enables the on-disk cache of decoded records.
func WithRecordCache(enabled bool) Option {
	return func(ld *loader) {
		ld.recordCache = enabled
	}
}

// WithWorkers limits how many sources are decoded concurrently.
func WithWorkers(n int) Option {
	return func(ld *loader) {
		ld.workers = n
	}
}

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(ld *loader) {
		ld.client = c
	}
}

type loader struct {
	logger      *slog.Logger
	client      *retryablehttp.Client
	timeout     time.Duration
	retries     int
	cacheDir    string
	recordCache bool
	workers     int
}

// Load reads the named sources of the bundle in the given order and returns
// one record per declared type, value set or profile.
func Load(ctx context.Context, b Bundle, opts ...Option) (*Result, error) {
	l := &loader{
		logger:  slog.Default(),
		timeout: 5 * time.Minute,
		retries: 3,
		workers: 4,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = newHTTPClient(l.logger, l.retries)
	}
	if len(b.Sources) == 0 {
		return &Result{}, nil
	}

	a, err := l.open(ctx, b)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	var cache *recordCache
	if l.recordCache && a.path != "" {
		if cache, err = l.newRecordCache(b, a.path); err != nil {
			l.logger.Warn("record cache disabled", "error", err)
			cache = nil
		}
	}

	decoded := make([][]*RawRecord, len(b.Sources))
	g, gctx := errgroup.WithContext(ctx)
	if l.workers > 0 {
		g.SetLimit(l.workers)
	}
	for i, name := range b.Sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if recs, ok := cache.get(name); ok {
				decoded[i] = recs
				return nil
			}
			recs, err := l.readSource(a.fsys, b.Location, name)
			if err != nil {
				return err
			}
			decoded[i] = recs
			cache.put(name, recs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return l.merge(decoded), nil
}

// merge flattens the decoded sources in order, keeping the first record
// declared for each canonical URL.
func (l *loader) merge(decoded [][]*RawRecord) *Result {
	res := &Result{}
	seen := make(map[string]*RawRecord)
	for _, recs := range decoded {
		for _, r := range recs {
			if prev, ok := seen[r.URL]; ok {
				w := DuplicateDefinition{URL: r.URL, Kept: prev.Origin(), Dropped: r.Origin()}
				l.logger.Warn("duplicate definition ignored",
					"url", w.URL, "kept", w.Kept.String(), "ignored", w.Dropped.String())
				res.Warnings = append(res.Warnings, w)
				continue
			}
			seen[r.URL] = r
			res.Records = append(res.Records, r)
		}
	}
	return res
}

func (l *loader) readSource(fsys fs.FS, location, name string) ([]*RawRecord, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, NewSourceUnavailableError(location, name, false, err)
	}
	recs, err := decodeSource(name, data)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("source decoded", "source", name, "records", len(recs))
	return recs, nil
}

// decodeSource parses a single resource or a Bundle of resources.
func decodeSource(name string, data []byte) ([]*RawRecord, error) {
	var hdr resourceHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, malformed(name, "", data, err)
	}
	if hdr.ResourceType != "Bundle" {
		rec, err := decodeResource(name, 0, hdr.ResourceType, data)
		if err != nil {
			return nil, malformed(name, "", data, err)
		}
		if rec == nil {
			return nil, nil
		}
		return []*RawRecord{rec}, nil
	}
	var bd bundle
	if err := json.Unmarshal(data, &bd); err != nil {
		return nil, malformed(name, "", data, err)
	}
	recs := make([]*RawRecord, 0, len(bd.Entry))
	for i, e := range bd.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		pos := fmt.Sprintf("entry[%d]", i)
		var eh resourceHeader
		if err := json.Unmarshal(e.Resource, &eh); err != nil {
			return nil, malformed(name, pos, e.Resource, err)
		}
		rec, err := decodeResource(name, i, eh.ResourceType, e.Resource)
		if err != nil {
			return nil, malformed(name, pos, e.Resource, err)
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// decodeResource returns nil for resource types that declare no types.
func decodeResource(source string, index int, resourceType string, data []byte) (*RawRecord, error) {
	switch resourceType {
	case "StructureDefinition":
		var sd structureDefinition
		if err := json.Unmarshal(data, &sd); err != nil {
			return nil, err
		}
		if sd.URL == "" {
			return nil, errors.New("structure definition without url")
		}
		return sd.record(source, index), nil
	case "ValueSet":
		var vs valueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return nil, err
		}
		if vs.URL == "" {
			return nil, errors.New("value set without url")
		}
		return vs.record(source, index), nil
	case "":
		return nil, errors.New("missing resourceType")
	default:
		return nil, nil
	}
}

// malformed builds a MalformedSourceError, translating decoder offsets into
// a line number when available.
func malformed(source, pos string, data []byte, err error) error {
	var (
		syntax *json.SyntaxError
		typ    *json.UnmarshalTypeError
		offset int64 = -1
	)
	switch {
	case errors.As(err, &syntax):
		offset = syntax.Offset
	case errors.As(err, &typ):
		offset = typ.Offset
	case errors.Is(err, io.ErrUnexpectedEOF):
		offset = int64(len(data))
	}
	if offset >= 0 {
		hint := fmt.Sprintf("line %d, offset %d", lineOf(data, offset), offset)
		if pos != "" {
			hint = pos + " " + hint
		}
		pos = hint
	}
	return NewMalformedSourceError(source, pos, "", err)
}

func lineOf(data []byte, offset int64) int {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return bytes.Count(data[:offset], []byte{'\n'}) + 1
}
