// Package blockhandler implements RFC 7959 Block2 response fragmentation:
// a block-state cache keyed by (method, path, requester) and the two
// request/response interception points the router threads every exchange
// through.
package blockhandler

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dsnet/golib/memfile"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/jasta/coaphald/blockcodec"
	"github.com/jasta/coaphald/coreapi"
)

// block2OptionMaxLength is the worst-case number of bytes adding a Block2
// option to block 0 of a response could require: 1 byte option header
// extension plus up to 3 bytes of option value, rounded up the way the
// original block_handler.rs reserves a flat 8 bytes.
const block2OptionMaxLength = 8

// DefaultMaxTotalMessageSize is RFC 7252 §4.6's recommended maximum
// message size.
const DefaultMaxTotalMessageSize = 1152

// DefaultCacheExpiry is how long a block-state cache entry survives
// without being touched again.
const DefaultCacheExpiry = 120 * time.Second

// Config holds the block handler's tunables (spec §6 "Configuration
// knobs").
type Config struct {
	// MaxTotalMessageSize is the total framed message size budget offered
	// to the peer; NOT the payload block size, since dynamic option
	// overhead means the payload budget shrinks as options grow.
	MaxTotalMessageSize int
	// CacheExpiryDuration is how long a cache entry survives without
	// being touched; every access (read or write) bumps it.
	CacheExpiryDuration time.Duration
}

// DefaultConfig returns the RFC 7252/spec defaults.
func DefaultConfig() Config {
	return Config{
		MaxTotalMessageSize: DefaultMaxTotalMessageSize,
		CacheExpiryDuration: DefaultCacheExpiry,
	}
}

// cachedResponse is the full response packet captured the first time
// fragmentation was triggered for a key, backed by an in-memory file the
// way go-coap's own blockwise cache backs its reassembly buffers, so a
// busy server holding many concurrent oversized transfers isn't forced to
// keep each one as a second pinned byte-slice copy.
type cachedResponse struct {
	code          codes.Code
	contentFormat message.MediaType
	options       message.Options
	body          *memfile.File
	size          int
}

func newCachedResponse(resp *coreapi.Response) *cachedResponse {
	buf := make([]byte, len(resp.Payload))
	copy(buf, resp.Payload)
	opts := make(message.Options, len(resp.Options))
	copy(opts, resp.Options)
	return &cachedResponse{
		code:          resp.Code,
		contentFormat: resp.ContentFormat,
		options:       opts,
		body:          memfile.New(buf),
		size:          len(buf),
	}
}

func (c *cachedResponse) chunk(num int, size int) ([]byte, bool, error) {
	if _, err := c.body.Seek(0, io.SeekStart); err != nil {
		return nil, false, fmt.Errorf("seek cached response: %w", err)
	}
	full, err := io.ReadAll(c.body)
	if err != nil {
		return nil, false, fmt.Errorf("read cached response: %w", err)
	}
	start := num * size
	if start >= len(full) {
		return nil, false, fmt.Errorf("num=%d, block_size=%d", num, size)
	}
	end := start + size
	more := end < len(full)
	if end > len(full) {
		end = len(full)
	}
	return full[start:end], more, nil
}

// BlockState is the per-key block-transfer bookkeeping: the invariants in
// spec §3 hold for every instance reachable from the cache.
type BlockState struct {
	lastRequestBlock2 *blockcodec.BlockValue
	cachedResponse    *cachedResponse
}

// RequestCacheKey is the tuple (method code, path segments, requester
// endpoint identity) identifying one logical transfer, regardless of the
// token used on any individual request within it.
type RequestCacheKey struct {
	Code     codes.Code
	Path     string
	Endpoint string
}

func keyFor(req *coreapi.Request) RequestCacheKey {
	var endpoint string
	if req.Endpoint != nil {
		endpoint = req.Endpoint.String()
	}
	return RequestCacheKey{
		Code:     req.Code,
		Path:     req.Path.String(),
		Endpoint: endpoint,
	}
}

// BlockHandler is the stateful half of the RFC 7959 engine: an LRU,
// time-expired cache of BlockState guarded by a single exclusive lock, as
// spec §4.2's thread-safety section requires (critical sections limited to
// lookup/read/write; handler execution itself happens outside the lock).
type BlockHandler struct {
	config Config
	log    *logrus.Entry

	mu    sync.Mutex
	cache *ttlLRU

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// New constructs a BlockHandler with the given configuration.
func New(config Config) *BlockHandler {
	return &BlockHandler{
		config: config,
		log:    logrus.WithField("component", "blockhandler"),
		cache:  newTTLLRU(config.CacheExpiryDuration),
	}
}

// InterceptRequest fetches or creates the BlockState for this request's
// key and records the client's Block2 option, if any. If the client asked
// for a non-zero block and a cached response already exists, it serves
// that block directly into resp and reports served=true: the router must
// not invoke the resource handler in that case.
func (h *BlockHandler) InterceptRequest(ctx context.Context, req *coreapi.Request, resp *coreapi.Response) (served bool, err *coreapi.HandlingError) {
	h.mu.Lock()
	state := h.cache.getOrCreate(keyFor(req))

	var block2 *blockcodec.BlockValue
	if raw, ok := firstOption(req.Options, message.Block2); ok {
		if v, decErr := blockcodec.Decode(raw); decErr == nil {
			block2 = &v
		} else {
			h.log.WithError(decErr).Debug("malformed Block2 option on request, ignoring")
		}
	}
	state.lastRequestBlock2 = block2

	cached := state.cachedResponse
	h.mu.Unlock()

	if block2 == nil || block2.Num == 0 || cached == nil {
		return false, nil
	}

	if hErr := h.serveCached(resp, *block2, cached); hErr != nil {
		return true, hErr
	}
	return true, nil
}

// InterceptResponse runs after the resource handler has populated resp.
// If the handler already set Block2 itself, nothing happens (manual
// fragmentation). Otherwise, if the response is oversized, it negotiates a
// block size, caches the full response and rewrites resp in place to
// carry only one block: block 0, or the block number the client's request
// asked for.
func (h *BlockHandler) InterceptResponse(ctx context.Context, req *coreapi.Request, resp *coreapi.Response) (fragmented bool, err *coreapi.HandlingError) {
	if resp.HasOption(message.Block2) {
		return false, nil
	}

	h.mu.Lock()
	state := h.cache.getOrCreate(keyFor(req))
	lastBlock2 := state.lastRequestBlock2
	h.mu.Unlock()

	totalSize := estimateMessageSize(resp)
	block2, ok := h.maybeSynthesizeBlock2(lastBlock2, totalSize, len(resp.Payload))
	if !ok {
		return false, nil
	}

	cached := newCachedResponse(resp)

	h.mu.Lock()
	state.cachedResponse = cached
	h.mu.Unlock()

	if hErr := h.serveCached(resp, block2, cached); hErr != nil {
		return false, hErr
	}
	return true, nil
}

// maybeSynthesizeBlock2 decides whether response fragmentation is needed
// and, if so, what the first synthetic Block2 request (the one used to
// serve block 0, or whatever block the client had already asked for) looks
// like.
func (h *BlockHandler) maybeSynthesizeBlock2(lastBlock2 *blockcodec.BlockValue, totalSize, payloadSize int) (blockcodec.BlockValue, bool) {
	if totalSize <= h.config.MaxTotalMessageSize {
		return blockcodec.BlockValue{}, false
	}

	nonPayloadSize := (totalSize + block2OptionMaxLength) - payloadSize
	suggestedBlockSize := h.config.MaxTotalMessageSize - nonPayloadSize
	if suggestedBlockSize <= 0 {
		h.log.Warn("no room left for payload after accounting for options, aborting fragmentation")
		return blockcodec.BlockValue{}, false
	}

	clientSuggested := suggestedBlockSize
	num := 0
	if lastBlock2 != nil {
		clientSuggested = lastBlock2.Size()
		num = int(lastBlock2.Num)
	}
	negotiated := suggestedBlockSize
	if clientSuggested < negotiated {
		negotiated = clientSuggested
	}

	block2, err := blockcodec.New(num, false, negotiated)
	if err != nil {
		h.log.WithError(err).Warnf("cannot convert block size %d to a size exponent, aborting fragmentation", negotiated)
		return blockcodec.BlockValue{}, false
	}
	return block2, true
}

// serveCached rewrites resp in place to carry the requested chunk of
// cachedResponse: all header fields except message ID (owned by the
// transport layer, not touched here) and payload are cloned from the
// cache, then the selected chunk and a recomputed Block2 option are set.
func (h *BlockHandler) serveCached(resp *coreapi.Response, reqBlock2 blockcodec.BlockValue, cached *cachedResponse) *coreapi.HandlingError {
	resp.Code = cached.code
	resp.ContentFormat = cached.contentFormat
	resp.Options = append(message.Options{}, cached.options...)

	chunk, more, err := cached.chunk(int(reqBlock2.Num), reqBlock2.Size())
	if err != nil {
		h.cacheMisses.Inc()
		return coreapi.BadRequest(err.Error())
	}
	h.cacheHits.Inc()

	resp.Payload = chunk
	respBlock2 := blockcodec.BlockValue{Num: reqBlock2.Num, More: more, SizeExponent: reqBlock2.SizeExponent}
	resp.SetOption(message.Block2, respBlock2.Encode())
	return nil
}

// estimateMessageSize approximates the on-wire size of resp: header, the
// TLV overhead of every entry in Options, and payload (plus the CoAP 0xFF
// payload marker when a payload is present). The token and ContentFormat
// are not part of the estimate. This mirrors
// compute_message_size from the original block handler closely enough to
// drive the same fragmentation decision.
func estimateMessageSize(resp *coreapi.Response) int {
	const headerSize = 4
	const payloadMarker = 1

	size := headerSize
	for _, opt := range resp.Options {
		size += 2 + len(opt.Value) // conservative flat TLV overhead estimate
	}
	if len(resp.Payload) > 0 {
		size += payloadMarker
	}
	size += len(resp.Payload)
	return size
}

func firstOption(opts message.Options, id message.OptionID) ([]byte, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o.Value, true
		}
	}
	return nil, false
}

// ttlLRU is a least-recently-touched cache with time-based expiry, bumped
// on every access, evicted best-effort. Implemented directly over
// container/list rather than a generic LRU library because eviction here
// needs to peek the oldest entry's last-touch time without removing it
// first (to stop sweeping as soon as an entry is still live) -- a shape
// the available ecosystem LRU caches (built for pure capacity eviction)
// don't expose; container/list is the same backing structure those
// libraries use internally.
type ttlLRU struct {
	ttl   time.Duration
	mu    sync.Mutex
	ll    *list.List
	items map[RequestCacheKey]*list.Element
}

type ttlLRUEntry struct {
	key       RequestCacheKey
	state     *BlockState
	touchedAt time.Time
}

func newTTLLRU(ttl time.Duration) *ttlLRU {
	return &ttlLRU{
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[RequestCacheKey]*list.Element),
	}
}

// getOrCreate returns the BlockState for key, creating it if absent, and
// bumps its position to the front (most recently touched). Call sites must
// hold BlockHandler.mu.
func (c *ttlLRU) getOrCreate(key RequestCacheKey) *BlockState {
	c.evictExpired()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*ttlLRUEntry)
		entry.touchedAt = time.Now()
		return entry.state
	}

	entry := &ttlLRUEntry{key: key, state: &BlockState{}, touchedAt: time.Now()}
	el := c.ll.PushFront(entry)
	c.items[key] = el
	return entry.state
}

// evictExpired drops entries from the back (least recently touched) of the
// list until either the list is empty or the oldest remaining entry is
// still within TTL. Because the list is ordered by recency, once an entry
// is found to be live, everything in front of it is too.
func (c *ttlLRU) evictExpired() {
	now := time.Now()
	for {
		back := c.ll.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*ttlLRUEntry)
		if now.Sub(entry.touchedAt) <= c.ttl {
			return
		}
		c.ll.Remove(back)
		delete(c.items, entry.key)
	}
}
