package material

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"brand-camera-server/modules/common/config"
	"brand-camera-server/modules/common/utils"
)

// ErrUnresolved is logged when a reference could not be turned into image bytes.
var ErrUnresolved = errors.New("material could not be resolved")

const maxMaterialBytes = 25 << 20

var presetExtensions = []string{".jpg", ".png"}

// Options configures a Resolver.
type Options struct {
	HTTPClient    *http.Client
	PresetBaseURL string
	PresetCounts  map[string]int
	MaxAttempts   int
	Timeout       time.Duration
	Rand          *rand.Rand
}

// Resolver turns a Ref into image bytes. It never returns an error to the
// caller: failures are logged and reported as ok=false.
type Resolver struct {
	httpClient    *http.Client
	presetBaseURL string
	presetCounts  map[string]int
	maxAttempts   int
	timeout       time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewResolver(opts Options) *Resolver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	base := opts.PresetBaseURL
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Resolver{
		httpClient:    opts.HTTPClient,
		presetBaseURL: base,
		presetCounts:  opts.PresetCounts,
		maxAttempts:   opts.MaxAttempts,
		timeout:       opts.Timeout,
		rand:          opts.Rand,
	}
}

// NewResolverFromConfig - 설정값으로 Resolver 생성
func NewResolverFromConfig(cfg *config.Config) *Resolver {
	return NewResolver(Options{
		PresetBaseURL: cfg.PresetBaseURL,
		PresetCounts:  cfg.PresetCounts,
		MaxAttempts:   cfg.RandomPresetAttempts,
		Timeout:       cfg.MaterialFetchTimeout,
	})
}

// Resolve is the single place where every reference kind is handled.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*Material, bool) {
	var (
		m   *Material
		err error
	)

	switch ref.Kind() {
	case KindUnspecified:
		return nil, false
	case KindInline:
		m, err = decodeInline(ref.Value())
	case KindURL:
		m, err = r.fetch(ctx, ref.Value())
	case KindPreset:
		m, err = r.resolvePreset(ctx, ref.Category(), ref.Value())
	case KindRandom:
		m, err = r.resolveRandom(ctx, ref.Category())
	default:
		err = fmt.Errorf("unknown reference kind %d", ref.Kind())
	}

	if err != nil {
		log.Warn().Str("ref", ref.Describe()).Err(err).Msg("⚠️ [Material] Failed to resolve")
		return nil, false
	}
	return m, true
}

// PresetURL builds the public URL of a preset asset.
func (r *Resolver) PresetURL(category, name string) string {
	return r.presetBaseURL + path.Join(category, name)
}

func decodeInline(value string) (*Material, error) {
	data, mimeType, err := utils.DecodeBase64Image(value)
	if err != nil {
		return nil, err
	}
	return &Material{Data: data, MIMEType: mimeType}, nil
}

func (r *Resolver) resolvePreset(ctx context.Context, category, id string) (*Material, error) {
	if category == "" {
		return nil, fmt.Errorf("%w: preset %q has no category", ErrUnresolved, id)
	}
	if path.Ext(id) != "" {
		return r.fetch(ctx, r.PresetURL(category, id))
	}

	var lastErr error
	for _, ext := range presetExtensions {
		m, err := r.fetch(ctx, r.PresetURL(category, id+ext))
		if err == nil {
			return m, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: preset %s/%s: %v", ErrUnresolved, category, id, lastErr)
}

// resolveRandom probes at most maxAttempts candidate files.
func (r *Resolver) resolveRandom(ctx context.Context, category string) (*Material, error) {
	count := r.presetCounts[category]
	if count <= 0 {
		return nil, fmt.Errorf("%w: no presets registered for category %q", ErrUnresolved, category)
	}

	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		n := r.intn(count) + 1
		name := fmt.Sprintf("%d%s", n, presetExtensions[attempt%len(presetExtensions)])
		m, err := r.fetch(ctx, r.PresetURL(category, name))
		if err == nil {
			log.Debug().Msgf("🎲 [Material] Random %s resolved to %s (attempt %d)", category, name, attempt+1)
			return m, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: random %s after %d attempts: %v", ErrUnresolved, category, r.maxAttempts, lastErr)
}

func (r *Resolver) intn(n int) int {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.Intn(n)
}

func (r *Resolver) fetch(ctx context.Context, url string) (*Material, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMaterialBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body from %s", url)
	}

	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = utils.DetectMIME(data)
	}
	return &Material{Data: data, MIMEType: mimeType, SourceURL: url}, nil
}
