package featuresort

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RenderFunc produces one Feature at a time for ingestion, returning
// ok=false once there is no more work. It must be safe to call from
// multiple goroutines concurrently when Parallelism > 1 (§4.H "a
// producer pool rendering features").
type RenderFunc func(ctx context.Context) (f Feature, ok bool, err error)

// TileSink receives fully post-processed, per-layer tiles in the order
// the consumer emits them: ascending encoded tile id (§5).
type TileSink interface {
	WriteTile(coord TileCoord, tileID uint32, layers []EncodedLayer) error
}

// PipelineConfig wires the driver described in §4.H.
type PipelineConfig struct {
	Encoder     *FeatureEncoder
	Sorter      *ExternalSorter
	Profile     Profile
	Stats       Stats
	Sink        TileSink
	Parallelism int // producer goroutines; 0 means 1
}

// Pipeline owns a producer pool, a FeatureGroup, and a consumer that
// iterates TileFeatures and serialises each via sink (§4.H). Back
// pressure is enforced entirely by the sorter's own in-memory chunk
// budget: Ingest never buffers features beyond what Accept/Add already
// does.
type Pipeline struct {
	encoder     *FeatureEncoder
	group       *FeatureGroup
	sink        TileSink
	stats       Stats
	parallelism int
}

// NewPipeline constructs a driver over cfg. A nil cfg.Stats uses
// NoopStats.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	stats := cfg.Stats
	if stats == nil {
		stats = NoopStats{}
	}
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Pipeline{
		encoder:     cfg.Encoder,
		group:       NewFeatureGroup(cfg.Sorter, cfg.Encoder, cfg.Profile, stats),
		sink:        cfg.Sink,
		stats:       stats,
		parallelism: parallelism,
	}
}

// Ingest runs the producer pool: each of Parallelism goroutines calls
// render repeatedly, encoding and accepting every feature into the
// sorter, until render returns ok=false or an error. Each goroutine
// encodes through its own *FeatureEncoder built from p.encoder's shared
// dictionaries — a FeatureEncoder's pack buffer and last-value
// memoisation are unsynchronized per-call state, so sharing a single one
// across producer goroutines would race; the dictionaries themselves
// serialize their own access and are safe to share. ctx is polled before
// every render call, approximating §5 cancellation point (a) ("between
// sort chunks") at the granularity this package exposes without
// reopening ExternalSorter's accept loop to a context param.
func (p *Pipeline) Ingest(ctx context.Context, render RenderFunc) error {
	layerDict, attrDict := p.encoder.Dictionaries()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.parallelism; i++ {
		g.Go(func() error {
			enc := NewFeatureEncoder(layerDict, attrDict)
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				f, ok, err := render(gctx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				sf, err := enc.Encode(f)
				if err != nil {
					return fmt.Errorf("featuresort: encoding feature: %w", err)
				}
				if err := p.group.Accept(sf); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// Run prepares the group, then drains TileFeatures in ascending
// tile-id order, polling ctx between tiles (§5 cancellation point (b))
// and writing each post-processed tile to sink.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.group.Prepare(); err != nil {
		return err
	}

	it, err := p.group.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		tf := it.TileFeatures()
		layers, err := tf.GetVectorTileEncoder()
		if err != nil {
			return err
		}
		if err := p.sink.WriteTile(tf.TileCoord, tf.TileID, layers); err != nil {
			return err
		}
	}
	return it.Err()
}

// Stats returns the underlying FeatureGroup's running counters.
func (p *Pipeline) Stats() FeatureGroupStats {
	return p.group.Stats()
}
