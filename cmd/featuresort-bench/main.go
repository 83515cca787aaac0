package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/protomaps/go-featuresort/featuresort"
	"github.com/schollz/progressbar/v3"
)

var cli struct {
	NumFeatures int     `help:"number of synthetic features to generate." default:"1000000"`
	NumTiles    int     `help:"number of distinct tiles to spread features across." default:"256"`
	Zoom        int     `help:"zoom level the synthetic tiles belong to." default:"12"`
	ChunkBudget int     `help:"external sort in-memory chunk budget, in bytes." default:"67108864"`
	Parallelism int     `help:"producer goroutines." default:"4"`
	LineClip    float64 `help:"line clip radius in tile pixels; 0 disables." default:"4"`
	PolyMinDist float64 `help:"polygon proximity-merge distance." default:"2"`
	PolyBuffer  float64 `help:"polygon buffer/unbuffer distance." default:"1"`
	TempDir     string  `help:"scratch directory for sort spill files." default:"."`
}

func main() {
	kong.Parse(&cli,
		kong.Description("generates synthetic features and drives them through the intermediate feature pipeline, reporting throughput."),
	)

	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	if err := run(logger); err != nil {
		logger.Fatalf("bench run failed: %v", err)
	}
}

func run(logger *log.Logger) error {
	tempDir, err := os.MkdirTemp(cli.TempDir, "featuresort-bench-")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	layerDict := featuresort.NewCommonStringEncoder("layer")
	attrDict := featuresort.NewCommonStringEncoder("attr")
	encoder := featuresort.NewFeatureEncoder(layerDict, attrDict)

	sorter := featuresort.NewExternalSorter(featuresort.SorterConfig{
		TempDir:           tempDir,
		ChunkMemoryBudget: cli.ChunkBudget,
		Parallelism:       cli.Parallelism,
	})

	zapLogger, err := featuresort.NewProductionZapLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	stats := featuresort.NewLoggingStats(zapLogger)

	profile := featuresort.DefaultProfile{
		Lines:    featuresort.LineMergeParams{Clip: cli.LineClip, TileExtent: 256},
		Polygons: featuresort.PolygonMergeParams{MinDist: cli.PolyMinDist, Buffer: cli.PolyBuffer},
		Stats:    stats,
	}

	sink := &logSink{logger: logger}
	pipeline := featuresort.NewPipeline(featuresort.PipelineConfig{
		Encoder:     encoder,
		Sorter:      sorter,
		Profile:     profile,
		Stats:       stats,
		Sink:        sink,
		Parallelism: cli.Parallelism,
	})

	logger.Printf("generating and ingesting %s synthetic features across %d tiles", humanize.Comma(int64(cli.NumFeatures)), cli.NumTiles)
	bar := progressbar.Default(int64(cli.NumFeatures))

	rng := rand.New(rand.NewSource(1))
	produced := 0
	render := func(ctx context.Context) (featuresort.Feature, bool, error) {
		if produced >= cli.NumFeatures {
			return featuresort.Feature{}, false, nil
		}
		f := randomFeature(rng, produced, cli.NumTiles, cli.Zoom)
		produced++
		bar.Add(1)
		return f, true, nil
	}

	start := time.Now()
	if err := pipeline.Ingest(context.Background(), render); err != nil {
		return fmt.Errorf("ingesting features: %w", err)
	}
	ingestElapsed := time.Since(start)

	runStart := time.Now()
	if err := pipeline.Run(context.Background()); err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	runElapsed := time.Since(runStart)

	s := pipeline.Stats()
	logger.Printf("ingest: %s in %s (%s/s)", humanize.Comma(int64(cli.NumFeatures)), ingestElapsed, humanize.Comma(int64(float64(cli.NumFeatures)/ingestElapsed.Seconds())))
	logger.Printf("group+post-process: %d tiles emitted, %s features processed, %s features kept in %s",
		sink.tileCount, humanize.Comma(s.NumFeaturesProcessed), humanize.Comma(s.NumFeaturesToEmit), runElapsed)
	return nil
}

func randomFeature(rng *rand.Rand, id, numTiles, zoom int) featuresort.Feature {
	dim := 1 << uint(zoom)
	t := rng.Intn(numTiles)
	tileID, err := featuresort.EncodeTileCoord(featuresort.TileCoord{
		Z: uint8(zoom), X: uint32(t / dim % dim), Y: uint32(t % dim),
	})
	if err != nil {
		tileID = uint32(id % numTiles)
	}

	layers := []string{"roads", "buildings", "water", "landuse"}
	layer := layers[rng.Intn(len(layers))]

	switch rng.Intn(3) {
	case 0:
		return featuresort.Feature{
			Layer: layer, TileID: tileID, ZOrder: int32(rng.Intn(1000)), FeatureID: int64(id),
			GeomType: featuresort.GeomPoint, Geometry: orb.Point{rng.Float64() * 256, rng.Float64() * 256},
			Attrs: map[string]any{"class": "poi"},
		}
	case 1:
		x0, y0 := rng.Float64()*200, rng.Float64()*200
		return featuresort.Feature{
			Layer: layer, TileID: tileID, ZOrder: int32(rng.Intn(1000)), FeatureID: int64(id),
			GeomType: featuresort.GeomLine,
			Geometry: orb.LineString{{x0, y0}, {x0 + rng.Float64()*50, y0 + rng.Float64()*50}},
			Attrs:    map[string]any{"class": "primary"},
		}
	default:
		x0, y0 := rng.Float64()*200, rng.Float64()*200
		size := 5 + rng.Float64()*20
		ring := orb.Ring{{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0}}
		return featuresort.Feature{
			Layer: layer, TileID: tileID, ZOrder: int32(rng.Intn(1000)), FeatureID: int64(id),
			GeomType: featuresort.GeomPolygon, Geometry: orb.Polygon{ring},
			Attrs:    map[string]any{"class": "park"},
		}
	}
}

type logSink struct {
	logger    *log.Logger
	tileCount int
}

func (s *logSink) WriteTile(coord featuresort.TileCoord, tileID uint32, layers []featuresort.EncodedLayer) error {
	s.tileCount++
	if s.tileCount%5000 == 0 {
		s.logger.Printf("emitted tile %d/%d/%d (id=%d)", coord.Z, coord.X, coord.Y, tileID)
	}
	return nil
}
