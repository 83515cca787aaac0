package featuresort

// DefaultProfile wires PostProcessLines and PostProcessPolygons together
// as the stock per-layer post-processor: lines go through merge+clip,
// polygons through proximity merge, points pass through untouched. A
// real deployment typically supplies its own Profile keyed by layer
// schema; this one exists for callers (and the bench driver) that just
// want the two geometric post-processors without per-layer tuning.
type DefaultProfile struct {
	Lines    LineMergeParams
	Polygons PolygonMergeParams
	Stats    Stats
}

func (p DefaultProfile) PostProcessLayerFeatures(layer string, zoom uint8, features []DecodedFeature) ([]DecodedFeature, error) {
	afterLines, err := PostProcessLines(features, p.Lines, p.Stats)
	if err != nil {
		return nil, err
	}
	return PostProcessPolygons(afterLines, p.Polygons, p.Stats)
}

var _ Profile = DefaultProfile{}
